package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ieraasyl/PsoriScan/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	mr := testutil.SetupMiniRedis(t)
	limiter := NewRateLimiter(testutil.NewTestRedisDB(t, mr), 2, time.Minute)
	handler := limiter.Limit("analyze")(okHandler())

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/analyze", nil)
		req.RemoteAddr = ip + ":4321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("allows requests within the limit", func(t *testing.T) {
		rec := send("10.0.0.1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

		assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	})

	t.Run("rejects requests over the limit", func(t *testing.T) {
		rec := send("10.0.0.1")
		testutil.AssertStatusCode(t, rec, http.StatusTooManyRequests)
		testutil.AssertJSONContentType(t, rec)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("counts clients separately", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
	})

	t.Run("window expiry resets the counter", func(t *testing.T) {
		mr.FastForward(time.Minute)
		assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	})
}

type failingCounter struct{}

func (failingCounter) IncrementRateLimit(ctx context.Context, ip, endpoint string, window time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func TestRateLimiterFailsOpen(t *testing.T) {
	handler := NewRateLimiter(failingCounter{}, 1, time.Minute).Limit("analyze")(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
