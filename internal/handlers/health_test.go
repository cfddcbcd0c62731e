package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ieraasyl/PsoriScan/internal/testutil"
	"github.com/stretchr/testify/assert"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	handler := NewHealthHandler(nil)

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	testutil.AssertStatusCode(t, rec, http.StatusOK)
	testutil.AssertJSONContentType(t, rec)

	var response HealthResponse
	testutil.ParseJSONResponse(t, rec, &response)
	assert.Equal(t, "ok", response.Status)
	assert.False(t, response.Timestamp.IsZero())
	assert.Nil(t, response.Services)
}

func TestReady(t *testing.T) {
	t.Run("all dependencies healthy", func(t *testing.T) {
		mr := testutil.SetupMiniRedis(t)
		handler := NewHealthHandler(map[string]Pinger{
			"redis":  testutil.NewTestRedisDB(t, mr),
			"sqlite": testutil.NewTestSQLiteDB(t),
		})

		rec := httptest.NewRecorder()
		handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		testutil.AssertStatusCode(t, rec, http.StatusOK)
		var response HealthResponse
		testutil.ParseJSONResponse(t, rec, &response)
		assert.Equal(t, "ok", response.Status)
		assert.Equal(t, map[string]string{"redis": "healthy", "sqlite": "healthy"}, response.Services)
	})

	t.Run("a failing dependency degrades readiness", func(t *testing.T) {
		handler := NewHealthHandler(map[string]Pinger{
			"redis": pingerFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
		})

		rec := httptest.NewRecorder()
		handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		testutil.AssertStatusCode(t, rec, http.StatusServiceUnavailable)
		var response HealthResponse
		testutil.ParseJSONResponse(t, rec, &response)
		assert.Equal(t, "degraded", response.Status)
		assert.Equal(t, "unhealthy", response.Services["redis"])
	})
}
