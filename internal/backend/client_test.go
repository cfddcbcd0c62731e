package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ieraasyl/PsoriScan/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAuth struct{ token string }

func (a staticAuth) GetAuthorizationHeader(ctx context.Context) http.Header {
	if a.token == "" {
		return http.Header{}
	}
	return http.Header{"Authorization": []string{"Bearer " + a.token}}
}

func newTestClient(t *testing.T, handler http.Handler, auth Authorizer, uploadTimeout time.Duration) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(&config.BackendConfig{
		BaseURL:       srv.URL + "/",
		Timeout:       2 * time.Second,
		UploadTimeout: uploadTimeout,
	}, auth, srv.Client())
}

// pngHeader is enough for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestAnalyze(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer id-token", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, pngHeader, data)
		assert.Equal(t, "lesion.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))

		var q map[string]any
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("questionnaire")), &q))
		assert.Equal(t, "severe", q["dailyImpact"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"assessment_id": "a-1", "pasi_score": 7.5, "diagnosis": "plaque psoriasis",
			"annotated_image_url": "https://img/a-1.png", "recommendations": {"next_steps": ["see a dermatologist"]}}`))
	})

	client := newTestClient(t, mux, staticAuth{token: "id-token"}, 5*time.Second)

	resp, err := client.Analyze(context.Background(), bytes.NewReader(pngHeader), "../lesion.png",
		map[string]any{"dailyImpact": "severe"})
	require.NoError(t, err)

	assert.Equal(t, "a-1", resp.Analysis.AssessmentID)
	assert.Equal(t, 7.5, resp.Analysis.SeverityScore)
	assert.Equal(t, "https://img/a-1.png", resp.Analysis.AnnotatedImage)
	assert.Equal(t, []string{"see a dermatologist"}, resp.Recommendations.NextSteps)
}

func TestAnalyzeTimeout(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	client := newTestClient(t, handler, nil, 100*time.Millisecond)

	start := time.Now()
	_, err := client.Analyze(context.Background(), bytes.NewReader(pngHeader), "a.png", map[string]any{})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestAnalyzeImageTooLarge(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler(), nil, time.Second)

	_, err := client.Analyze(context.Background(), bytes.NewReader(make([]byte, MaxImageSize+1)), "a.jpg", nil)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestAPIErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail": "No skin region detected"}`))
	})
	mux.HandleFunc("GET /questionnaire/result/u1/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	client := newTestClient(t, mux, nil, time.Second)

	_, err := client.Analyze(context.Background(), bytes.NewReader(pngHeader), "a.png", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "No skin region detected", apiErr.Message)

	_, err = client.Result(context.Background(), "u1", "missing")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not found", apiErr.Message)
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(&config.BackendConfig{BaseURL: url, Timeout: time.Second}, nil, nil)

	_, err := client.History(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestHistory(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id": "h1", "score": 2}, {"timestamp": "2024-01-01T00:00:00Z"}]`, 2},
		{"wrapped", `{"history": [{"assessment_id": "h1"}]}`, 1},
		{"wrapped items", `{"items": []}`, 0},
		{"null", `null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /questionnaire/history/{user}", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "user@1", r.PathValue("user"))
				assert.Empty(t, r.Header.Get("Authorization"))
				w.Write([]byte(tt.body))
			})
			client := newTestClient(t, mux, staticAuth{}, time.Second)

			entries, err := client.History(context.Background(), "user@1")
			require.NoError(t, err)
			assert.NotNil(t, entries)
			assert.Len(t, entries, tt.want)
		})
	}
}

func TestResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /questionnaire/result/u1/1704067200", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"timestamp": 1704067200, "severity_score": 3, "recommendations": "Moisturize daily."}`))
	})
	client := newTestClient(t, mux, nil, time.Second)

	resp, err := client.Result(context.Background(), "u1", "1704067200")
	require.NoError(t, err)
	assert.Equal(t, "1704067200", resp.Analysis.AssessmentID)
	assert.Equal(t, 3.0, resp.Analysis.SeverityScore)
	assert.Equal(t, "Moisturize daily.", resp.Recommendations.Summary)
}
