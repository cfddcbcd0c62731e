// Package backend is the HTTP client for the remote analysis service: past
// assessment history, result detail and the photo upload that produces a
// new severity assessment.
//
// Every request carries the session's bearer header when one exists. Failures
// are classified so callers can offer the right remediation:
//
//	resp, err := client.Analyze(ctx, img, "lesion.jpg", snapshot.Flatten())
//	switch {
//	case errors.Is(err, backend.ErrTimeout):
//	    // upload took too long, offer retry
//	case errors.Is(err, backend.ErrUnreachable):
//	    // offline or backend down
//	}
//
// Nothing is retried automatically.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/ieraasyl/PsoriScan/pkg/config"
	"github.com/rs/zerolog/log"
)

// MaxImageSize bounds the photo accepted for upload.
const MaxImageSize = 15 << 20

var (
	// ErrTimeout is returned when a request does not complete in time.
	ErrTimeout = errors.New("backend request timed out")

	// ErrUnreachable is returned for transport failures.
	ErrUnreachable = errors.New("backend unreachable")

	// ErrImageTooLarge is returned by Analyze for photos over MaxImageSize.
	ErrImageTooLarge = errors.New("image too large")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Authorizer supplies the headers that authenticate a request. An empty
// header means anonymous.
type Authorizer interface {
	GetAuthorizationHeader(ctx context.Context) http.Header
}

// Client talks to the analysis backend.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	auth          Authorizer
	timeout       time.Duration
	uploadTimeout time.Duration
}

// NewClient creates a backend client. A nil httpClient uses a client
// without its own timeout; deadlines come from the configured durations.
//
// Example:
//
//	client := backend.NewClient(&cfg.Backend, sessions, nil)
//	history, err := client.History(ctx, session.UserID)
func NewClient(cfg *config.BackendConfig, auth Authorizer, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    httpClient,
		auth:          auth,
		timeout:       cfg.Timeout,
		uploadTimeout: cfg.UploadTimeout,
	}
}

// History lists the user's past assessments, newest first as returned by the
// backend.
func (c *Client) History(ctx context.Context, userID string) ([]models.HistoryEntry, error) {
	path := "/questionnaire/history/" + url.PathEscape(userID)

	var raw json.RawMessage
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}
	return decodeHistory(raw)
}

// Result fetches the full detail of one past assessment.
func (c *Client) Result(ctx context.Context, userID, timestamp string) (*models.AnalysisResponse, error) {
	path := "/questionnaire/result/" + url.PathEscape(userID) + "/" + url.PathEscape(timestamp)

	var resp models.AnalysisResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Analyze uploads a photo with the flattened questionnaire. The whole
// exchange is bounded by the upload timeout; exceeding it yields ErrTimeout.
func (c *Client) Analyze(ctx context.Context, image io.Reader, filename string, questionnaire map[string]any) (*models.AnalysisResponse, error) {
	imageData, err := io.ReadAll(io.LimitReader(image, MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(imageData) > MaxImageSize {
		return nil, ErrImageTooLarge
	}

	body, contentType, err := encodeUpload(imageData, filename, questionnaire)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze/", body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	var resp models.AnalysisResponse
	if err := c.do(ctx, req, &resp); err != nil {
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Analysis upload failed")
		return nil, err
	}

	log.Info().
		Str("assessment_id", resp.Analysis.AssessmentID).
		Int("image_bytes", len(imageData)).
		Dur("elapsed", time.Since(start)).
		Msg("Analysis completed")

	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := c.withTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(ctx, req, out)
}

// do sends req with authorization and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		for k, values := range c.auth.GetAuthorizationHeader(ctx) {
			for _, v := range values {
				req.Header.Add(k, v)
			}
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return classifyTransport(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func encodeUpload(image []byte, filename string, questionnaire map[string]any) (*bytes.Buffer, string, error) {
	if filename == "" {
		filename = "photo.jpg"
	}
	filename = filepath.Base(filename)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", http.DetectContentType(image))
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("encode image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("encode image part: %w", err)
	}

	q, err := json.Marshal(questionnaire)
	if err != nil {
		return nil, "", fmt.Errorf("encode questionnaire: %w", err)
	}
	if err := mw.WriteField("questionnaire", string(q)); err != nil {
		return nil, "", fmt.Errorf("encode questionnaire: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("encode upload: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// errorMessage extracts a human message from an error body. FastAPI style
// {"detail": ...} and {"error"|"message": ...} bodies are understood.
func errorMessage(data []byte, status string) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		var detail string
		if json.Unmarshal(body.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
		if len(body.Detail) > 0 {
			return string(body.Detail)
		}
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return status
	}
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}

func decodeHistory(raw json.RawMessage) ([]models.HistoryEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []models.HistoryEntry{}, nil
	}

	var entries []models.HistoryEntry
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		return entries, nil
	}

	var wrapped struct {
		History []models.HistoryEntry `json:"history"`
		Results []models.HistoryEntry `json:"results"`
		Items   []models.HistoryEntry `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	switch {
	case wrapped.History != nil:
		entries = wrapped.History
	case wrapped.Results != nil:
		entries = wrapped.Results
	default:
		entries = wrapped.Items
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return entries, nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
