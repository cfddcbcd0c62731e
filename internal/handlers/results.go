package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ieraasyl/PsoriScan/internal/backend"
	"github.com/ieraasyl/PsoriScan/internal/middleware"
	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/ieraasyl/PsoriScan/internal/services"
	"github.com/ieraasyl/PsoriScan/pkg/utils"
	"github.com/rs/zerolog/log"
)

// SubmitService runs the photo submission flow.
type SubmitService interface {
	Submit(ctx context.Context, image io.Reader, filename string) (*services.SubmitResult, error)
}

// ResultStore hands bridged results to the results view.
type ResultStore interface {
	Take(key string) (models.ResultBundle, bool)
}

// HistoryService fetches past assessments from the analysis backend.
type HistoryService interface {
	History(ctx context.Context, userID string) ([]models.HistoryEntry, error)
	Result(ctx context.Context, userID, timestamp string) (*models.AnalysisResponse, error)
}

// ResultsHandler covers analysis: uploading a photo, reading the fresh
// result once and browsing the signed-in user's history.
type ResultsHandler struct {
	submitter SubmitService
	results   ResultStore
	history   HistoryService
}

// NewResultsHandler creates the analysis handler.
//
// Example:
//
//	results := handlers.NewResultsHandler(submitter, bridge, backendClient)
//	r.Post("/api/v1/analyze", results.Analyze)
func NewResultsHandler(submitter SubmitService, results ResultStore, history HistoryService) *ResultsHandler {
	return &ResultsHandler{submitter: submitter, results: results, history: history}
}

// maxUploadBody bounds the multipart body: the image plus form overhead.
const maxUploadBody = backend.MaxImageSize + 1<<20

// Analyze accepts a multipart photo in the "file" field and submits it with
// the current questionnaire. The response carries the result key for
// GET /results/{key}.
//
// Example request:
//
//	POST /api/v1/analyze
//	Content-Type: multipart/form-data; boundary=...
//
// Response:
//
//	{"result_key": "01HN3...", "analysis": {"assessment_id": "a-1", "severity_score": 7.5, ...}}
//
// Incomplete answers answer 400 before the photo is uploaded. A slow
// backend answers 504 and keeps the answers for a retry.
func (h *ResultsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Photo is too large")
			return
		}
		utils.RespondWithError(w, r, http.StatusBadRequest, "Expected a multipart photo upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Missing photo in field \"file\"")
		return
	}
	defer file.Close()

	result, err := h.submitter.Submit(r.Context(), file, header.Filename)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, result)
}

// Result returns a bridged result and removes it. A second read, an
// expired key or an unknown key answers 404.
func (h *ResultsHandler) Result(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	bundle, ok := h.results.Take(key)
	if !ok {
		utils.RespondWithError(w, r, http.StatusNotFound, "Result not found or expired")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, bundle)
}

// History lists the signed-in user's past assessments, paged locally with
// the page and page_size query parameters.
//
// Response:
//
//	{"data": [...], "pagination": {"page": 1, "page_size": 10, "total_pages": 3, "total_items": 24, "has_next": true}}
func (h *ResultsHandler) History(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		respondWithServiceError(w, r, services.ErrNotAuthenticated)
		return
	}

	entries, err := h.history.History(r.Context(), session.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", session.UserID).Msg("Failed to fetch history")
		respondWithServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, utils.Paginate(entries, utils.ParsePageParams(r)))
}

// HistoryResult returns the detail of one past assessment.
func (h *ResultsHandler) HistoryResult(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		respondWithServiceError(w, r, services.ErrNotAuthenticated)
		return
	}

	timestamp := strings.TrimSpace(chi.URLParam(r, "timestamp"))
	if timestamp == "" {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Missing timestamp")
		return
	}

	resp, err := h.history.Result(r.Context(), session.UserID, timestamp)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, resp)
}
