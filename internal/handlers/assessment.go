package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/ieraasyl/PsoriScan/pkg/utils"
)

// AssessmentService is the questionnaire store surface used by
// AssessmentHandler.
type AssessmentService interface {
	UpdateSection(section string, fields map[string]any) error
	GetFullSnapshot() models.Snapshot
	Reset()
}

// AssessmentHandler serves the three questionnaire screens. Each screen
// patches its own section; the aggregate is read back as a snapshot.
type AssessmentHandler struct {
	store AssessmentService
}

// NewAssessmentHandler creates a questionnaire handler.
func NewAssessmentHandler(store AssessmentService) *AssessmentHandler {
	return &AssessmentHandler{store: store}
}

// Get returns the current answers of all three sections.
//
// Response:
//
//	{
//	  "demographics": {"age": "34", "gender": "female", "symptoms": [], ...},
//	  "onset": {"onsetTime": "", "redness": 0, ...},
//	  "impact": {"dailyImpact": "", ...},
//	  "generatedAt": "2024-01-20T14:30:00Z"
//	}
func (h *AssessmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusOK, h.store.GetFullSnapshot())
}

// UpdateSection merges the body into one section and returns the new
// snapshot. Unknown sections or fields and out-of-range severities answer
// 400 and change nothing.
//
// Example request:
//
//	PATCH /api/v1/assessment/impact
//	{"dailyImpact": "severe"}
func (h *AssessmentHandler) UpdateSection(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if !decodeJSON(w, r, &fields) {
		return
	}

	if err := h.store.UpdateSection(chi.URLParam(r, "section"), fields); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, h.store.GetFullSnapshot())
}

// Reset discards every answer.
func (h *AssessmentHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.store.Reset()
	utils.RespondWithMessage(w, r, http.StatusOK, "Assessment reset")
}
