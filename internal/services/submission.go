package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/rs/zerolog/log"
)

// Analyzer uploads a photo with the flattened questionnaire.
type Analyzer interface {
	Analyze(ctx context.Context, image io.Reader, filename string, questionnaire map[string]any) (*models.AnalysisResponse, error)
}

// SubmitResult points at the bridged result of a submission.
type SubmitResult struct {
	Key      string          `json:"result_key"`
	Analysis models.Analysis `json:"analysis"`
}

// Submitter runs the photo submission flow: snapshot the questionnaire,
// upload it with the photo, bridge the result to the results view and start
// a fresh questionnaire.
type Submitter struct {
	store    *AssessmentStore
	analyzer Analyzer
	bridge   *ResultBridge
	now      func() time.Time
}

// NewSubmitter wires the submission flow.
func NewSubmitter(store *AssessmentStore, analyzer Analyzer, bridge *ResultBridge) *Submitter {
	return &Submitter{store: store, analyzer: analyzer, bridge: bridge, now: time.Now}
}

// Submit uploads image with the current answers. Incomplete answers return
// ErrValidation before any network call. Backend failures are returned
// unchanged and keep the questionnaire so the user can retry.
func (s *Submitter) Submit(ctx context.Context, image io.Reader, filename string) (*SubmitResult, error) {
	snapshot := s.store.GetFullSnapshot()

	if missing := snapshot.MissingRequired(); len(missing) > 0 {
		submissionsTotal.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if err := snapshot.Validate(); err != nil {
		submissionsTotal.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	resp, err := s.analyzer.Analyze(ctx, image, filename, snapshot.Flatten())
	if err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	key := NewKey()
	s.bridge.Put(key, models.ResultBundle{
		Analysis:        resp.Analysis,
		Recommendations: resp.Recommendations,
		CreatedAt:       s.now().UTC(),
	})
	s.store.Reset()
	submissionsTotal.WithLabelValues("success").Inc()

	log.Info().
		Str("result_key", key).
		Str("assessment_id", resp.Analysis.AssessmentID).
		Float64("severity_score", resp.Analysis.SeverityScore).
		Msg("Assessment submitted")

	return &SubmitResult{Key: key, Analysis: resp.Analysis}, nil
}
