package services

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/ieraasyl/PsoriScan/internal/backend"
	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/ieraasyl/PsoriScan/internal/testutil"
	"github.com/ieraasyl/PsoriScan/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, image io.Reader, filename string, questionnaire map[string]any) (*models.AnalysisResponse, error) {
	args := m.Called(ctx, image, filename, questionnaire)
	resp, _ := args.Get(0).(*models.AnalysisResponse)
	return resp, args.Error(1)
}

func setupSubmitter(t *testing.T) (*Submitter, *AssessmentStore, *ResultBridge, *mockAnalyzer) {
	t.Helper()

	store, _, _ := setupAssessmentStore(t)
	bridge := NewResultBridge(&config.BridgeConfig{})
	analyzer := &mockAnalyzer{}
	return NewSubmitter(store, analyzer, bridge), store, bridge, analyzer
}

func fillAnswers(t *testing.T, store *AssessmentStore) {
	t.Helper()
	for section, fields := range testutil.TestCompleteAnswers() {
		require.NoError(t, store.UpdateSection(section, fields))
	}
}

func TestSubmit(t *testing.T) {
	submitter, store, bridge, analyzer := setupSubmitter(t)
	fillAnswers(t, store)

	resp := &models.AnalysisResponse{
		Analysis:        models.Analysis{AssessmentID: "a-1", SeverityScore: 4.2},
		Recommendations: models.Recommendations{NextSteps: []string{"Moisturize"}},
	}
	analyzer.On("Analyze", mock.Anything, mock.Anything, "lesion.jpg", mock.MatchedBy(func(q map[string]any) bool {
		return q["age"] == "34" && q["onsetTime"] == "1-5 years" && q["dailyImpact"] == "moderate"
	})).Return(resp, nil).Once()

	result, err := submitter.Submit(context.Background(), bytes.NewReader([]byte("jpeg")), "lesion.jpg")
	require.NoError(t, err)
	analyzer.AssertExpectations(t)

	assert.NotEmpty(t, result.Key)
	assert.Equal(t, "a-1", result.Analysis.AssessmentID)

	bundle, ok := bridge.Take(result.Key)
	require.True(t, ok)
	assert.Equal(t, []string{"Moisturize"}, bundle.Recommendations.NextSteps)
	assert.False(t, bundle.CreatedAt.IsZero())

	// The questionnaire starts over after a successful submission.
	assert.Equal(t, models.NewAssessment(), store.GetFullSnapshot().Assessment)
}

func TestSubmitIncompleteAnswers(t *testing.T) {
	submitter, store, bridge, analyzer := setupSubmitter(t)
	require.NoError(t, store.UpdateSection(models.SectionDemographics, map[string]any{"age": "34"}))

	_, err := submitter.Submit(context.Background(), bytes.NewReader(nil), "a.jpg")

	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "demographics.gender")
	assert.Contains(t, err.Error(), "onset.onsetTime")
	analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, bridge.Len())
}

func TestSubmitBackendFailureKeepsAnswers(t *testing.T) {
	submitter, store, bridge, analyzer := setupSubmitter(t)
	fillAnswers(t, store)
	before := store.GetFullSnapshot().Assessment

	analyzer.On("Analyze", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, backend.ErrTimeout).Once()

	_, err := submitter.Submit(context.Background(), bytes.NewReader([]byte("jpeg")), "a.jpg")

	assert.ErrorIs(t, err, backend.ErrTimeout)
	assert.Equal(t, before, store.GetFullSnapshot().Assessment)
	assert.Equal(t, 0, bridge.Len())
}
