package services

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/ieraasyl/PsoriScan/internal/testutil"
	"github.com/ieraasyl/PsoriScan/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAssessmentStore(t *testing.T) (*AssessmentStore, *cache.Cache, *miniredis.Miniredis) {
	t.Helper()

	c, mr := testutil.NewTestCache(t)
	store := NewAssessmentStore(c)
	t.Cleanup(store.Close)
	return store, c, mr
}

func storedAssessment(t *testing.T, c *cache.Cache, owner string) models.Assessment {
	t.Helper()

	var a models.Assessment
	require.NoError(t, c.Get(context.Background(), cache.AssessmentKey(owner), &a))
	return a
}

func TestAssessmentDefaults(t *testing.T) {
	store, _, _ := setupAssessmentStore(t)

	snap := store.GetFullSnapshot()
	assert.Equal(t, models.NewAssessment(), snap.Assessment)
	assert.NotNil(t, snap.Demographics.Symptoms)
	assert.Equal(t, 0, snap.Onset.Redness)
	assert.Equal(t, "", store.Owner())
	assert.False(t, snap.GeneratedAt.IsZero())
}

func TestUpdateSection(t *testing.T) {
	store, c, _ := setupAssessmentStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateSection(models.SectionDemographics, map[string]any{"age": "34", "itching": 6}))
	before := store.GetFullSnapshot()

	t.Run("only the named section changes", func(t *testing.T) {
		require.NoError(t, store.UpdateSection(models.SectionImpact, map[string]any{"dailyImpact": "severe"}))

		after := store.GetFullSnapshot()
		assert.Equal(t, "severe", after.Impact.DailyImpact)
		assert.Equal(t, before.Demographics, after.Demographics)
		assert.Equal(t, before.Onset, after.Onset)
	})

	t.Run("fields not named keep their values", func(t *testing.T) {
		require.NoError(t, store.UpdateSection(models.SectionDemographics, map[string]any{"gender": "female"}))

		d := store.GetFullSnapshot().Demographics
		assert.Equal(t, "34", d.Age)
		assert.Equal(t, "female", d.Gender)
		assert.Equal(t, 6, d.Itching)
	})

	t.Run("two quick updates are both durable after flush", func(t *testing.T) {
		require.NoError(t, store.UpdateSection(models.SectionOnset, map[string]any{"onsetTime": "1-5 years"}))
		require.NoError(t, store.UpdateSection(models.SectionOnset, map[string]any{"redness": 7}))
		require.NoError(t, store.Flush(ctx))

		stored := storedAssessment(t, c, "")
		assert.Equal(t, "1-5 years", stored.Onset.OnsetTime)
		assert.Equal(t, 7, stored.Onset.Redness)
		assert.Equal(t, "severe", stored.Impact.DailyImpact)
	})
}

func TestUpdateSectionValidation(t *testing.T) {
	store, _, _ := setupAssessmentStore(t)

	require.NoError(t, store.UpdateSection(models.SectionOnset, map[string]any{"redness": 3}))
	before := store.GetFullSnapshot().Assessment

	tests := []struct {
		name    string
		section string
		fields  map[string]any
	}{
		{"unknown section", "lifestyle", map[string]any{"smoking": "no"}},
		{"unknown field", models.SectionOnset, map[string]any{"colour": "red"}},
		{"mistyped value", models.SectionOnset, map[string]any{"redness": "very"}},
		{"severity above range", models.SectionOnset, map[string]any{"redness": 11}},
		{"severity below range", models.SectionDemographics, map[string]any{"pain": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.UpdateSection(tt.section, tt.fields)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, before, store.GetFullSnapshot().Assessment)
		})
	}

	t.Run("boundaries are accepted", func(t *testing.T) {
		assert.NoError(t, store.UpdateSection(models.SectionOnset, map[string]any{"redness": 10, "scaling": 0}))
	})
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	store, _, _ := setupAssessmentStore(t)

	require.NoError(t, store.UpdateSection(models.SectionDemographics, map[string]any{
		"symptoms": []string{"scaling"},
	}))

	snap := store.GetFullSnapshot()
	snap.Demographics.Symptoms[0] = "tampered"
	snap.Demographics.Symptoms = append(snap.Demographics.Symptoms, "extra")
	snap.Impact.Notes = "tampered"

	fresh := store.GetFullSnapshot()
	assert.Equal(t, []string{"scaling"}, fresh.Demographics.Symptoms)
	assert.Empty(t, fresh.Impact.Notes)
}

func TestReset(t *testing.T) {
	store, _, mr := setupAssessmentStore(t)
	ctx := context.Background()

	for section, fields := range testutil.TestCompleteAnswers() {
		require.NoError(t, store.UpdateSection(section, fields))
	}
	require.NoError(t, store.Flush(ctx))
	require.True(t, mr.Exists(cache.AssessmentKey("")))

	store.Reset()
	assert.Equal(t, models.NewAssessment(), store.GetFullSnapshot().Assessment)

	require.NoError(t, store.Flush(ctx))
	assert.False(t, mr.Exists(cache.AssessmentKey("")))
}

func TestRestoreOnLaunch(t *testing.T) {
	ctx := context.Background()

	t.Run("stored answers are restored", func(t *testing.T) {
		store, c, _ := setupAssessmentStore(t)
		for section, fields := range testutil.TestCompleteAnswers() {
			require.NoError(t, store.UpdateSection(section, fields))
		}
		require.NoError(t, store.Flush(ctx))

		relaunched := NewAssessmentStore(c)
		t.Cleanup(relaunched.Close)
		relaunched.RestoreOnLaunch(ctx)

		assert.Equal(t, store.GetFullSnapshot().Assessment, relaunched.GetFullSnapshot().Assessment)
	})

	t.Run("missing sections keep defaults", func(t *testing.T) {
		store, _, mr := setupAssessmentStore(t)
		require.NoError(t, mr.Set(cache.AssessmentKey(""), `{"impact": {"dailyImpact": "mild"}}`))

		store.RestoreOnLaunch(ctx)

		snap := store.GetFullSnapshot()
		assert.Equal(t, "mild", snap.Impact.DailyImpact)
		assert.Equal(t, models.NewAssessment().Demographics, snap.Demographics)
		assert.NotNil(t, snap.Impact.Treatments)
	})

	t.Run("malformed record falls back to defaults", func(t *testing.T) {
		store, _, mr := setupAssessmentStore(t)
		require.NoError(t, mr.Set(cache.AssessmentKey(""), `{"demographics": `))

		store.RestoreOnLaunch(ctx)
		assert.Equal(t, models.NewAssessment(), store.GetFullSnapshot().Assessment)
	})

	t.Run("out of range record falls back to defaults", func(t *testing.T) {
		store, _, mr := setupAssessmentStore(t)
		require.NoError(t, mr.Set(cache.AssessmentKey(""), `{"onset": {"redness": 42}}`))

		store.RestoreOnLaunch(ctx)
		assert.Equal(t, models.NewAssessment(), store.GetFullSnapshot().Assessment)
	})

	t.Run("storage failure keeps defaults", func(t *testing.T) {
		store, _, mr := setupAssessmentStore(t)
		mr.SetError("storage down")
		t.Cleanup(func() { mr.SetError("") })

		store.RestoreOnLaunch(ctx)
		assert.Equal(t, models.NewAssessment(), store.GetFullSnapshot().Assessment)

		// Edits keep working in memory while storage is down.
		assert.NoError(t, store.UpdateSection(models.SectionImpact, map[string]any{"notes": "offline"}))
		assert.NoError(t, store.Flush(ctx))
		assert.Equal(t, "offline", store.GetFullSnapshot().Impact.Notes)
	})
}

func TestSetOwner(t *testing.T) {
	store, c, _ := setupAssessmentStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateSection(models.SectionDemographics, map[string]any{"age": "20"}))

	store.SetOwner(ctx, "user-1")
	assert.Equal(t, "user-1", store.Owner())
	assert.Equal(t, models.NewAssessment(), store.GetFullSnapshot().Assessment)

	// The anonymous draft was flushed before switching.
	assert.Equal(t, "20", storedAssessment(t, c, "").Demographics.Age)

	require.NoError(t, store.UpdateSection(models.SectionDemographics, map[string]any{"age": "45"}))

	store.SetOwner(ctx, "user-2")
	assert.Equal(t, models.NewAssessment(), store.GetFullSnapshot().Assessment)

	store.SetOwner(ctx, "user-1")
	assert.Equal(t, "45", store.GetFullSnapshot().Demographics.Age)

	store.SetOwner(ctx, "")
	assert.Equal(t, "20", store.GetFullSnapshot().Demographics.Age)
}

func TestFlushAfterClose(t *testing.T) {
	c, _ := testutil.NewTestCache(t)
	store := NewAssessmentStore(c)

	require.NoError(t, store.UpdateSection(models.SectionImpact, map[string]any{"notes": "last"}))
	store.Close()
	store.Close()

	assert.NoError(t, store.Flush(context.Background()))
	assert.Equal(t, "last", storedAssessment(t, c, "").Impact.Notes)
}
