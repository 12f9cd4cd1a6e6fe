package outcome

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ablatext/ablatext/pkg/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(filepath.Join(t.TempDir(), "outcomes.db"), logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return store
}

func scoredOutcome(jobID string, attempt int, kind models.ContentKind) models.AttemptOutcome {
	return models.AttemptOutcome{
		Attempt: models.GenerationAttempt{
			JobID:         jobID,
			AttemptNumber: attempt,
			SubjectIDs:    []string{"aluminum-6061", "copper-c110"},
			Kind:          kind,
			Params: models.Params{
				Temperature: 0.9, TopP: 0.95,
				FrequencyPenalty: 0.3, PresencePenalty: 0.4,
				WordCountMin: 250, WordCountMax: 450,
			},
			Strictness: 2,
			RawOutput:  "generated text",
			Status:     models.StatusScored,
			CreatedAt:  time.Now(),
		},
		Detection: &models.DetectionResult{
			HumanScore:      72.5,
			Passed:          true,
			FeedbackPhrases: []string{"slightly formulaic"},
		},
		Subjective: &models.SubjectiveEvaluation{
			OverallScore: 7.8,
			Dimensions: models.DimensionScores{
				Clarity: 8, Professionalism: 8, TechnicalAccuracy: 7.5,
				HumanLikeness: 7.5, Engagement: 8,
			},
			PassesGate: true,
			Tendencies: []string{"passive voice"},
		},
	}
}

func structuralOutcome(jobID string, attempt int, kind models.ContentKind) models.AttemptOutcome {
	return models.AttemptOutcome{
		Attempt: models.GenerationAttempt{
			JobID:         jobID,
			AttemptNumber: attempt,
			SubjectIDs:    []string{"aluminum-6061"},
			Kind:          kind,
			Params:        models.Params{Temperature: 0.8},
			Strictness:    1,
			RawOutput:     "output with broken markers",
			Status:        models.StatusStructuralFailure,
			CreatedAt:     time.Now(),
		},
	}
}

func TestAppend_ScoredRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	want := scoredOutcome("job-1", 1, models.KindLongForm)

	if err := store.Append(ctx, want); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	got, err := store.ListByKind(ctx, models.KindLongForm)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(got))
	}

	o := got[0]
	if o.Attempt.JobID != "job-1" || o.Attempt.AttemptNumber != 1 {
		t.Errorf("attempt identity mangled: %+v", o.Attempt)
	}
	if o.Attempt.Status != models.StatusScored {
		t.Errorf("status = %s, want scored", o.Attempt.Status)
	}
	if len(o.Attempt.SubjectIDs) != 2 || o.Attempt.SubjectIDs[0] != "aluminum-6061" {
		t.Errorf("subject ids mangled: %v", o.Attempt.SubjectIDs)
	}
	if o.Attempt.Params != want.Attempt.Params {
		t.Errorf("params = %+v, want %+v", o.Attempt.Params, want.Attempt.Params)
	}
	if o.Detection == nil || o.Detection.HumanScore != 72.5 || !o.Detection.Passed {
		t.Errorf("detection mangled: %+v", o.Detection)
	}
	if len(o.Detection.FeedbackPhrases) != 1 || o.Detection.FeedbackPhrases[0] != "slightly formulaic" {
		t.Errorf("feedback mangled: %v", o.Detection.FeedbackPhrases)
	}
	if o.Subjective == nil || o.Subjective.OverallScore != 7.8 || !o.Subjective.PassesGate {
		t.Errorf("subjective mangled: %+v", o.Subjective)
	}
	if o.Subjective.Dimensions != want.Subjective.Dimensions {
		t.Errorf("dimensions = %+v, want %+v", o.Subjective.Dimensions, want.Subjective.Dimensions)
	}
	if len(o.Subjective.Tendencies) != 1 || o.Subjective.Tendencies[0] != "passive voice" {
		t.Errorf("tendencies mangled: %v", o.Subjective.Tendencies)
	}
}

func TestAppend_StructuralFailureRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, structuralOutcome("job-2", 1, models.KindShortForm)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	got, err := store.ListByKind(ctx, models.KindShortForm)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(got))
	}
	if got[0].Attempt.Status != models.StatusStructuralFailure {
		t.Errorf("status = %s, want structural_failure", got[0].Attempt.Status)
	}
	if got[0].Detection != nil || got[0].Subjective != nil {
		t.Error("structural failure must come back without scores")
	}
}

func TestAppend_RejectsInconsistentOutcomes(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	scoredWithoutResults := scoredOutcome("job-3", 1, models.KindLongForm)
	scoredWithoutResults.Detection = nil
	if err := store.Append(ctx, scoredWithoutResults); err == nil {
		t.Error("expected error for scored outcome missing detection result")
	}

	structuralWithScores := structuralOutcome("job-3", 1, models.KindLongForm)
	structuralWithScores.Detection = &models.DetectionResult{HumanScore: 50}
	if err := store.Append(ctx, structuralWithScores); err == nil {
		t.Error("expected error for structural failure carrying scores")
	}

	unknown := structuralOutcome("job-3", 1, models.KindLongForm)
	unknown.Attempt.Status = "retrying"
	if err := store.Append(ctx, unknown); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestListByKind_FiltersAndOrders(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := store.Append(ctx, scoredOutcome("job-long", i, models.KindLongForm)); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Append(ctx, scoredOutcome("job-short", 1, models.KindShortForm)); err != nil {
		t.Fatal(err)
	}

	got, err := store.ListByKind(ctx, models.KindLongForm)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d long-form outcomes, want 3", len(got))
	}
	for i, o := range got {
		if o.Attempt.AttemptNumber != i+1 {
			t.Errorf("position %d holds attempt %d, want oldest first", i, o.Attempt.AttemptNumber)
		}
		if o.Attempt.Kind != models.KindLongForm {
			t.Errorf("kind filter leaked %s", o.Attempt.Kind)
		}
	}
}

func TestRecent_NewestFirstWithLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := store.Append(ctx, scoredOutcome("job-r", i, models.KindLongForm)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.Recent(ctx, models.KindLongForm, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(got))
	}
	if got[0].Attempt.AttemptNumber != 5 || got[1].Attempt.AttemptNumber != 4 {
		t.Errorf("recent order wrong: %d then %d", got[0].Attempt.AttemptNumber, got[1].Attempt.AttemptNumber)
	}
}

func TestRecommendation_RoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	none, err := store.LatestRecommendation(ctx, models.KindLongForm)
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("expected nil recommendation on empty store, got %+v", none)
	}

	older := models.Recommendation{
		Kind:        models.KindLongForm,
		Params:      models.Params{Temperature: 0.8, WordCountMin: 200, WordCountMax: 400},
		SampleCount: 5,
		Confidence:  models.ConfidenceLow,
	}
	newer := models.Recommendation{
		Kind:         models.KindLongForm,
		Params:       models.Params{Temperature: 0.95, WordCountMin: 250, WordCountMax: 450},
		SampleCount:  12,
		Confidence:   models.ConfidenceMedium,
		Correlations: map[string]float64{"temperature": 0.4},
	}
	if err := store.AppendRecommendation(ctx, older); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendRecommendation(ctx, newer); err != nil {
		t.Fatal(err)
	}

	got, err := store.LatestRecommendation(ctx, models.KindLongForm)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected a recommendation")
	}
	if got.Params != newer.Params {
		t.Errorf("params = %+v, want newest row %+v", got.Params, newer.Params)
	}
	if got.SampleCount != 12 || got.Confidence != models.ConfidenceMedium {
		t.Errorf("metadata mangled: %+v", got)
	}
	if got.Correlations["temperature"] != 0.4 {
		t.Errorf("correlations mangled: %v", got.Correlations)
	}
}
