package learner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ablatext/ablatext/internal/config"
	"github.com/ablatext/ablatext/pkg/models"
)

type fakeSource struct {
	outcomes []models.AttemptOutcome
	err      error
}

func (f *fakeSource) ListByKind(ctx context.Context, kind models.ContentKind) ([]models.AttemptOutcome, error) {
	return f.outcomes, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scoredOutcome(params models.Params, passed bool) models.AttemptOutcome {
	return models.AttemptOutcome{
		Attempt: models.GenerationAttempt{
			Kind:   models.KindLongForm,
			Params: params,
			Status: models.StatusScored,
		},
		Detection:  &models.DetectionResult{HumanScore: 75, Passed: passed},
		Subjective: &models.SubjectiveEvaluation{OverallScore: 7.5, PassesGate: passed},
	}
}

func structuralOutcome() models.AttemptOutcome {
	return models.AttemptOutcome{
		Attempt: models.GenerationAttempt{
			Kind:   models.KindLongForm,
			Status: models.StatusStructuralFailure,
		},
	}
}

func passingParams(temperature float64) models.Params {
	return models.Params{
		Temperature: temperature, TopP: 0.95,
		FrequencyPenalty: 0.3, PresencePenalty: 0.4,
		WordCountMin: 250, WordCountMax: 450,
	}
}

func TestRecommend_UnknownKind(t *testing.T) {
	l := New(&fakeSource{}, config.Default(), testLogger())
	if _, err := l.Recommend(context.Background(), "haiku"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestRecommend_SourceError(t *testing.T) {
	l := New(&fakeSource{err: errors.New("db locked")}, config.Default(), testLogger())
	if _, err := l.Recommend(context.Background(), models.KindLongForm); err == nil {
		t.Error("expected error when source fails")
	}
}

func TestRecommend_ColdStartReturnsDefaults(t *testing.T) {
	cfg := config.Default()
	src := &fakeSource{outcomes: []models.AttemptOutcome{
		scoredOutcome(passingParams(1.1), true),
		scoredOutcome(passingParams(1.1), true),
	}}

	rec, err := New(src, cfg, testLogger()).Recommend(context.Background(), models.KindLongForm)
	if err != nil {
		t.Fatal(err)
	}

	want := cfg.KindParamsFor(models.KindLongForm).Defaults
	if rec.Params != want {
		t.Errorf("cold start params = %+v, want configured defaults %+v", rec.Params, want)
	}
	if rec.SampleCount != 2 {
		t.Errorf("sample count = %d, want 2", rec.SampleCount)
	}
	if rec.Confidence != models.ConfidenceLow {
		t.Errorf("confidence = %s, want low", rec.Confidence)
	}
}

func TestRecommend_StructuralFailuresCarryNoSignal(t *testing.T) {
	cfg := config.Default()
	src := &fakeSource{outcomes: []models.AttemptOutcome{
		scoredOutcome(passingParams(1.1), true),
		structuralOutcome(),
		structuralOutcome(),
		scoredOutcome(passingParams(1.1), true),
	}}

	rec, err := New(src, cfg, testLogger()).Recommend(context.Background(), models.KindLongForm)
	if err != nil {
		t.Fatal(err)
	}
	// Only the two scored rows count, which keeps us in cold start
	if rec.SampleCount != 2 {
		t.Errorf("sample count = %d, want 2 (structural failures excluded)", rec.SampleCount)
	}
}

func TestRecommend_NoPassesFallsBackToDefaults(t *testing.T) {
	cfg := config.Default()
	src := &fakeSource{outcomes: []models.AttemptOutcome{
		scoredOutcome(passingParams(1.1), false),
		scoredOutcome(passingParams(0.5), false),
		scoredOutcome(passingParams(0.8), false),
		scoredOutcome(passingParams(0.7), false),
	}}

	rec, err := New(src, cfg, testLogger()).Recommend(context.Background(), models.KindLongForm)
	if err != nil {
		t.Fatal(err)
	}
	want := cfg.KindParamsFor(models.KindLongForm).Defaults
	if rec.Params != want {
		t.Errorf("all-fail history params = %+v, want defaults %+v", rec.Params, want)
	}
	if rec.SampleCount != 4 {
		t.Errorf("sample count = %d, want 4", rec.SampleCount)
	}
}

func TestRecommend_AveragesPassingAttemptsOnly(t *testing.T) {
	cfg := config.Default()
	src := &fakeSource{outcomes: []models.AttemptOutcome{
		scoredOutcome(passingParams(0.6), true),
		scoredOutcome(passingParams(1.2), false), // must not pull the mean up
		scoredOutcome(passingParams(0.8), true),
	}}

	rec, err := New(src, cfg, testLogger()).Recommend(context.Background(), models.KindLongForm)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Params.Temperature < 0.6 || rec.Params.Temperature > 0.8 {
		t.Errorf("temperature %.3f outside passing range [0.6, 0.8]", rec.Params.Temperature)
	}
}

func TestRecommend_RecencyWeighting(t *testing.T) {
	cfg := config.Default()
	// Oldest pass at 0.5, a failure between, newest pass at 1.0. With
	// recency weighting the mean lands above the unweighted 0.75.
	src := &fakeSource{outcomes: []models.AttemptOutcome{
		scoredOutcome(passingParams(0.5), true),
		scoredOutcome(passingParams(0.9), false),
		scoredOutcome(passingParams(1.0), true),
	}}

	rec, err := New(src, cfg, testLogger()).Recommend(context.Background(), models.KindLongForm)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Params.Temperature <= 0.75 {
		t.Errorf("temperature %.3f not skewed toward the recent pass", rec.Params.Temperature)
	}
	if rec.Params.Temperature >= 1.0 {
		t.Errorf("temperature %.3f exceeds the newest passing value", rec.Params.Temperature)
	}
}

func TestRecommend_ClipsToConfiguredRanges(t *testing.T) {
	cfg := config.Default()
	p := passingParams(5.0) // far above the long-form range
	src := &fakeSource{outcomes: []models.AttemptOutcome{
		scoredOutcome(p, true),
		scoredOutcome(p, true),
		scoredOutcome(p, true),
	}}

	rec, err := New(src, cfg, testLogger()).Recommend(context.Background(), models.KindLongForm)
	if err != nil {
		t.Fatal(err)
	}
	max := cfg.KindParamsFor(models.KindLongForm).Ranges["temperature"].Max
	if rec.Params.Temperature != max {
		t.Errorf("temperature %.3f, want clipped to range max %.3f", rec.Params.Temperature, max)
	}
}

func TestRecommend_ConfidenceTiers(t *testing.T) {
	tests := []struct {
		samples  int
		expected models.Confidence
	}{
		{3, models.ConfidenceLow},
		{9, models.ConfidenceLow},
		{10, models.ConfidenceMedium},
		{30, models.ConfidenceMedium},
		{31, models.ConfidenceHigh},
	}

	cfg := config.Default()
	for _, tt := range tests {
		outcomes := make([]models.AttemptOutcome, tt.samples)
		for i := range outcomes {
			outcomes[i] = scoredOutcome(passingParams(0.9), i%2 == 0)
		}
		rec, err := New(&fakeSource{outcomes: outcomes}, cfg, testLogger()).
			Recommend(context.Background(), models.KindLongForm)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Confidence != tt.expected {
			t.Errorf("%d samples: confidence = %s, want %s", tt.samples, rec.Confidence, tt.expected)
		}
	}
}

func TestRecommend_CorrelationSigns(t *testing.T) {
	cfg := config.Default()
	// High temperatures pass, low temperatures fail: positive correlation
	src := &fakeSource{outcomes: []models.AttemptOutcome{
		scoredOutcome(passingParams(1.1), true),
		scoredOutcome(passingParams(0.4), false),
		scoredOutcome(passingParams(1.0), true),
		scoredOutcome(passingParams(0.5), false),
		scoredOutcome(passingParams(1.2), true),
	}}

	rec, err := New(src, cfg, testLogger()).Recommend(context.Background(), models.KindLongForm)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Correlations["temperature"] <= 0 {
		t.Errorf("temperature correlation %.3f, want positive", rec.Correlations["temperature"])
	}
	// TopP was constant across every attempt, so it carries no signal
	if rec.Correlations["top_p"] != 0 {
		t.Errorf("constant knob correlation %.3f, want 0", rec.Correlations["top_p"])
	}
}
