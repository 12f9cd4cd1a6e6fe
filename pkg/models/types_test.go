package models

import (
	"math"
	"testing"
)

func TestContentKind_Valid(t *testing.T) {
	for _, kind := range Kinds() {
		if !kind.Valid() {
			t.Errorf("kind %s should be valid", kind)
		}
	}
	for _, kind := range []ContentKind{"", "haiku", "Short-Form"} {
		if kind.Valid() {
			t.Errorf("kind %q should be invalid", kind)
		}
	}
}

func TestKnobs_RoundTrip(t *testing.T) {
	p := Params{
		Temperature: 0.9, TopP: 0.95,
		FrequencyPenalty: 0.3, PresencePenalty: 0.4,
		WordCountMin: 250, WordCountMax: 450,
	}

	seen := make(map[string]bool)
	for _, knob := range Knobs() {
		if seen[knob.Name] {
			t.Errorf("duplicate knob %s", knob.Name)
		}
		seen[knob.Name] = true

		v := knob.Get(p)
		var q Params
		knob.Set(&q, v)
		if got := knob.Get(q); got != v {
			t.Errorf("knob %s: set %.2f then get %.2f", knob.Name, v, got)
		}
	}
	if len(seen) != 6 {
		t.Errorf("got %d knobs, want 6", len(seen))
	}
}

func TestKnobs_WordCountRounds(t *testing.T) {
	var p Params
	for _, knob := range Knobs() {
		if knob.Name != "word_count_min" {
			continue
		}
		knob.Set(&p, 249.7)
	}
	if p.WordCountMin != 250 {
		t.Errorf("word_count_min = %d, want rounded 250", p.WordCountMin)
	}
}

func TestDimensionScores_Mean(t *testing.T) {
	d := DimensionScores{
		Clarity: 8, Professionalism: 7, TechnicalAccuracy: 9,
		HumanLikeness: 6, Engagement: 5,
	}
	if got := d.Mean(); math.Abs(got-7) > 1e-9 {
		t.Errorf("mean = %.2f, want 7", got)
	}
}

func TestConfidenceFor(t *testing.T) {
	tests := []struct {
		samples  int
		expected Confidence
	}{
		{0, ConfidenceLow},
		{9, ConfidenceLow},
		{10, ConfidenceMedium},
		{30, ConfidenceMedium},
		{31, ConfidenceHigh},
	}
	for _, tt := range tests {
		if got := ConfidenceFor(tt.samples); got != tt.expected {
			t.Errorf("ConfidenceFor(%d) = %s, want %s", tt.samples, got, tt.expected)
		}
	}
}

func TestGateScore(t *testing.T) {
	scored := AttemptOutcome{
		Detection:  &DetectionResult{HumanScore: 60},
		Subjective: &SubjectiveEvaluation{OverallScore: 6.5},
	}
	if got := scored.GateScore(); got != 125 {
		t.Errorf("gate score = %.1f, want 125", got)
	}

	structural := AttemptOutcome{}
	if structural.GateScore() >= 0 {
		t.Error("structural failure must rank below every scored attempt")
	}
}
