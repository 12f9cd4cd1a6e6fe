package models

import "time"

// ContentKind identifies the shape of catalog content being generated
type ContentKind string

const (
	// KindShortForm is caption/FAQ-answer length copy (typically under the detector minimum)
	KindShortForm ContentKind = "short-form"
	// KindLongForm is full material descriptions
	KindLongForm ContentKind = "long-form"
	// KindStructuredList is bulleted parameter/application lists
	KindStructuredList ContentKind = "structured-list"
)

// Kinds returns all valid content kinds
func Kinds() []ContentKind {
	return []ContentKind{KindShortForm, KindLongForm, KindStructuredList}
}

// Valid reports whether k is a known content kind
func (k ContentKind) Valid() bool {
	switch k {
	case KindShortForm, KindLongForm, KindStructuredList:
		return true
	}
	return false
}

// Params is the fixed set of tunable generation knobs. All content kinds
// share this shape; defaults and valid ranges differ per kind in config.
type Params struct {
	Temperature      float64 `json:"temperature" toml:"temperature"`
	TopP             float64 `json:"top_p" toml:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty" toml:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty" toml:"presence_penalty"`
	WordCountMin     int     `json:"word_count_min" toml:"word_count_min"`
	WordCountMax     int     `json:"word_count_max" toml:"word_count_max"`
}

// Knob is a named accessor for a single tunable parameter, letting the
// learner and jitter logic iterate the fixed Params shape generically.
type Knob struct {
	Name string
	Get  func(Params) float64
	Set  func(*Params, float64)
}

// Knobs returns accessors for every tunable parameter, in a stable order.
func Knobs() []Knob {
	return []Knob{
		{"temperature", func(p Params) float64 { return p.Temperature },
			func(p *Params, v float64) { p.Temperature = v }},
		{"top_p", func(p Params) float64 { return p.TopP },
			func(p *Params, v float64) { p.TopP = v }},
		{"frequency_penalty", func(p Params) float64 { return p.FrequencyPenalty },
			func(p *Params, v float64) { p.FrequencyPenalty = v }},
		{"presence_penalty", func(p Params) float64 { return p.PresencePenalty },
			func(p *Params, v float64) { p.PresencePenalty = v }},
		{"word_count_min", func(p Params) float64 { return float64(p.WordCountMin) },
			func(p *Params, v float64) { p.WordCountMin = int(v + 0.5) }},
		{"word_count_max", func(p Params) float64 { return float64(p.WordCountMax) },
			func(p *Params, v float64) { p.WordCountMax = int(v + 0.5) }},
	}
}

// AttemptStatus distinguishes scored attempts from structural failures
type AttemptStatus string

const (
	// StatusScored means both scorers ran and their results are attached
	StatusScored AttemptStatus = "scored"
	// StatusStructuralFailure means batch extraction failed before scoring;
	// the attempt carries no scores and is logged for diagnostics only
	StatusStructuralFailure AttemptStatus = "structural_failure"
)

// GenerationAttempt is one call to the generation service for one job
type GenerationAttempt struct {
	JobID         string        `json:"job_id"`
	AttemptNumber int           `json:"attempt_number"`
	SubjectIDs    []string      `json:"subject_ids"`
	Kind          ContentKind   `json:"kind"`
	Params        Params        `json:"params"`
	Strictness    int           `json:"strictness"`
	RawOutput     string        `json:"raw_output"`
	Status        AttemptStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// DetectionResult is the AI-detection scorer's verdict for one attempt.
// For batched attempts the score is computed once over the concatenated
// output and applies to every subject in the batch.
type DetectionResult struct {
	HumanScore      float64  `json:"human_score"` // 0-100
	Passed          bool     `json:"passed"`
	FeedbackPhrases []string `json:"feedback_phrases,omitempty"`
}

// DimensionScores is the fixed rubric the realism evaluator scores against
type DimensionScores struct {
	Clarity           float64 `json:"clarity"`
	Professionalism   float64 `json:"professionalism"`
	TechnicalAccuracy float64 `json:"technical_accuracy"`
	HumanLikeness     float64 `json:"human_likeness"`
	Engagement        float64 `json:"engagement"`
}

// Mean returns the simple average across all five dimensions
func (d DimensionScores) Mean() float64 {
	return (d.Clarity + d.Professionalism + d.TechnicalAccuracy + d.HumanLikeness + d.Engagement) / 5
}

// SubjectiveEvaluation is the realism evaluator's verdict for one attempt.
// OverallScore is the mean of the dimension scores, recomputed locally.
type SubjectiveEvaluation struct {
	OverallScore float64         `json:"overall_score"` // 0-10
	Dimensions   DimensionScores `json:"dimensions"`
	PassesGate   bool            `json:"passes_gate"`
	Tendencies   []string        `json:"tendencies,omitempty"`
}

// Confidence tiers for a parameter recommendation, a pure function of
// sample count
type Confidence string

const (
	ConfidenceLow    Confidence = "low"    // fewer than 10 samples
	ConfidenceMedium Confidence = "medium" // 10-30 samples
	ConfidenceHigh   Confidence = "high"   // more than 30 samples
)

// ConfidenceFor maps a sample count to its confidence tier
func ConfidenceFor(samples int) Confidence {
	switch {
	case samples > 30:
		return ConfidenceHigh
	case samples >= 10:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Recommendation is the current best-known parameter set for a content kind
type Recommendation struct {
	Kind         ContentKind        `json:"kind"`
	Params       Params             `json:"params"`
	SampleCount  int                `json:"sample_count"`
	Confidence   Confidence         `json:"confidence"`
	Correlations map[string]float64 `json:"correlations,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// SubjectText is the extraction result for one subject of a batch
type SubjectText struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
}

// AttemptOutcome is one row of the outcome log: the attempt plus both
// scores. Detection and Subjective are nil only for structural failures.
type AttemptOutcome struct {
	Attempt    GenerationAttempt     `json:"attempt"`
	Detection  *DetectionResult      `json:"detection,omitempty"`
	Subjective *SubjectiveEvaluation `json:"subjective,omitempty"`
}

// GateScore is the ranking heuristic used to pick the best attempt after
// exhaustion: humanScore + overallScore*10, higher is better. Structural
// failures rank below every scored attempt.
func (o AttemptOutcome) GateScore() float64 {
	if o.Detection == nil || o.Subjective == nil {
		return -1
	}
	return o.Detection.HumanScore + o.Subjective.OverallScore*10
}

// JobResult is the terminal outcome of one generation job. Passed=false is
// a valid result, not an error: Texts still holds the best available text
// and Feedback carries both scorers' diagnostics for the caller to act on.
type JobResult struct {
	JobID      string            `json:"job_id"`
	Kind       ContentKind       `json:"kind"`
	SubjectIDs []string          `json:"subject_ids"`
	Passed     bool              `json:"passed"`
	Texts      map[string]string `json:"texts"` // subject ID -> final text
	Attempts   []AttemptOutcome  `json:"attempts"`
	Feedback   []string          `json:"feedback,omitempty"`
}
