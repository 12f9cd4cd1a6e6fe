// Package gate orchestrates one generation job through bounded attempts:
// compose steering, generate, extract (when batched), score with both
// scorers, persist, and decide. Strictness escalates by one level per
// quality failure up to the ceiling; structural extraction failures retry
// at the same strictness because the marker contract was violated, not the
// content quality.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ablatext/ablatext/internal/batch"
	"github.com/ablatext/ablatext/internal/compose"
	"github.com/ablatext/ablatext/internal/config"
	"github.com/ablatext/ablatext/internal/metrics"
	"github.com/ablatext/ablatext/pkg/models"
)

// Generator is the black-box text generation service. Transient failures
// are retried inside the implementation; an error here means the service
// stayed unreachable past the retry cap.
type Generator interface {
	Generate(ctx context.Context, prompt string, params models.Params) (string, error)
}

// Detector is the AI-detection scorer
type Detector interface {
	Detect(ctx context.Context, text string) (*models.DetectionResult, error)
}

// Evaluator is the subjective realism scorer
type Evaluator interface {
	Evaluate(ctx context.Context, text string, kind models.ContentKind) (*models.SubjectiveEvaluation, error)
}

// Log is the append-only outcome store
type Log interface {
	Append(ctx context.Context, o models.AttemptOutcome) error
	AppendRecommendation(ctx context.Context, rec models.Recommendation) error
}

// Recommender supplies the current sweet-spot parameters per content kind
type Recommender interface {
	Recommend(ctx context.Context, kind models.ContentKind) (*models.Recommendation, error)
}

// Job is one logical generation job: a single subject, or 2-5 subjects
// batched into one call.
type Job struct {
	Subjects []batch.Subject
	Kind     models.ContentKind
}

// Controller drives jobs through the quality gate
type Controller struct {
	cfg       *config.Config
	generator Generator
	detector  Detector
	evaluator Evaluator
	log       Log
	learner   Recommender
	collector *metrics.Collector // optional
	logger    *slog.Logger
	seed      func() int64
}

// New creates a controller. collector may be nil when metrics are not
// wanted.
func New(
	cfg *config.Config,
	generator Generator,
	detector Detector,
	evaluator Evaluator,
	log Log,
	learner Recommender,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		cfg:       cfg,
		generator: generator,
		detector:  detector,
		evaluator: evaluator,
		log:       log,
		learner:   learner,
		collector: collector,
		logger:    logger.With("component", "gate"),
		seed:      func() int64 { return time.Now().UnixNano() },
	}
}

// RunJob executes one job to a terminal result. Passed=false after
// exhausted attempts is a valid result carrying the best-scoring text and
// both scorers' feedback, not an error; errors mean the job could not run
// at all (bad inputs, unreachable services, persistence failure).
func (c *Controller) RunJob(ctx context.Context, job Job) (*models.JobResult, error) {
	if err := c.validateJob(job); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	subjectIDs := make([]string, len(job.Subjects))
	for i, s := range job.Subjects {
		subjectIDs[i] = s.ID
	}

	logger := c.logger.With("job_id", jobID, "kind", job.Kind, "subjects", len(job.Subjects))
	kp := c.cfg.KindParamsFor(job.Kind)
	rng := rand.New(rand.NewSource(c.seed()))

	strictness := 1
	var outcomes []models.AttemptOutcome
	var attemptTexts []map[string]string // parallel to outcomes; nil for structural failures
	var failurePhrases []string

	for attempt := 1; attempt <= c.cfg.Gate.MaxAttempts; attempt++ {
		rec, err := c.learner.Recommend(ctx, job.Kind)
		if err != nil {
			logger.Warn("Recommendation unavailable, using configured defaults", "error", err)
			rec = &models.Recommendation{
				Kind:       job.Kind,
				Params:     kp.Defaults,
				Confidence: models.ConfidenceLow,
			}
		}
		params := jitterParams(rng, rec.Params, kp, c.cfg.Gate.JitterFraction)

		instructions, err := compose.Compose(job.Kind, strictness, rec, failurePhrases)
		if err != nil {
			return nil, fmt.Errorf("failed to compose instructions: %w", err)
		}
		prompt, err := c.buildPrompt(job, instructions)
		if err != nil {
			return nil, err
		}

		logger.Info("Starting attempt",
			"attempt", attempt,
			"strictness", strictness,
			"recommendation_confidence", rec.Confidence)

		genStart := time.Now()
		raw, err := c.generator.Generate(ctx, prompt, params)
		if c.collector != nil {
			c.collector.RecordGeneration(string(job.Kind), time.Since(genStart))
		}
		if err != nil {
			// The generator retries transient failures internally without
			// consuming attempts; reaching here means it stayed down.
			return nil, fmt.Errorf("generation call failed on attempt %d: %w", attempt, err)
		}

		attemptRow := models.GenerationAttempt{
			JobID:         jobID,
			AttemptNumber: attempt,
			SubjectIDs:    subjectIDs,
			Kind:          job.Kind,
			Params:        params,
			Strictness:    strictness,
			RawOutput:     raw,
			CreatedAt:     time.Now(),
		}

		var texts map[string]string
		var scoreText string
		if len(job.Subjects) > 1 {
			extracted := batch.Extract(raw, subjectIDs)
			if !batch.Complete(extracted) {
				attemptRow.Status = models.StatusStructuralFailure
				outcome := models.AttemptOutcome{Attempt: attemptRow}
				if err := c.log.Append(ctx, outcome); err != nil {
					return nil, fmt.Errorf("failed to persist structural failure: %w", err)
				}
				outcomes = append(outcomes, outcome)
				attemptTexts = append(attemptTexts, nil)
				if c.collector != nil {
					c.collector.RecordAttempt(string(job.Kind), string(models.StatusStructuralFailure))
				}
				logger.Warn("Batch extraction incomplete, retrying at same strictness",
					"attempt", attempt,
					"failed_subjects", failedSubjects(extracted))
				continue
			}
			texts = make(map[string]string, len(extracted))
			parts := make([]string, 0, len(subjectIDs))
			for _, id := range subjectIDs {
				texts[id] = extracted[id].Text
				parts = append(parts, extracted[id].Text)
			}
			// One score over the concatenation covers every subject in
			// the batch; that approximation is the point of batching.
			scoreText = strings.Join(parts, "\n\n")
		} else {
			texts = map[string]string{job.Subjects[0].ID: strings.TrimSpace(raw)}
			scoreText = texts[job.Subjects[0].ID]
		}
		attemptRow.Status = models.StatusScored

		detection, subjective, err := c.score(ctx, scoreText, job.Kind)
		if err != nil {
			return nil, fmt.Errorf("scoring failed on attempt %d: %w", attempt, err)
		}

		outcome := models.AttemptOutcome{
			Attempt:    attemptRow,
			Detection:  detection,
			Subjective: subjective,
		}
		// Failures are training data too: every scored attempt lands in
		// the log before the gate decision.
		if err := c.log.Append(ctx, outcome); err != nil {
			return nil, fmt.Errorf("failed to persist attempt: %w", err)
		}
		outcomes = append(outcomes, outcome)
		attemptTexts = append(attemptTexts, texts)

		passed := detection.Passed && subjective.PassesGate
		if c.collector != nil {
			c.collector.RecordAttempt(string(job.Kind), string(models.StatusScored))
			c.collector.RecordGate(string(job.Kind), passed)
		}

		if passed {
			logger.Info("Quality gate passed",
				"attempt", attempt,
				"human_score", detection.HumanScore,
				"overall_score", subjective.OverallScore)
			c.recordPass(ctx, job.Kind, logger)
			if c.collector != nil {
				c.collector.RecordJob(string(job.Kind), true, strictness)
			}
			return &models.JobResult{
				JobID:      jobID,
				Kind:       job.Kind,
				SubjectIDs: subjectIDs,
				Passed:     true,
				Texts:      texts,
				Attempts:   outcomes,
			}, nil
		}

		logger.Info("Quality gate failed",
			"attempt", attempt,
			"human_score", detection.HumanScore,
			"detection_passed", detection.Passed,
			"overall_score", subjective.OverallScore,
			"subjective_passed", subjective.PassesGate)

		failurePhrases = append(failurePhrases, detection.FeedbackPhrases...)
		failurePhrases = append(failurePhrases, subjective.Tendencies...)
		if strictness < c.cfg.Gate.StrictnessCeiling {
			strictness++
		}
	}

	// Attempts exhausted: surface the best-scoring attempt rather than
	// discarding the work.
	result := &models.JobResult{
		JobID:      jobID,
		Kind:       job.Kind,
		SubjectIDs: subjectIDs,
		Passed:     false,
		Attempts:   outcomes,
	}
	best := -1
	for i, o := range outcomes {
		if o.Attempt.Status != models.StatusScored {
			continue
		}
		// Strictly greater keeps the earliest attempt on ties
		if best == -1 || o.GateScore() > outcomes[best].GateScore() {
			best = i
		}
	}
	if best >= 0 {
		result.Texts = attemptTexts[best]
		result.Feedback = append(result.Feedback, outcomes[best].Detection.FeedbackPhrases...)
		result.Feedback = append(result.Feedback, outcomes[best].Subjective.Tendencies...)
		logger.Warn("Attempts exhausted, returning best-scoring attempt",
			"best_attempt", outcomes[best].Attempt.AttemptNumber,
			"human_score", outcomes[best].Detection.HumanScore,
			"overall_score", outcomes[best].Subjective.OverallScore)
	} else {
		logger.Error("Attempts exhausted with no scored attempt",
			"attempts", len(outcomes))
	}
	if c.collector != nil {
		c.collector.RecordJob(string(job.Kind), false, strictness)
	}
	return result, nil
}

func (c *Controller) validateJob(job Job) error {
	if !job.Kind.Valid() {
		return fmt.Errorf("unknown content kind %q", job.Kind)
	}
	if len(job.Subjects) == 0 {
		return fmt.Errorf("job has no subjects")
	}
	if len(job.Subjects) > c.cfg.Gate.MaxBatchSize {
		return fmt.Errorf("job has %d subjects, batch cap is %d", len(job.Subjects), c.cfg.Gate.MaxBatchSize)
	}
	if len(job.Subjects) > 1 {
		kp := c.cfg.KindParamsFor(job.Kind)
		if !batch.Eligible(kp.TypicalLength, c.cfg.Detector.MinInputLength, len(job.Subjects)) {
			return fmt.Errorf("content kind %q does not need batching (typical length %d >= detector minimum %d)",
				job.Kind, kp.TypicalLength, c.cfg.Detector.MinInputLength)
		}
	}
	for _, s := range job.Subjects {
		if s.ID == "" {
			return fmt.Errorf("job subject with empty id")
		}
	}
	return nil
}

func (c *Controller) buildPrompt(job Job, instructions string) (string, error) {
	if len(job.Subjects) > 1 {
		body, err := batch.BuildPrompt(job.Subjects, c.cfg.Templates.KindInstructions[string(job.Kind)])
		if err != nil {
			return "", fmt.Errorf("failed to build batch prompt: %w", err)
		}
		return body + "\n\n" + instructions, nil
	}
	s := job.Subjects[0]
	return s.Brief + "\n\n" + c.cfg.Templates.KindInstructions[string(job.Kind)] + "\n\n" + instructions, nil
}

// score runs both scorers concurrently; neither depends on the other
func (c *Controller) score(ctx context.Context, text string, kind models.ContentKind) (*models.DetectionResult, *models.SubjectiveEvaluation, error) {
	type detOut struct {
		res *models.DetectionResult
		err error
	}
	type subjOut struct {
		res *models.SubjectiveEvaluation
		err error
	}
	detCh := make(chan detOut, 1)
	subjCh := make(chan subjOut, 1)

	go func() {
		start := time.Now()
		res, err := c.detector.Detect(ctx, text)
		if c.collector != nil {
			c.collector.RecordScorer("detection", time.Since(start))
		}
		detCh <- detOut{res, err}
	}()
	go func() {
		start := time.Now()
		res, err := c.evaluator.Evaluate(ctx, text, kind)
		if c.collector != nil {
			c.collector.RecordScorer("subjective", time.Since(start))
		}
		subjCh <- subjOut{res, err}
	}()

	det := <-detCh
	subj := <-subjCh
	if det.err != nil {
		return nil, nil, fmt.Errorf("detection scoring: %w", det.err)
	}
	if subj.err != nil {
		return nil, nil, fmt.Errorf("subjective scoring: %w", subj.err)
	}
	return det.res, subj.res, nil
}

// recordPass recomputes and persists the recommendation after a passing
// attempt lands in the log. Best effort: a failure here only costs
// recommendation freshness, never the job result.
func (c *Controller) recordPass(ctx context.Context, kind models.ContentKind, logger *slog.Logger) {
	rec, err := c.learner.Recommend(ctx, kind)
	if err != nil {
		logger.Warn("Failed to recompute recommendation", "error", err)
		return
	}
	if err := c.log.AppendRecommendation(ctx, *rec); err != nil {
		logger.Warn("Failed to persist recommendation", "error", err)
	}
}

// jitterParams perturbs each knob by up to fraction of its value so a
// retry never replays a failing configuration verbatim, then clips back
// into the kind's valid ranges.
func jitterParams(rng *rand.Rand, p models.Params, kp config.KindParams, fraction float64) models.Params {
	for _, knob := range models.Knobs() {
		v := knob.Get(p)
		if v == 0 {
			continue
		}
		u := rng.Float64()*2 - 1
		knob.Set(&p, v*(1+u*fraction))
	}
	p = kp.Clip(p)
	if p.WordCountMin > p.WordCountMax {
		p.WordCountMin, p.WordCountMax = p.WordCountMax, p.WordCountMin
	}
	return p
}

func failedSubjects(results map[string]models.SubjectText) []string {
	var failed []string
	for id, r := range results {
		if !r.Success {
			failed = append(failed, id)
		}
	}
	return failed
}
