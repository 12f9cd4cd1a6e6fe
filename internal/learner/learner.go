// Package learner derives parameter recommendations ("sweet spots") from
// the outcome log. It is a pure read path: every call recomputes from a
// snapshot of the log and never mutates it, so recommendations are safely
// recomputable and at worst a few attempts stale.
package learner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/ablatext/ablatext/internal/config"
	"github.com/ablatext/ablatext/pkg/models"
)

// coldStartMinimum is the sample count below which there is no learning
// signal; the configured defaults are returned unchanged to avoid fitting
// noise.
const coldStartMinimum = 3

// Source is the read side of the outcome log
type Source interface {
	ListByKind(ctx context.Context, kind models.ContentKind) ([]models.AttemptOutcome, error)
}

// Learner computes parameter recommendations per content kind
type Learner struct {
	source   Source
	cfg      *config.Config
	halfLife float64
	logger   *slog.Logger
}

// New creates a learner over the given outcome source
func New(source Source, cfg *config.Config, logger *slog.Logger) *Learner {
	return &Learner{
		source:   source,
		cfg:      cfg,
		halfLife: float64(cfg.Gate.RecencyHalfLife),
		logger:   logger.With("component", "learner"),
	}
}

// Recommend computes the current best-known parameter set for a content
// kind. Each knob's recommended value is the recency-weighted mean of its
// values among passing attempts, clipped to the configured range; the
// correlation map is diagnostic only and never affects the confidence
// tier.
func (l *Learner) Recommend(ctx context.Context, kind models.ContentKind) (*models.Recommendation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown content kind %q", kind)
	}
	kp := l.cfg.KindParamsFor(kind)

	outcomes, err := l.source.ListByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to read outcome log: %w", err)
	}

	// Only attempts with both scores carry learning signal; structural
	// failures say nothing about parameter quality.
	scored := make([]models.AttemptOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Attempt.Status == models.StatusScored && o.Detection != nil && o.Subjective != nil {
			scored = append(scored, o)
		}
	}

	n := len(scored)
	if n < coldStartMinimum {
		l.logger.Debug("Cold start, returning configured defaults",
			"kind", kind, "samples", n)
		return &models.Recommendation{
			Kind:        kind,
			Params:      kp.Defaults,
			SampleCount: n,
			Confidence:  models.ConfidenceFor(n),
			CreatedAt:   time.Now(),
		}, nil
	}

	passes := make([]float64, n)
	for i, o := range scored {
		if o.Detection.Passed && o.Subjective.PassesGate {
			passes[i] = 1
		}
	}

	correlations := make(map[string]float64, len(models.Knobs()))
	for _, knob := range models.Knobs() {
		values := make([]float64, n)
		for i, o := range scored {
			values[i] = knob.Get(o.Attempt.Params)
		}
		r, err := stats.Pearson(values, passes)
		if err != nil || math.IsNaN(r) {
			// Constant knob values or all-pass/all-fail history carry no
			// correlation signal
			r = 0
		}
		correlations[knob.Name] = r
	}

	params := l.weightedParams(scored, passes, kp)

	rec := &models.Recommendation{
		Kind:         kind,
		Params:       params,
		SampleCount:  n,
		Confidence:   models.ConfidenceFor(n),
		Correlations: correlations,
		CreatedAt:    time.Now(),
	}

	l.logger.Debug("Computed recommendation",
		"kind", kind,
		"samples", n,
		"confidence", rec.Confidence)

	return rec, nil
}

// weightedParams averages each knob over passing attempts, weighting
// recent attempts higher (weight halves every halfLife attempts of age).
// With no passing attempts there is nothing to aim at yet, so the
// configured defaults stand.
func (l *Learner) weightedParams(scored []models.AttemptOutcome, passes []float64, kp config.KindParams) models.Params {
	n := len(scored)
	var weightSum float64
	weights := make([]float64, n)
	for i := range scored {
		if passes[i] != 1 {
			continue
		}
		age := float64(n - 1 - i)
		weights[i] = math.Pow(0.5, age/l.halfLife)
		weightSum += weights[i]
	}
	if weightSum == 0 {
		return kp.Defaults
	}

	params := kp.Defaults
	for _, knob := range models.Knobs() {
		var acc float64
		for i, o := range scored {
			if weights[i] == 0 {
				continue
			}
			acc += knob.Get(o.Attempt.Params) * weights[i]
		}
		knob.Set(&params, acc/weightSum)
	}
	return kp.Clip(params)
}
