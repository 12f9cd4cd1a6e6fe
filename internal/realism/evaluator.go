// Package realism runs the LLM-backed subjective evaluation: a rubric
// prompt scores catalog text on five fixed dimensions and names recurring
// stylistic tendencies. The overall score is recomputed locally as the
// mean of the dimensions rather than trusting a model-reported total.
package realism

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ablatext/ablatext/internal/api"
	"github.com/ablatext/ablatext/internal/config"
	"github.com/ablatext/ablatext/internal/util"
	"github.com/ablatext/ablatext/pkg/models"
)

// maxTendencies caps how many stylistic tendencies one evaluation may
// report; anything beyond that is noise.
const maxTendencies = 5

// Evaluator scores generated text against the realism rubric
type Evaluator struct {
	modelCfg  config.ModelConfig
	rubric    string
	apiKey    string
	threshold float64
	apiClient *api.Client
	logger    *slog.Logger
}

// New creates an evaluator. threshold is the minimum overall score that
// passes the gate.
func New(modelCfg config.ModelConfig, rubric, apiKey string, threshold float64, apiClient *api.Client, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		modelCfg:  modelCfg,
		rubric:    rubric,
		apiKey:    apiKey,
		threshold: threshold,
		apiClient: apiClient,
		logger:    logger.With("component", "evaluator"),
	}
}

// Evaluate scores one attempt's text for subjective realism
func (e *Evaluator) Evaluate(ctx context.Context, text string, kind models.ContentKind) (*models.SubjectiveEvaluation, error) {
	prompt, err := util.RenderTemplate(e.rubric, map[string]any{
		"Kind": string(kind),
		"Text": text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render rubric template: %w", err)
	}

	// Rubric scoring wants consistency over flair, so the evaluation call
	// runs at a low fixed temperature regardless of learned parameters.
	resp, err := e.apiClient.ChatCompletion(ctx, e.modelCfg, e.apiKey, []api.Message{
		{Role: "user", Content: prompt},
	}, models.Params{Temperature: 0.2, TopP: 1.0})
	if err != nil {
		return nil, err
	}

	content := resp.Choices[0].Message.Content
	e.logger.Debug("Received evaluation response",
		"length", len(content),
		"first_200_chars", util.TruncateString(content, 200))

	eval, err := e.parseEvaluation(content)
	if err != nil {
		e.logger.Error("Failed to parse evaluation response",
			"error", err,
			"response_length", len(content))
		return nil, fmt.Errorf("failed to parse evaluation response: %w", err)
	}

	return eval, nil
}

type rubricResponse struct {
	Scores     models.DimensionScores `json:"scores"`
	Tendencies []string               `json:"tendencies"`
}

func (e *Evaluator) parseEvaluation(response string) (*models.SubjectiveEvaluation, error) {
	jsonStr := extractJSON(response)
	jsonStr = sanitizeJSON(jsonStr)

	var raw rubricResponse
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	for name, v := range map[string]float64{
		"clarity":            raw.Scores.Clarity,
		"professionalism":    raw.Scores.Professionalism,
		"technical_accuracy": raw.Scores.TechnicalAccuracy,
		"human_likeness":     raw.Scores.HumanLikeness,
		"engagement":         raw.Scores.Engagement,
	} {
		if v < 0 || v > 10 {
			return nil, fmt.Errorf("dimension %s score %.1f out of range", name, v)
		}
	}

	tendencies := raw.Tendencies
	if len(tendencies) > maxTendencies {
		tendencies = tendencies[:maxTendencies]
	}

	overall := raw.Scores.Mean()
	return &models.SubjectiveEvaluation{
		OverallScore: overall,
		Dimensions:   raw.Scores,
		PassesGate:   overall >= e.threshold,
		Tendencies:   tendencies,
	}, nil
}

// extractJSON pulls a JSON object out of a response that may wrap it in
// markdown or surrounding prose, using brace matching rather than a greedy
// regex so nested objects survive.
func extractJSON(s string) string {
	re := regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
	if matches := re.FindStringSubmatch(s); len(matches) > 1 {
		s = strings.TrimSpace(matches[1])
	} else {
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return s
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	// Truncated object: trim trailing separators and close it
	trimmed := strings.TrimRight(s[start:], " \n\t,")
	return trimmed + "}"
}

// sanitizeJSON escapes literal newlines inside string values, a common
// artifact of models writing multi-line tendency descriptions.
func sanitizeJSON(s string) string {
	var result strings.Builder
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			result.WriteByte(ch)
			escaped = false
			continue
		}
		if ch == '\\' {
			result.WriteByte(ch)
			escaped = true
			continue
		}
		if ch == '"' {
			result.WriteByte(ch)
			inString = !inString
			continue
		}
		if inString && (ch == '\n' || ch == '\r') {
			result.WriteString("\\n")
			if ch == '\r' && i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			continue
		}
		result.WriteByte(ch)
	}

	return result.String()
}
