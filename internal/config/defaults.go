package config

import "github.com/ablatext/ablatext/pkg/models"

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Gate.MaxAttempts == 0 {
		cfg.Gate.MaxAttempts = 5
	}
	if cfg.Gate.TransientRetries == 0 {
		cfg.Gate.TransientRetries = 2
	}
	if cfg.Gate.DetectionThreshold == 0 {
		cfg.Gate.DetectionThreshold = 69
	}
	if cfg.Gate.SubjectiveThreshold == 0 {
		cfg.Gate.SubjectiveThreshold = 7.0
	}
	if cfg.Gate.StrictnessCeiling == 0 {
		cfg.Gate.StrictnessCeiling = 5
	}
	if cfg.Gate.MaxBatchSize == 0 {
		cfg.Gate.MaxBatchSize = 5
	}
	if cfg.Gate.JitterFraction == 0 {
		cfg.Gate.JitterFraction = 0.05
	}
	if cfg.Gate.RecencyHalfLife == 0 {
		cfg.Gate.RecencyHalfLife = 10
	}

	if cfg.Models == nil {
		cfg.Models = make(map[string]ModelConfig)
	}
	for name, m := range cfg.Models {
		if m.MaxOutputTokens == 0 {
			m.MaxOutputTokens = 2048
		}
		if m.RateLimitPerMinute == 0 {
			m.RateLimitPerMinute = 60
		}
		if m.TimeoutSeconds == 0 {
			m.TimeoutSeconds = 120
		}
		cfg.Models[name] = m
	}

	if cfg.Detector.MinInputLength == 0 {
		cfg.Detector.MinInputLength = 300
	}
	if cfg.Detector.RateLimitPerMinute == 0 {
		cfg.Detector.RateLimitPerMinute = 60
	}
	if cfg.Detector.TimeoutSeconds == 0 {
		cfg.Detector.TimeoutSeconds = 60
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "outcomes.db"
	}
	if cfg.Catalog.Dir == "" {
		cfg.Catalog.Dir = "catalog"
	}
	if cfg.Run.Concurrency == 0 {
		cfg.Run.Concurrency = 4
	}

	if cfg.Params == nil {
		cfg.Params = make(map[string]KindParams)
	}
	for _, kind := range models.Kinds() {
		if _, ok := cfg.Params[string(kind)]; !ok {
			cfg.Params[string(kind)] = defaultKindParams(kind)
		}
	}

	if cfg.Templates.SubjectBrief == "" {
		cfg.Templates.SubjectBrief = DefaultSubjectBriefTemplate()
	}
	if cfg.Templates.EvaluatorRubric == "" {
		cfg.Templates.EvaluatorRubric = DefaultEvaluatorRubric()
	}
	if cfg.Templates.KindInstructions == nil {
		cfg.Templates.KindInstructions = make(map[string]string)
	}
	for _, kind := range models.Kinds() {
		if _, ok := cfg.Templates.KindInstructions[string(kind)]; !ok {
			cfg.Templates.KindInstructions[string(kind)] = defaultKindInstructions(kind)
		}
	}
}

// defaultKindParams returns the shipped starting point for a content kind.
// These are the cold-start values the learner falls back to until enough
// history accumulates.
func defaultKindParams(kind models.ContentKind) KindParams {
	ranges := map[string]Range{
		"temperature":       {Min: 0.3, Max: 1.2},
		"top_p":             {Min: 0.5, Max: 1.0},
		"frequency_penalty": {Min: 0.0, Max: 1.5},
		"presence_penalty":  {Min: 0.0, Max: 1.5},
	}
	switch kind {
	case models.KindShortForm:
		ranges["word_count_min"] = Range{Min: 20, Max: 80}
		ranges["word_count_max"] = Range{Min: 40, Max: 150}
		return KindParams{
			Defaults: models.Params{
				Temperature: 0.8, TopP: 0.95,
				FrequencyPenalty: 0.4, PresencePenalty: 0.3,
				WordCountMin: 30, WordCountMax: 70,
			},
			Ranges:        ranges,
			TypicalLength: 250,
		}
	case models.KindStructuredList:
		ranges["word_count_min"] = Range{Min: 60, Max: 200}
		ranges["word_count_max"] = Range{Min: 100, Max: 400}
		return KindParams{
			Defaults: models.Params{
				Temperature: 0.6, TopP: 0.9,
				FrequencyPenalty: 0.5, PresencePenalty: 0.2,
				WordCountMin: 80, WordCountMax: 200,
			},
			Ranges:        ranges,
			TypicalLength: 600,
		}
	default: // long-form
		ranges["word_count_min"] = Range{Min: 150, Max: 500}
		ranges["word_count_max"] = Range{Min: 300, Max: 900}
		return KindParams{
			Defaults: models.Params{
				Temperature: 0.9, TopP: 0.95,
				FrequencyPenalty: 0.3, PresencePenalty: 0.4,
				WordCountMin: 250, WordCountMax: 450,
			},
			Ranges:        ranges,
			TypicalLength: 1800,
		}
	}
}

// DefaultSubjectBriefTemplate renders one material into a prompt brief
func DefaultSubjectBriefTemplate() string {
	return `Material: {{.Name}} ({{.Category}})
Key laser-cleaning properties:
{{range $k, $v := .Properties}}- {{$k}}: {{$v}}
{{end}}`
}

func defaultKindInstructions(kind models.ContentKind) string {
	switch kind {
	case models.KindShortForm:
		return `Write a short, punchy summary of laser cleaning for this material,
suitable for a catalog card or FAQ answer. One paragraph, plain language,
no headings.`
	case models.KindStructuredList:
		return `Write a bulleted list of practical laser-cleaning applications and
process notes for this material. Each bullet is one concrete point; no
introduction or conclusion paragraphs.`
	default:
		return `Write a full catalog description of laser cleaning for this material:
what contaminants it removes, why the process suits this material, and
practical considerations for operators. Flowing prose, two to four
paragraphs, no headings.`
	}
}

// DefaultEvaluatorRubric is the realism rubric sent to the evaluator model
func DefaultEvaluatorRubric() string {
	return `You are a senior technical copy editor reviewing catalog text for a
laser-cleaning equipment supplier. Judge how convincing the following
{{.Kind}} text would be to a practicing engineer.

TEXT TO EVALUATE:
{{.Text}}

Score each criterion from 0 to 10 (decimals allowed):
- clarity: is the writing direct and easy to follow?
- professionalism: does it read like supplier copy, not a school essay?
- technical_accuracy: are the process claims plausible and specific?
- human_likeness: does it avoid formulaic, machine-sounding patterns?
- engagement: would a buyer keep reading?

Also list up to five short "tendencies": recurring stylistic problems you
noticed (for example "formulaic structure", "passive voice").

Return ONLY a valid JSON object (no markdown, no additional text):
{"scores": {"clarity": 0, "professionalism": 0, "technical_accuracy": 0, "human_likeness": 0, "engagement": 0}, "tendencies": ["..."]}`
}
