package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ablatext/ablatext/pkg/models"
)

// Config is the complete application configuration
type Config struct {
	Gate      GateConfig                  `toml:"gate"`
	Models    map[string]ModelConfig      `toml:"models"` // "generator", "evaluator"
	Detector  DetectorConfig              `toml:"detector"`
	Store     StoreConfig                 `toml:"store"`
	Catalog   CatalogConfig               `toml:"catalog"`
	Run       RunConfig                   `toml:"run"`
	Params    map[string]KindParams       `toml:"params"` // keyed by content kind
	Templates Templates                   `toml:"templates"`
}

// GateConfig holds the quality gate thresholds and retry bounds
type GateConfig struct {
	MaxAttempts         int     `toml:"max_attempts"`         // generation attempts per job (default 5)
	TransientRetries    int     `toml:"transient_retries"`    // extra retries on service errors (default 2)
	DetectionThreshold  float64 `toml:"detection_threshold"`  // minimum human score 0-100 (default 69)
	SubjectiveThreshold float64 `toml:"subjective_threshold"` // minimum overall realism 0-10 (default 7.0)
	StrictnessCeiling   int     `toml:"strictness_ceiling"`   // default 5
	MaxBatchSize        int     `toml:"max_batch_size"`       // subjects per batched call (default 5)
	JitterFraction      float64 `toml:"jitter_fraction"`      // per-attempt knob jitter (default 0.05)
	RecencyHalfLife     int     `toml:"recency_half_life"`    // attempts until a sample's weight halves (default 10)
}

// ModelConfig describes one OpenAI-compatible chat endpoint
type ModelConfig struct {
	BaseURL            string `toml:"base_url"`
	ModelName          string `toml:"model_name"`
	MaxOutputTokens    int    `toml:"max_output_tokens"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

// DetectorConfig describes the AI-detection scoring service
type DetectorConfig struct {
	BaseURL            string `toml:"base_url"`
	MinInputLength     int    `toml:"min_input_length"` // characters; shorter inputs score unreliably
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

// StoreConfig locates the outcome log database
type StoreConfig struct {
	Path string `toml:"path"`
}

// CatalogConfig locates the material catalog directory
type CatalogConfig struct {
	Dir string `toml:"dir"`
}

// RunConfig holds CLI run settings
type RunConfig struct {
	Concurrency int `toml:"concurrency"` // independent jobs in flight (default 4)
}

// Range bounds one knob's valid values
type Range struct {
	Min float64 `toml:"min"`
	Max float64 `toml:"max"`
}

// KindParams holds per-content-kind generation defaults and knob ranges
type KindParams struct {
	Defaults      models.Params    `toml:"defaults"`
	Ranges        map[string]Range `toml:"ranges"`         // knob name -> valid range
	TypicalLength int              `toml:"typical_length"` // characters per subject; drives batch eligibility
}

// Templates holds customizable prompt templates
type Templates struct {
	SubjectBrief     string            `toml:"subject_brief"`     // renders one material into a prompt brief
	KindInstructions map[string]string `toml:"kind_instructions"` // content kind -> writing instructions
	EvaluatorRubric  string            `toml:"evaluator_rubric"`  // realism rubric prompt
}

// Secrets holds credentials loaded from environment variables
type Secrets struct {
	APIKeys map[string]string // service name -> key
}

// GetAPIKey returns the key for a named service ("generator", "evaluator",
// "detector"), or empty when none is configured.
func (s *Secrets) GetAPIKey(service string) string {
	if s == nil {
		return ""
	}
	return s.APIKeys[service]
}

// LoadSecrets reads API keys from ABLATEXT_<SERVICE>_KEY environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{APIKeys: make(map[string]string)}
	for _, service := range []string{"generator", "evaluator", "detector"} {
		env := "ABLATEXT_" + strings.ToUpper(service) + "_KEY"
		if v := os.Getenv(env); v != "" {
			secrets.APIKeys[service] = v
		}
	}
	return secrets, nil
}

// Validate checks the configuration, failing fast before any attempt runs
func (c *Config) Validate() error {
	if c.Gate.MaxAttempts < 1 || c.Gate.MaxAttempts > 20 {
		return fmt.Errorf("gate.max_attempts must be between 1 and 20 (got %d)", c.Gate.MaxAttempts)
	}
	if c.Gate.TransientRetries < 0 || c.Gate.TransientRetries > 5 {
		return fmt.Errorf("gate.transient_retries must be between 0 and 5 (got %d)", c.Gate.TransientRetries)
	}
	if c.Gate.DetectionThreshold < 0 || c.Gate.DetectionThreshold > 100 {
		return fmt.Errorf("gate.detection_threshold must be between 0 and 100 (got %.1f)", c.Gate.DetectionThreshold)
	}
	if c.Gate.SubjectiveThreshold < 0 || c.Gate.SubjectiveThreshold > 10 {
		return fmt.Errorf("gate.subjective_threshold must be between 0 and 10 (got %.1f)", c.Gate.SubjectiveThreshold)
	}
	if c.Gate.StrictnessCeiling < 1 || c.Gate.StrictnessCeiling > 5 {
		return fmt.Errorf("gate.strictness_ceiling must be between 1 and 5 (got %d)", c.Gate.StrictnessCeiling)
	}
	if c.Gate.MaxBatchSize < 2 || c.Gate.MaxBatchSize > 5 {
		return fmt.Errorf("gate.max_batch_size must be between 2 and 5 (got %d)", c.Gate.MaxBatchSize)
	}
	if c.Gate.JitterFraction < 0 || c.Gate.JitterFraction > 0.5 {
		return fmt.Errorf("gate.jitter_fraction must be between 0 and 0.5 (got %.2f)", c.Gate.JitterFraction)
	}

	generator, ok := c.Models["generator"]
	if !ok {
		return fmt.Errorf("models.generator is required")
	}
	if err := validateModelConfig("generator", generator); err != nil {
		return err
	}
	evaluator, ok := c.Models["evaluator"]
	if !ok {
		return fmt.Errorf("models.evaluator is required")
	}
	if err := validateModelConfig("evaluator", evaluator); err != nil {
		return err
	}

	if c.Detector.BaseURL == "" {
		return fmt.Errorf("detector.base_url is required")
	}
	if c.Detector.MinInputLength < 1 {
		return fmt.Errorf("detector.min_input_length must be positive (got %d)", c.Detector.MinInputLength)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Catalog.Dir == "" {
		return fmt.Errorf("catalog.dir is required")
	}
	if c.Run.Concurrency < 1 {
		return fmt.Errorf("run.concurrency must be at least 1 (got %d)", c.Run.Concurrency)
	}

	for name, kp := range c.Params {
		kind := models.ContentKind(name)
		if !kind.Valid() {
			return fmt.Errorf("params.%s: unknown content kind", name)
		}
		if kp.TypicalLength < 1 {
			return fmt.Errorf("params.%s.typical_length must be positive (got %d)", name, kp.TypicalLength)
		}
		if kp.Defaults.WordCountMin < 1 || kp.Defaults.WordCountMax < kp.Defaults.WordCountMin {
			return fmt.Errorf("params.%s: word count band [%d, %d] is invalid",
				name, kp.Defaults.WordCountMin, kp.Defaults.WordCountMax)
		}
		for knobName, r := range kp.Ranges {
			if r.Min > r.Max {
				return fmt.Errorf("params.%s.ranges.%s: min %.2f exceeds max %.2f", name, knobName, r.Min, r.Max)
			}
		}
		if err := validateParamsInRange(name, kp.Defaults, kp.Ranges); err != nil {
			return err
		}
	}
	for _, kind := range models.Kinds() {
		if _, ok := c.Params[string(kind)]; !ok {
			return fmt.Errorf("params.%s section is required", kind)
		}
	}

	return nil
}

// KindParamsFor returns the parameter configuration for a content kind.
// Validate guarantees every known kind has a section.
func (c *Config) KindParamsFor(kind models.ContentKind) KindParams {
	return c.Params[string(kind)]
}

// Clip bounds every knob of p to this kind's configured ranges. Knobs
// without a configured range pass through unchanged.
func (kp KindParams) Clip(p models.Params) models.Params {
	for _, knob := range models.Knobs() {
		r, ok := kp.Ranges[knob.Name]
		if !ok {
			continue
		}
		v := knob.Get(p)
		if v < r.Min {
			v = r.Min
		}
		if v > r.Max {
			v = r.Max
		}
		knob.Set(&p, v)
	}
	return p
}

func validateModelConfig(name string, m ModelConfig) error {
	if m.BaseURL == "" {
		return fmt.Errorf("models.%s.base_url is required", name)
	}
	if m.ModelName == "" {
		return fmt.Errorf("models.%s.model_name is required", name)
	}
	if m.MaxOutputTokens < 1 {
		return fmt.Errorf("models.%s.max_output_tokens must be positive (got %d)", name, m.MaxOutputTokens)
	}
	if m.RateLimitPerMinute < 1 {
		return fmt.Errorf("models.%s.rate_limit_per_minute must be positive (got %d)", name, m.RateLimitPerMinute)
	}
	return nil
}

func validateParamsInRange(section string, p models.Params, ranges map[string]Range) error {
	for _, knob := range models.Knobs() {
		r, ok := ranges[knob.Name]
		if !ok {
			continue
		}
		v := knob.Get(p)
		if v < r.Min || v > r.Max {
			return fmt.Errorf("params.%s.defaults.%s = %.2f is outside its range [%.2f, %.2f]",
				section, knob.Name, v, r.Min, r.Max)
		}
	}
	return nil
}
