package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ablatext/ablatext/pkg/models"
)

// validConfig returns a fully defaulted configuration with the required
// endpoints filled in.
func validConfig() *Config {
	cfg := Default()
	cfg.Models["generator"] = ModelConfig{
		BaseURL:            "https://api.example.com/v1",
		ModelName:          "writer-large",
		MaxOutputTokens:    2048,
		RateLimitPerMinute: 60,
		TimeoutSeconds:     120,
	}
	cfg.Models["evaluator"] = ModelConfig{
		BaseURL:            "https://api.example.com/v1",
		ModelName:          "judge-large",
		MaxOutputTokens:    1024,
		RateLimitPerMinute: 60,
		TimeoutSeconds:     60,
	}
	cfg.Detector.BaseURL = "https://detect.example.com"
	return cfg
}

func TestDefault_AppliesDocumentedDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Gate.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", cfg.Gate.MaxAttempts)
	}
	if cfg.Gate.TransientRetries != 2 {
		t.Errorf("transient_retries = %d, want 2", cfg.Gate.TransientRetries)
	}
	if cfg.Gate.DetectionThreshold != 69 {
		t.Errorf("detection_threshold = %.1f, want 69", cfg.Gate.DetectionThreshold)
	}
	if cfg.Gate.SubjectiveThreshold != 7.0 {
		t.Errorf("subjective_threshold = %.1f, want 7.0", cfg.Gate.SubjectiveThreshold)
	}
	if cfg.Gate.StrictnessCeiling != 5 {
		t.Errorf("strictness_ceiling = %d, want 5", cfg.Gate.StrictnessCeiling)
	}
	if cfg.Detector.MinInputLength != 300 {
		t.Errorf("min_input_length = %d, want 300", cfg.Detector.MinInputLength)
	}
	if cfg.Gate.RecencyHalfLife != 10 {
		t.Errorf("recency_half_life = %d, want 10", cfg.Gate.RecencyHalfLife)
	}

	// Every content kind ships params, instructions, and a typical length
	for _, kind := range models.Kinds() {
		kp, ok := cfg.Params[string(kind)]
		if !ok {
			t.Errorf("missing params for kind %s", kind)
			continue
		}
		if kp.TypicalLength < 1 {
			t.Errorf("kind %s has no typical length", kind)
		}
		if kp.Defaults.Temperature == 0 {
			t.Errorf("kind %s has no default temperature", kind)
		}
		if cfg.Templates.KindInstructions[string(kind)] == "" {
			t.Errorf("kind %s has no instructions", kind)
		}
	}

	// Short-form is the only kind under the detector minimum, which is what
	// makes it batch-eligible
	if cfg.Params[string(models.KindShortForm)].TypicalLength >= cfg.Detector.MinInputLength {
		t.Error("short-form typical length should sit below the detector minimum")
	}
	if cfg.Params[string(models.KindLongForm)].TypicalLength < cfg.Detector.MinInputLength {
		t.Error("long-form typical length should clear the detector minimum")
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestValidate_RejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max attempts", func(c *Config) { c.Gate.MaxAttempts = 0 }},
		{"excessive max attempts", func(c *Config) { c.Gate.MaxAttempts = 21 }},
		{"negative transient retries", func(c *Config) { c.Gate.TransientRetries = -1 }},
		{"detection threshold above 100", func(c *Config) { c.Gate.DetectionThreshold = 101 }},
		{"subjective threshold above 10", func(c *Config) { c.Gate.SubjectiveThreshold = 10.5 }},
		{"strictness ceiling above 5", func(c *Config) { c.Gate.StrictnessCeiling = 6 }},
		{"batch size of one", func(c *Config) { c.Gate.MaxBatchSize = 1 }},
		{"batch size above cap", func(c *Config) { c.Gate.MaxBatchSize = 6 }},
		{"jitter above half", func(c *Config) { c.Gate.JitterFraction = 0.6 }},
		{"missing generator model", func(c *Config) { delete(c.Models, "generator") }},
		{"missing evaluator model", func(c *Config) { delete(c.Models, "evaluator") }},
		{"generator without base url", func(c *Config) {
			m := c.Models["generator"]
			m.BaseURL = ""
			c.Models["generator"] = m
		}},
		{"generator without model name", func(c *Config) {
			m := c.Models["generator"]
			m.ModelName = ""
			c.Models["generator"] = m
		}},
		{"missing detector url", func(c *Config) { c.Detector.BaseURL = "" }},
		{"zero detector min length", func(c *Config) { c.Detector.MinInputLength = 0 }},
		{"missing store path", func(c *Config) { c.Store.Path = "" }},
		{"missing catalog dir", func(c *Config) { c.Catalog.Dir = "" }},
		{"zero concurrency", func(c *Config) { c.Run.Concurrency = 0 }},
		{"unknown params kind", func(c *Config) { c.Params["haiku"] = c.Params["long-form"] }},
		{"missing params kind", func(c *Config) { delete(c.Params, "long-form") }},
		{"inverted knob range", func(c *Config) {
			kp := c.Params["long-form"]
			kp.Ranges["temperature"] = Range{Min: 1.0, Max: 0.5}
			c.Params["long-form"] = kp
		}},
		{"default outside its range", func(c *Config) {
			kp := c.Params["long-form"]
			kp.Defaults.Temperature = 2.0
			c.Params["long-form"] = kp
		}},
		{"inverted word count band", func(c *Config) {
			kp := c.Params["long-form"]
			kp.Defaults.WordCountMin = 500
			kp.Defaults.WordCountMax = 250
			kp.Ranges = nil
			c.Params["long-form"] = kp
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestClip(t *testing.T) {
	kp := KindParams{
		Ranges: map[string]Range{
			"temperature": {Min: 0.3, Max: 1.2},
			"top_p":       {Min: 0.5, Max: 1.0},
		},
	}

	got := kp.Clip(models.Params{Temperature: 2.0, TopP: 0.1, FrequencyPenalty: 9})
	if got.Temperature != 1.2 {
		t.Errorf("temperature = %.2f, want clipped to 1.2", got.Temperature)
	}
	if got.TopP != 0.5 {
		t.Errorf("top_p = %.2f, want clipped to 0.5", got.TopP)
	}
	// No range configured: passes through
	if got.FrequencyPenalty != 9 {
		t.Errorf("frequency_penalty = %.2f, want untouched", got.FrequencyPenalty)
	}
}

func TestLoad_ParsesFileAndOverrides(t *testing.T) {
	content := `
[gate]
max_attempts = 3
detection_threshold = 75.0

[models.generator]
base_url = "https://api.example.com/v1"
model_name = "writer-large"

[models.evaluator]
base_url = "https://api.example.com/v1"
model_name = "judge-large"

[detector]
base_url = "https://detect.example.com"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Gate.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want file value 3", cfg.Gate.MaxAttempts)
	}
	if cfg.Gate.DetectionThreshold != 75.0 {
		t.Errorf("detection_threshold = %.1f, want file value 75", cfg.Gate.DetectionThreshold)
	}
	// Unset fields pick up defaults
	if cfg.Gate.SubjectiveThreshold != 7.0 {
		t.Errorf("subjective_threshold = %.1f, want default 7.0", cfg.Gate.SubjectiveThreshold)
	}
	if cfg.Models["generator"].MaxOutputTokens != 2048 {
		t.Errorf("generator max tokens = %d, want default 2048", cfg.Models["generator"].MaxOutputTokens)
	}
}

func TestLoad_RejectsMissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	content := `
[gate]
max_attempts = 99
`
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadSecrets(t *testing.T) {
	t.Setenv("ABLATEXT_GENERATOR_KEY", "gen-key")
	t.Setenv("ABLATEXT_DETECTOR_KEY", "det-key")

	secrets, err := LoadSecrets()
	if err != nil {
		t.Fatal(err)
	}
	if got := secrets.GetAPIKey("generator"); got != "gen-key" {
		t.Errorf("generator key = %q", got)
	}
	if got := secrets.GetAPIKey("detector"); got != "det-key" {
		t.Errorf("detector key = %q", got)
	}
	if got := secrets.GetAPIKey("evaluator"); got != "" {
		t.Errorf("unset evaluator key = %q, want empty", got)
	}
}
