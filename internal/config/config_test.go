package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	path := writeFile(t, dir, "config.yaml", `
output:
  city: Essen
  concurrency: 2
attendees:
  seed: 42
  strict_sampling: true
ocr:
  languages: [deu]
`)

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))

	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "Essen", cfg.Output.City)
	assert.Equal(t, 2, cfg.Output.Concurrency)
	assert.Equal(t, uint64(42), cfg.Attendees.Seed)
	assert.True(t, cfg.Attendees.StrictSampling)
	assert.Equal(t, []string{"deu"}, cfg.OCR.Languages)
	assert.Equal(t, 0.10, cfg.Enrichment.TipRate)
	assert.Equal(t, "Projektbesprechung %s", cfg.Enrichment.TopicFormat)
	assert.Equal(t, 18.0, cfg.Attendees.BaseValuePerName)
	assert.Equal(t, 0.08, cfg.Attendees.ValueRate)
	assert.Equal(t, 200.0, cfg.OCR.DPI)
	assert.Equal(t, 2*time.Second, cfg.OpenAI.Backoff)
	assert.Nil(t, cfg.Enrichment.TopicIndex)
	assert.Empty(t, cfg.Output.SignaturePath)
}

func TestLoad_PrefixedEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RECEIPTS_OUTPUT_CITY", "Köln")
	path := writeFile(t, dir, "config.yaml", "output:\n  city: Essen\n")

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))

	require.NoError(t, err)
	assert.Equal(t, "Köln", cfg.Output.City)
}

func TestLoad_DotEnvSuppliesAPIKey(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "")
	require.NoError(t, os.Unsetenv("OPENAI_API_KEY"))
	envPath := writeFile(t, dir, ".env", "OPENAI_API_KEY=sk-from-dotenv\n")
	path := writeFile(t, dir, "config.yaml", "logger:\n  level: debug\n")

	cfg, err := Load(path, envPath)

	require.NoError(t, err)
	assert.Equal(t, "sk-from-dotenv", cfg.OpenAI.APIKey)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			OpenAI:     OpenAIConfig{APIKey: "sk", MaxRetries: 1},
			OCR:        OCRConfig{DPI: 200},
			Attendees:  AttendeesConfig{BaseValuePerName: 18, ValueRate: 0.08},
			Enrichment: EnrichmentConfig{TipRate: 0.1, TopicFormat: "Meeting %s"},
			Output:     OutputConfig{Concurrency: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing api key", func(c *Config) { c.OpenAI.APIKey = "" }, "openai.api_key"},
		{"no retries", func(c *Config) { c.OpenAI.MaxRetries = 0 }, "openai.max_retries"},
		{"zero dpi", func(c *Config) { c.OCR.DPI = 0 }, "ocr.dpi"},
		{"zero base value", func(c *Config) { c.Attendees.BaseValuePerName = 0 }, "base_value_per_name"},
		{"negative tip", func(c *Config) { c.Enrichment.TipRate = -0.1 }, "tip_rate"},
		{"topic without placeholder", func(c *Config) { c.Enrichment.TopicFormat = "Meeting" }, "topic_format"},
		{"no concurrency", func(c *Config) { c.Output.Concurrency = 0 }, "output.concurrency"},
		{"inbox without interval", func(c *Config) {
			c.Inbox = InboxConfig{Enabled: true, Dir: "inbox"}
		}, "inbox.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_ToReceiptConfig(t *testing.T) {
	index := 1
	cfg := &Config{
		Attendees:  AttendeesConfig{Dir: "people", BaseValuePerName: 20, ValueRate: 0.05},
		Enrichment: EnrichmentConfig{TipRate: 0.15, TopicFormat: "Sync %s", TopicIndex: &index},
		Output:     OutputConfig{Concurrency: 3, City: "Essen", SignaturePath: "sig/host.png"},
	}

	rc := cfg.ToReceiptConfig()

	assert.Equal(t, "people", rc.AttendeesDir)
	assert.Equal(t, 3, rc.Concurrency)
	assert.Equal(t, "Essen", rc.City)
	assert.Equal(t, "sig/host.png", rc.SignaturePath)
	assert.Equal(t, 0.15, rc.Enrichment.TipRate)
	assert.Equal(t, &index, rc.Enrichment.TopicIndex)
	assert.Len(t, rc.Registry, 2)
}

func TestConfig_ToExtractorConfig_LoadsPrompts(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "prompts.yaml", `
receipt_extraction:
  temperature: 0.2
  max_tokens: 900
  system: "custom system"
`)
	cfg := &Config{OpenAI: OpenAIConfig{APIKey: "sk", Model: "m", PromptsPath: path}}

	ec, err := cfg.ToExtractorConfig()

	require.NoError(t, err)
	require.NotNil(t, ec.Prompts)
	assert.Equal(t, "custom system", ec.Prompts.ReceiptExtraction.System)
	assert.NotEmpty(t, ec.Prompts.ReceiptExtraction.UserTemplate)

	cfg.OpenAI.PromptsPath = filepath.Join(dir, "missing.yaml")
	_, err = cfg.ToExtractorConfig()
	assert.Error(t, err)
}
