package config

import (
	"github.com/garyjia/receipt-pipeline/internal/application/enrichment"
	"github.com/garyjia/receipt-pipeline/internal/application/service"
	"github.com/garyjia/receipt-pipeline/internal/domain/attendee"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/external/openai"
	"github.com/garyjia/receipt-pipeline/pkg/database"
	"github.com/garyjia/receipt-pipeline/pkg/utils"
)

// ToDatabaseConfig converts the database section for pkg/database
func (c *Config) ToDatabaseConfig() database.Config {
	return database.Config{
		Path:            c.Database.Path,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		BusyTimeout:     c.Database.BusyTimeout,
	}
}

// ToLoggerConfig converts the logger section for pkg/utils
func (c *Config) ToLoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}

// ToExtractorConfig converts the openai section. Prompts are loaded from
// prompts_path when set, otherwise the built-in prompts are used.
func (c *Config) ToExtractorConfig() (openai.Config, error) {
	cfg := openai.Config{
		APIKey:     c.OpenAI.APIKey,
		BaseURL:    c.OpenAI.BaseURL,
		Model:      c.OpenAI.Model,
		MaxRetries: c.OpenAI.MaxRetries,
		Backoff:    c.OpenAI.Backoff,
		Timeout:    c.OpenAI.Timeout,
	}
	if c.OpenAI.PromptsPath != "" {
		prompts, err := openai.LoadPrompts(c.OpenAI.PromptsPath)
		if err != nil {
			return openai.Config{}, err
		}
		cfg.Prompts = prompts
	}
	return cfg, nil
}

// ToReceiptConfig converts the business sections for the receipt service
func (c *Config) ToReceiptConfig() service.ReceiptConfig {
	return service.ReceiptConfig{
		Enrichment: enrichment.Config{
			TipRate:     c.Enrichment.TipRate,
			TopicFormat: c.Enrichment.TopicFormat,
			TopicIndex:  c.Enrichment.TopicIndex,
		},
		Registry: []attendee.Option{
			attendee.WithValuePerName(c.Attendees.BaseValuePerName, c.Attendees.ValueRate),
			attendee.WithStrictSampling(c.Attendees.StrictSampling),
		},
		Concurrency:   c.Output.Concurrency,
		City:          c.Output.City,
		AttendeesDir:  c.Attendees.Dir,
		SignaturePath: c.Output.SignaturePath,
	}
}
