package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// DotEnvFile is loaded before the config file when no other env files are given
const DotEnvFile = ".env"

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Attendees  AttendeesConfig  `mapstructure:"attendees"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Output     OutputConfig     `mapstructure:"output"`
	Inbox      InboxConfig      `mapstructure:"inbox"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// OpenAIConfig holds the extraction service configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PromptsPath string        `mapstructure:"prompts_path"`
}

// OCRConfig holds page rendering and text recognition settings
type OCRConfig struct {
	DPI       float64  `mapstructure:"dpi"`
	Languages []string `mapstructure:"languages"`
}

// AttendeesConfig holds the attendee registry settings
type AttendeesConfig struct {
	Dir              string  `mapstructure:"dir"`
	BaseValuePerName float64 `mapstructure:"base_value_per_name"`
	ValueRate        float64 `mapstructure:"value_rate"`
	StrictSampling   bool    `mapstructure:"strict_sampling"`
	Seed             uint64  `mapstructure:"seed"`
}

// EnrichmentConfig holds the tip and topic rules
type EnrichmentConfig struct {
	TipRate     float64 `mapstructure:"tip_rate"`
	TopicFormat string  `mapstructure:"topic_format"`
	TopicIndex  *int    `mapstructure:"topic_index"`
}

// OutputConfig holds document output settings
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	Concurrency int    `mapstructure:"concurrency"`
	City        string `mapstructure:"city"`
	// SignaturePath is optional; forms are left unsigned without it
	SignaturePath string `mapstructure:"signature_path"`
}

// InboxConfig holds the inbox worker settings
type InboxConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Dir      string        `mapstructure:"dir"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from env files, the config file and environment
// variables. Missing env files are ignored.
func Load(configPath string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{DotEnvFile}
	}
	for _, file := range envFiles {
		if err := gotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RECEIPTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Override with environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/receipts.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_retries", 3)
	v.SetDefault("openai.backoff", 2*time.Second)
	v.SetDefault("openai.timeout", 60*time.Second)
	v.SetDefault("openai.prompts_path", "")

	// OCR defaults
	v.SetDefault("ocr.dpi", 200)
	v.SetDefault("ocr.languages", []string{"deu", "eng"})

	// Attendee defaults
	v.SetDefault("attendees.dir", "data")
	v.SetDefault("attendees.base_value_per_name", 18.0)
	v.SetDefault("attendees.value_rate", 0.08)
	v.SetDefault("attendees.strict_sampling", false)
	v.SetDefault("attendees.seed", 0)

	// Enrichment defaults
	v.SetDefault("enrichment.tip_rate", 0.10)
	v.SetDefault("enrichment.topic_format", "Projektbesprechung %s")

	// Output defaults
	v.SetDefault("output.dir", "data")
	v.SetDefault("output.concurrency", 4)
	v.SetDefault("output.city", "Berlin")
	v.SetDefault("output.signature_path", "")

	// Inbox defaults
	v.SetDefault("inbox.enabled", false)
	v.SetDefault("inbox.dir", "inbox")
	v.SetDefault("inbox.interval", 30*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.OpenAI.MaxRetries < 1 {
		return fmt.Errorf("openai.max_retries must be at least 1")
	}
	if c.OCR.DPI <= 0 {
		return fmt.Errorf("ocr.dpi must be positive")
	}
	if c.Attendees.BaseValuePerName <= 0 {
		return fmt.Errorf("attendees.base_value_per_name must be positive")
	}
	if c.Attendees.ValueRate < 0 {
		return fmt.Errorf("attendees.value_rate must not be negative")
	}
	if c.Enrichment.TipRate < 0 {
		return fmt.Errorf("enrichment.tip_rate must not be negative")
	}
	if strings.Count(c.Enrichment.TopicFormat, "%s") != 1 {
		return fmt.Errorf("enrichment.topic_format must contain exactly one %%s")
	}
	if c.Output.Concurrency < 1 {
		return fmt.Errorf("output.concurrency must be at least 1")
	}
	if c.Inbox.Enabled {
		if c.Inbox.Dir == "" {
			return fmt.Errorf("inbox.dir is required when the inbox is enabled")
		}
		if c.Inbox.Interval <= 0 {
			return fmt.Errorf("inbox.interval must be positive")
		}
	}
	return nil
}
