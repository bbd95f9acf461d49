// Package config loads service settings from a YAML file and KRISHI_*
// environment variables. Every key has a default, so an empty environment
// yields a runnable configuration apart from credentials.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "KRISHI"

// Task backends.
const (
	BackendRemote = "remote"
	BackendLocal  = "local"
)

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TasksConfig selects the task-execution backend and its poll timing.
type TasksConfig struct {
	Backend      string        `mapstructure:"backend"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	ChatTimeout  time.Duration `mapstructure:"chat_timeout"`
}

// LLMConfig is used by the local backend only.
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SystemPrompt string        `mapstructure:"system_prompt"`
}

type WeatherConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GeocodeConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheSize   int           `mapstructure:"cache_size"`
	LocateLimit int           `mapstructure:"locate_limit"`
}

type MarketConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	ResourceID string        `mapstructure:"resource_id"`
	Limit      int           `mapstructure:"limit"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type OCRConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Language string        `mapstructure:"language"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type ClassifierConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ShopsConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
}

// TelemetryConfig exports task-runner spans. Exporter is "", "otlp" or
// "zipkin".
type TelemetryConfig struct {
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// SessionConfig persists the session between CLI runs when FilePath is set.
type SessionConfig struct {
	FilePath string `mapstructure:"file_path"`
}

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Weather    WeatherConfig    `mapstructure:"weather"`
	Geocode    GeocodeConfig    `mapstructure:"geocode"`
	Market     MarketConfig     `mapstructure:"market"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Shops      ShopsConfig      `mapstructure:"shops"`
	Session    SessionConfig    `mapstructure:"session"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("tasks.backend", BackendRemote)
	v.SetDefault("tasks.base_url", "")
	v.SetDefault("tasks.api_key", "")
	v.SetDefault("tasks.http_timeout", "30s")
	v.SetDefault("tasks.poll_interval", "2s")
	v.SetDefault("tasks.poll_timeout", "60s")
	v.SetDefault("tasks.chat_timeout", "30s")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.system_prompt", "")

	v.SetDefault("weather.base_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.timeout", "10s")

	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "krishi/1.0")
	v.SetDefault("geocode.timeout", "10s")
	v.SetDefault("geocode.cache_size", 512)
	v.SetDefault("geocode.locate_limit", 20)

	v.SetDefault("market.base_url", "https://api.data.gov.in")
	v.SetDefault("market.api_key", "")
	v.SetDefault("market.resource_id", "")
	v.SetDefault("market.limit", 100)
	v.SetDefault("market.timeout", "15s")

	v.SetDefault("ocr.base_url", "https://api.ocr.space")
	v.SetDefault("ocr.api_key", "")
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.timeout", "60s")

	v.SetDefault("classifier.base_url", "")
	v.SetDefault("classifier.timeout", "30s")

	v.SetDefault("shops.catalog_path", "")
	v.SetDefault("session.file_path", "")

	v.SetDefault("telemetry.exporter", "")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.sample_rate", 1.0)
}

// Load reads path, or krishi.yaml from the working directory or
// $HOME/.krishi when path is empty, then applies KRISHI_* overrides such as
// KRISHI_TASKS_API_KEY.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("krishi")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.krishi")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Tasks.Backend = strings.ToLower(strings.TrimSpace(cfg.Tasks.Backend))
	cfg.Telemetry.Exporter = strings.ToLower(strings.TrimSpace(cfg.Telemetry.Exporter))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that have no safe fallback.
func (c Config) Validate() error {
	var problems []string
	switch c.Tasks.Backend {
	case BackendRemote:
		if strings.TrimSpace(c.Tasks.BaseURL) == "" {
			problems = append(problems, "tasks.base_url is required for the remote backend")
		}
	case BackendLocal:
		if strings.TrimSpace(c.LLM.Model) == "" {
			problems = append(problems, "llm.model is required for the local backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("tasks.backend must be %q or %q, got %q", BackendRemote, BackendLocal, c.Tasks.Backend))
	}
	if c.Tasks.PollInterval <= 0 {
		problems = append(problems, "tasks.poll_interval must be positive")
	}
	if c.Tasks.PollTimeout < c.Tasks.PollInterval {
		problems = append(problems, "tasks.poll_timeout must not be shorter than tasks.poll_interval")
	}
	switch c.Telemetry.Exporter {
	case "", "otlp", "zipkin":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.exporter must be otlp, zipkin or empty, got %q", c.Telemetry.Exporter))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		problems = append(problems, "telemetry.sample_rate must be between 0 and 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
