package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for waypost-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// MigrationsPath is the directory containing SQL migration files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Generative backend configuration
	LLM LLMConfig `yaml:"llm"`

	// Web search backend configuration
	Search SearchConfig `yaml:"search"`

	// Mailbox polling configuration (newsletter ingestion)
	Mailbox MailboxConfig `yaml:"mailbox"`

	// Scheduler tick configuration
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"waypost"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"waypost_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// LLMConfig describes the generative backend used for discovery extraction,
// result scoring, progress analysis, and question generation.
type LLMConfig struct {
	// Provider selects the client implementation: "openai" (default, any
	// OpenAI-compatible endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	// Temperature applied to all completion calls.
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.2"`
}

// SearchConfig describes the pluggable web-search capability.
type SearchConfig struct {
	Endpoint   string `yaml:"endpoint" env:"SEARCH_ENDPOINT" env-default:""`
	APIKey     string `yaml:"-" env:"SEARCH_API_KEY"` // Secret - not in YAML
	MaxResults int    `yaml:"max_results" env:"SEARCH_MAX_RESULTS" env-default:"10"`
}

// MailboxConfig holds IMAP account settings for newsletter ingestion.
// Per-user account records may override these; each field acts as the
// environment-variable fallback when the account record leaves it unset.
type MailboxConfig struct {
	Enabled  bool   `yaml:"enabled" env:"MAILBOX_ENABLED" env-default:"false"`
	Server   string `yaml:"server" env:"MAILBOX_SERVER" env-default:""`
	Port     int    `yaml:"port" env:"MAILBOX_PORT" env-default:"993"`
	Username string `yaml:"username" env:"MAILBOX_USERNAME" env-default:""`
	Password string `yaml:"-" env:"MAILBOX_PASSWORD"` // Secret - not in YAML
	Secure   bool   `yaml:"secure" env:"MAILBOX_SECURE" env-default:"true"`

	// SourcesStr is a comma-separated sender allow-list.
	SourcesStr string `yaml:"sources" env:"MAILBOX_SOURCES" env-default:""`

	// Sources is the parsed slice from SourcesStr (not from config file).
	Sources []string `yaml:"-"`
}

// SchedulerConfig defines how often due schedules and mailboxes are checked.
type SchedulerConfig struct {
	TickSeconds int `yaml:"tick_seconds" env:"SCHEDULER_TICK_SECONDS" env-default:"60"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. When config.yaml is absent, configuration comes from the
// environment alone. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Mailbox.Sources = parseSources(cfg.Mailbox.SourcesStr)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	if c.Mailbox.Enabled && c.Mailbox.Server == "" {
		return fmt.Errorf("mailbox enabled but no server configured")
	}

	return nil
}

// parseSources splits the comma-separated allow-list into trimmed,
// lower-cased sender addresses.
func parseSources(value string) []string {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	sources := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			sources = append(sources, trimmed)
		}
	}
	return sources
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
