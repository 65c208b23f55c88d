// Package config loads runtime settings from an optional YAML file, an
// optional .env file and TRIAGE_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "triage"

type MailboxConfig struct {
	Provider string `mapstructure:"provider"`
	Query    string `mapstructure:"query"`
}

type GmailConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	User            string `mapstructure:"user"`
}

type OutlookConfig struct {
	User string `mapstructure:"user"`
}

// AuthConfig points at a remote token broker. When TokenURL is empty the
// gmail provider falls back to local credential files.
type AuthConfig struct {
	TokenURL string `mapstructure:"token_url"`
	UserJWT  string `mapstructure:"user_jwt"`
}

type IMAPConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TLS           bool   `mapstructure:"tls"`
	Mailbox       string `mapstructure:"mailbox"`
	SentMailbox   string `mapstructure:"sent_mailbox"`
	DraftsMailbox string `mapstructure:"drafts_mailbox"`
}

type ReasoningConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// TriageConfig holds scheduler limits and pacing
type TriageConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	BootstrapLimit int           `mapstructure:"bootstrap_limit"`
	LiveLimit      int           `mapstructure:"live_limit"`
	HistoryLimit   int           `mapstructure:"history_limit"`
	BodyLimit      int           `mapstructure:"body_limit"`
	SummaryLimit   int           `mapstructure:"summary_limit"`
	ClassifyDelay  time.Duration `mapstructure:"classify_delay"`
	GenerateDelay  time.Duration `mapstructure:"generate_delay"`
	DraftDelay     time.Duration `mapstructure:"draft_delay"`
	MessageDelay   time.Duration `mapstructure:"message_delay"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

type APIConfig struct {
	Addr    string `mapstructure:"addr"`
	JWKSURL string `mapstructure:"jwks_url"`
}

type JournalConfig struct {
	Path        string `mapstructure:"path"`
	// MemoryLimit caps the classifications recalled per sender; 0 disables
	// sender memory.
	MemoryLimit int    `mapstructure:"memory_limit"`
}

type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
}

// Config is the root of all settings
type Config struct {
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Outlook   OutlookConfig   `mapstructure:"outlook"`
	Auth      AuthConfig      `mapstructure:"auth"`
	IMAP      IMAPConfig      `mapstructure:"imap"`
	Reasoning ReasoningConfig `mapstructure:"reasoning"`
	Triage    TriageConfig    `mapstructure:"triage"`
	Log       LogConfig       `mapstructure:"log"`
	API       APIConfig       `mapstructure:"api"`
	Journal   JournalConfig   `mapstructure:"journal"`
	NATS      NATSConfig      `mapstructure:"nats"`
}

// SecretLookup resolves a secret that was not given in config.
// auth.SecretStore implements it over the OS keyring.
type SecretLookup interface {
	Lookup(value, key string) (string, error)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mailbox.provider", "gmail")
	v.SetDefault("mailbox.query", "category:primary")

	v.SetDefault("gmail.credentials_file", "credentials.json")
	v.SetDefault("gmail.token_file", "token.json")
	v.SetDefault("gmail.user", "me")

	v.SetDefault("outlook.user", "me")

	v.SetDefault("auth.token_url", "")
	v.SetDefault("auth.user_jwt", "")

	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("imap.sent_mailbox", "")
	v.SetDefault("imap.drafts_mailbox", "Drafts")

	v.SetDefault("reasoning.provider", "anthropic")
	v.SetDefault("reasoning.model", "")
	v.SetDefault("reasoning.api_key", "")
	v.SetDefault("reasoning.base_url", "")
	v.SetDefault("reasoning.max_tokens", 1024)
	v.SetDefault("reasoning.timeout", "60s")
	v.SetDefault("reasoning.requests_per_minute", 30)

	v.SetDefault("triage.interval", "60s")
	v.SetDefault("triage.bootstrap_limit", 5)
	v.SetDefault("triage.live_limit", 10)
	v.SetDefault("triage.history_limit", 20)
	v.SetDefault("triage.body_limit", 2000)
	v.SetDefault("triage.summary_limit", 1500)
	v.SetDefault("triage.classify_delay", "1s")
	v.SetDefault("triage.generate_delay", "2s")
	v.SetDefault("triage.draft_delay", "1s")
	v.SetDefault("triage.message_delay", "2s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")

	v.SetDefault("api.addr", "")
	v.SetDefault("api.jwks_url", "")

	v.SetDefault("journal.path", "")
	v.SetDefault("journal.memory_limit", 10)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "TRIAGE_EVENTS")
}

// Load reads configuration. configFile may be empty; a named file that
// does not exist is an error.
//
// Precedence, highest first:
//  1. TRIAGE_* environment variables (TRIAGE_TRIAGE_INTERVAL, TRIAGE_IMAP_HOST, ...)
//  2. .env in the working directory, which only fills unset variables
//  3. the YAML config file
//  4. defaults
func Load(configFile string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a cycle
func (c *Config) Validate() error {
	var errs []error

	switch c.Mailbox.Provider {
	case "gmail", "outlook":
	case "imap":
		if c.IMAP.Host == "" {
			errs = append(errs, errors.New("imap.host is required for the imap provider"))
		}
		if c.IMAP.Username == "" {
			errs = append(errs, errors.New("imap.username is required for the imap provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mailbox.provider %q", c.Mailbox.Provider))
	}

	if c.Mailbox.Provider == "outlook" && c.Auth.TokenURL == "" {
		errs = append(errs, errors.New("auth.token_url is required for the outlook provider"))
	}

	switch strings.ToLower(c.Reasoning.Provider) {
	case "anthropic", "openai", "groq":
	default:
		errs = append(errs, fmt.Errorf("unknown reasoning.provider %q", c.Reasoning.Provider))
	}

	if c.Triage.Interval <= 0 {
		errs = append(errs, errors.New("triage.interval must be positive"))
	}
	if c.Triage.BootstrapLimit <= 0 || c.Triage.LiveLimit <= 0 {
		errs = append(errs, errors.New("triage.bootstrap_limit and triage.live_limit must be positive"))
	}
	if c.Triage.HistoryLimit <= 0 {
		errs = append(errs, errors.New("triage.history_limit must be positive"))
	}

	for key, d := range map[string]time.Duration{
		"triage.classify_delay": c.Triage.ClassifyDelay,
		"triage.generate_delay": c.Triage.GenerateDelay,
		"triage.draft_delay":    c.Triage.DraftDelay,
		"triage.message_delay":  c.Triage.MessageDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", key))
		}
	}

	if c.Journal.MemoryLimit < 0 {
		errs = append(errs, errors.New("journal.memory_limit must not be negative"))
	}

	if c.NATS.URL != "" {
		if c.NATS.Stream == "" {
			errs = append(errs, errors.New("nats.stream is required when nats.url is set"))
		}
		// Events are published from the journal outbox
		if c.Journal.Path == "" {
			errs = append(errs, errors.New("nats.url requires journal.path"))
		}
	}

	return errors.Join(errs...)
}

// ResolveSecrets fills empty secrets from store
func (c *Config) ResolveSecrets(store SecretLookup) error {
	apiKey, err := store.Lookup(c.Reasoning.APIKey, "reasoning.api_key")
	if err != nil {
		return fmt.Errorf("resolving reasoning.api_key: %w", err)
	}
	c.Reasoning.APIKey = apiKey

	if c.Mailbox.Provider == "imap" {
		password, err := store.Lookup(c.IMAP.Password, "imap.password")
		if err != nil {
			return fmt.Errorf("resolving imap.password: %w", err)
		}
		c.IMAP.Password = password
	}
	return nil
}

// NeedsSecrets reports whether any secret is still missing after config
func (c *Config) NeedsSecrets() bool {
	return c.Reasoning.APIKey == "" || (c.Mailbox.Provider == "imap" && c.IMAP.Password == "")
}

func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
