// ABOUTME: Configuration loading and parsing for interviewd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete interviewd configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Media     MediaConfig     `yaml:"media"`
	Transport TransportConfig `yaml:"transport"`
	Interview InterviewConfig `yaml:"interview"`
	AI        AIConfig        `yaml:"ai"`
	Speech    SpeechConfig    `yaml:"speech"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MediaConfig holds storage configuration for downloaded voice notes
type MediaConfig struct {
	Dir string `yaml:"dir"`
}

// TransportConfig holds connection supervisor configuration
type TransportConfig struct {
	// Providers is the priority-ordered fallback chain. The first provider
	// that yields a live connection or a pairing code wins.
	Providers []string `yaml:"providers"`
	MaxSlots  int      `yaml:"max_slots"`

	PairingTimeout    time.Duration `yaml:"-"`
	KeepaliveInterval time.Duration `yaml:"-"`
	ReconnectDelay    time.Duration `yaml:"-"`
	RetryDelay        time.Duration `yaml:"-"`
	MaxRetries        int           `yaml:"max_retries"`

	// Raw string values for YAML unmarshaling
	PairingTimeoutRaw    string `yaml:"pairing_timeout"`
	KeepaliveIntervalRaw string `yaml:"keepalive_interval"`
	ReconnectDelayRaw    string `yaml:"reconnect_delay"`
	RetryDelayRaw        string `yaml:"retry_delay"`

	Evolution  EvolutionConfig  `yaml:"evolution"`
	WppConnect WppConnectConfig `yaml:"wppconnect"`
	Matrix     MatrixConfig     `yaml:"matrix"`
}

// EvolutionConfig holds Evolution API provider configuration
type EvolutionConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// WppConnectConfig holds WppConnect provider configuration
type WppConnectConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// MatrixConfig holds Matrix provider configuration
type MatrixConfig struct {
	Homeserver string `yaml:"homeserver"`
	UserID     string `yaml:"user_id"`
}

// InterviewConfig holds conversation engine configuration
type InterviewConfig struct {
	Language    string `yaml:"language"`
	CompanyName string `yaml:"company_name"`
	LinkBaseURL string `yaml:"link_base_url"`
	LinkSecret  string `yaml:"link_secret"`

	LinkTTL    time.Duration `yaml:"-"`
	LinkTTLRaw string        `yaml:"link_ttl"`

	Templates TemplatesConfig `yaml:"templates"`
}

// TemplatesConfig holds operator-authored outbound message templates.
// Empty fields fall back to built-in defaults.
type TemplatesConfig struct {
	Invitation string `yaml:"invitation"`
	Greeting   string `yaml:"greeting"`
	Decline    string `yaml:"decline"`
	Closing    string `yaml:"closing"`
	Redirect   string `yaml:"redirect"`
	Cancelled  string `yaml:"cancelled"`
}

// AIConfig holds transcription and scoring configuration
type AIConfig struct {
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	TranscribeModel string `yaml:"transcribe_model"`
	ScoreModel      string `yaml:"score_model"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// SpeechConfig holds text-to-speech configuration. Synthesis is optional;
// when disabled or failing, questions are delivered text-only.
type SpeechConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. Unset variables are replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Transport.Providers) == 0 {
		return fmt.Errorf("transport.providers must list at least one provider")
	}
	for _, p := range c.Transport.Providers {
		switch p {
		case "evolution", "wppconnect", "matrix":
		default:
			return fmt.Errorf("transport.providers: unknown provider %q", p)
		}
	}

	if c.Transport.MaxSlots < 1 {
		return fmt.Errorf("transport.max_slots must be at least 1")
	}

	if c.Interview.LinkBaseURL != "" && c.Interview.LinkSecret == "" {
		return fmt.Errorf("interview.link_secret is required when link_base_url is set")
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Media.Dir == "" {
		cfg.Media.Dir = "uploads"
	}
	if cfg.Transport.MaxSlots == 0 {
		cfg.Transport.MaxSlots = 3
	}
	if cfg.Transport.PairingTimeout == 0 {
		cfg.Transport.PairingTimeout = 3 * time.Minute
	}
	if cfg.Transport.KeepaliveInterval == 0 {
		cfg.Transport.KeepaliveInterval = 25 * time.Second
	}
	if cfg.Transport.ReconnectDelay == 0 {
		cfg.Transport.ReconnectDelay = 5 * time.Second
	}
	if cfg.Transport.RetryDelay == 0 {
		cfg.Transport.RetryDelay = 30 * time.Second
	}
	if cfg.Transport.MaxRetries == 0 {
		cfg.Transport.MaxRetries = 5
	}
	if cfg.Interview.Language == "" {
		cfg.Interview.Language = "pt"
	}
	if cfg.Interview.LinkTTL == 0 {
		cfg.Interview.LinkTTL = 7 * 24 * time.Hour
	}
	if cfg.AI.TranscribeModel == "" {
		cfg.AI.TranscribeModel = "gemini-2.5-flash"
	}
	if cfg.AI.ScoreModel == "" {
		cfg.AI.ScoreModel = "gemini-2.5-pro"
	}
	if cfg.AI.RequestTimeout == 0 {
		cfg.AI.RequestTimeout = 30 * time.Second
	}
	if cfg.Speech.Model == "" {
		cfg.Speech.Model = "tts-1"
	}
	if cfg.Speech.Voice == "" {
		cfg.Speech.Voice = "nova"
	}
	if cfg.Speech.RequestTimeout == 0 {
		cfg.Speech.RequestTimeout = 20 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Transport.PairingTimeoutRaw, &cfg.Transport.PairingTimeout, "pairing_timeout"},
		{cfg.Transport.KeepaliveIntervalRaw, &cfg.Transport.KeepaliveInterval, "keepalive_interval"},
		{cfg.Transport.ReconnectDelayRaw, &cfg.Transport.ReconnectDelay, "reconnect_delay"},
		{cfg.Transport.RetryDelayRaw, &cfg.Transport.RetryDelay, "retry_delay"},
		{cfg.Interview.LinkTTLRaw, &cfg.Interview.LinkTTL, "link_ttl"},
		{cfg.AI.RequestTimeoutRaw, &cfg.AI.RequestTimeout, "ai.request_timeout"},
		{cfg.Speech.RequestTimeoutRaw, &cfg.Speech.RequestTimeout, "speech.request_timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
