// Package config provides the configuration schema, loader, and provider
// registry for the Vartalaap tutoring server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool { return f == LogText || f == LogJSON }

// Config is the root configuration. Load it with [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Detection     DetectionConfig     `yaml:"detection"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Session       SessionConfig       `yaml:"session"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address to serve on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// AllowedOrigins are host patterns accepted on the tutor websocket, e.g.
	// "app.vartalaap.in" or "localhost:*". Empty allows same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds the certificate pair for HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DetectionConfig tunes the error-detection pipeline.
type DetectionConfig struct {
	// RulesFile replaces the built-in rule catalog when set.
	RulesFile string `yaml:"rules_file"`

	// EscalationWords is the word count a fragment must exceed before the
	// model tiers are consulted. Default 3.
	EscalationWords int `yaml:"escalation_words"`

	// TierTimeout bounds each tier call. Default 2s.
	TierTimeout time.Duration `yaml:"tier_timeout"`

	// ThrottleInterval is the minimum gap between checks on one connection.
	// Default 300ms.
	ThrottleInterval time.Duration `yaml:"throttle_interval"`

	// MinFragmentChars is the length a fragment must exceed to be checked.
	// Default 10.
	MinFragmentChars int `yaml:"min_fragment_chars"`

	// NudgeAfter is the silence after which the learner is nudged. Default 5s.
	NudgeAfter time.Duration `yaml:"nudge_after"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// Tiers lists the model tiers in priority order.
	Tiers []TierConfig `yaml:"tiers"`
}

// CircuitBreakerConfig mirrors the resilience breaker settings.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// TierConfig is one model tier.
type TierConfig struct {
	// Name is reported as the detection method, e.g. "groq".
	Name string `yaml:"name"`

	// Provider is the registry name of the LLM backend.
	Provider string `yaml:"provider"`

	Model   string         `yaml:"model"`
	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Timeout time.Duration  `yaml:"timeout"`
	Options map[string]any `yaml:"options"`
}

// Entry returns the provider entry used to build the tier's backend.
func (t TierConfig) Entry() ProviderEntry {
	return ProviderEntry{
		Name:    t.Provider,
		APIKey:  t.APIKey,
		BaseURL: t.BaseURL,
		Model:   t.Model,
		Options: t.Options,
	}
}

// ProvidersConfig selects the speech and conversation backends.
type ProvidersConfig struct {
	STT         ProviderEntry `yaml:"stt"`
	TTS         ProviderEntry `yaml:"tts"`
	TTSFallback ProviderEntry `yaml:"tts_fallback"`

	// Conversation lists the conversation-partner LLMs in failover order.
	Conversation []ProviderEntry `yaml:"conversation"`
}

// ProviderEntry configures one backend.
type ProviderEntry struct {
	// Name is the registry name, e.g. "deepgram" or "groq". Empty disables
	// the backend.
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Voice selects the TTS voice.
	Voice string `yaml:"voice"`

	// Options carries provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// Enabled reports whether the entry names a backend.
func (e ProviderEntry) Enabled() bool { return e.Name != "" }

// SessionConfig configures session history.
type SessionConfig struct {
	// PostgresDSN enables session history when set.
	PostgresDSN string `yaml:"postgres_dsn"`

	// HistoryLimit caps the sessions returned by the history endpoint.
	// Default 20.
	HistoryLimit int `yaml:"history_limit"`

	// FeedbackFile enables POST /api/v1/feedback. Ratings are appended to it
	// as JSON lines.
	FeedbackFile string `yaml:"feedback_file"`
}

// ObservabilityConfig toggles metrics.
type ObservabilityConfig struct {
	// Metrics serves /metrics when true or unset.
	Metrics *bool `yaml:"metrics"`
}

// MetricsEnabled reports whether /metrics should be served.
func (o ObservabilityConfig) MetricsEnabled() bool { return o.Metrics == nil || *o.Metrics }
