package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"groq", "openai", "gemini", "anyllm-gemini", "ollama"},
	"stt": {"deepgram"},
	"tts": {"deepgram", "elevenlabs"},
}

// Defaults.
const (
	DefaultListenAddr       = ":8080"
	DefaultReadTimeout      = 15 * time.Second
	DefaultWriteTimeout     = 15 * time.Second
	DefaultEscalationWords  = 3
	DefaultTierTimeout      = 2 * time.Second
	DefaultThrottleInterval = 300 * time.Millisecond
	DefaultMinFragmentChars = 10
	DefaultNudgeAfter       = 5 * time.Second
	DefaultHistoryLimit     = 20
)

// Load reads the YAML file at path, expands ${VAR} references from the
// environment, and returns a validated [Config].
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Parse expands environment references in raw and decodes it.
func Parse(raw []byte) (*Config, error) {
	return decode(os.ExpandEnv(string(raw)))
}

// LoadFromReader decodes a YAML config from r without environment
// expansion, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return decode(string(b))
}

func decode(s string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(s))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero setting that has a default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogText
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}

	d := &cfg.Detection
	if d.EscalationWords == 0 {
		d.EscalationWords = DefaultEscalationWords
	}
	if d.TierTimeout == 0 {
		d.TierTimeout = DefaultTierTimeout
	}
	if d.ThrottleInterval == 0 {
		d.ThrottleInterval = DefaultThrottleInterval
	}
	if d.MinFragmentChars == 0 {
		d.MinFragmentChars = DefaultMinFragmentChars
	}
	if d.NudgeAfter == 0 {
		d.NudgeAfter = DefaultNudgeAfter
	}

	if cfg.Session.HistoryLimit == 0 {
		cfg.Session.HistoryLimit = DefaultHistoryLimit
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}

	d := cfg.Detection
	if d.EscalationWords < 0 {
		errs = append(errs, fmt.Errorf("detection.escalation_words %d must not be negative", d.EscalationWords))
	}
	if d.MinFragmentChars < 0 {
		errs = append(errs, fmt.Errorf("detection.min_fragment_chars %d must not be negative", d.MinFragmentChars))
	}
	for name, v := range map[string]time.Duration{
		"tier_timeout":                  d.TierTimeout,
		"throttle_interval":             d.ThrottleInterval,
		"nudge_after":                   d.NudgeAfter,
		"circuit_breaker.reset_timeout": d.CircuitBreaker.ResetTimeout,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("detection.%s %s must not be negative", name, v))
		}
	}
	if d.CircuitBreaker.MaxFailures < 0 || d.CircuitBreaker.HalfOpenMax < 0 {
		errs = append(errs, errors.New("detection.circuit_breaker counts must not be negative"))
	}

	seen := make(map[string]int, len(d.Tiers))
	for i, t := range d.Tiers {
		prefix := fmt.Sprintf("detection.tiers[%d]", i)
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[t.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of detection.tiers[%d]", prefix, t.Name, prev))
			}
			seen[t.Name] = i
		}
		if t.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required", prefix))
		}
		if t.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout %s must not be negative", prefix, t.Timeout))
		}
		validateProviderName("llm", t.Provider)
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	if cfg.Providers.TTSFallback.Enabled() && !cfg.Providers.TTS.Enabled() {
		errs = append(errs, errors.New("providers.tts_fallback requires providers.tts"))
	}
	for i, c := range cfg.Providers.Conversation {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("providers.conversation[%d].name is required", i))
		}
		validateProviderName("llm", c.Name)
	}

	if cfg.Session.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("session.history_limit %d must not be negative", cfg.Session.HistoryLimit))
	}

	if !cfg.Providers.STT.Enabled() {
		slog.Warn("providers.stt is not configured; the tutor websocket will reject audio")
	}
	if len(d.Tiers) == 0 {
		slog.Warn("detection.tiers is empty; only the rule catalog will detect errors")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
