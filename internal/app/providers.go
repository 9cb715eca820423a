package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/vartalaap/vartalaap/internal/config"
	"github.com/vartalaap/vartalaap/internal/grammar/router"
	"github.com/vartalaap/vartalaap/internal/resilience"
	"github.com/vartalaap/vartalaap/pkg/provider/llm"
	"github.com/vartalaap/vartalaap/pkg/provider/llm/anyllm"
	"github.com/vartalaap/vartalaap/pkg/provider/llm/gemini"
	"github.com/vartalaap/vartalaap/pkg/provider/llm/openai"
	"github.com/vartalaap/vartalaap/pkg/provider/stt"
	sttdeepgram "github.com/vartalaap/vartalaap/pkg/provider/stt/deepgram"
	"github.com/vartalaap/vartalaap/pkg/provider/tts"
	ttsdeepgram "github.com/vartalaap/vartalaap/pkg/provider/tts/deepgram"
	"github.com/vartalaap/vartalaap/pkg/provider/tts/elevenlabs"
	"github.com/vartalaap/vartalaap/pkg/types"
)

// Providers holds the backends built from config. Nil fields are not
// configured.
type Providers struct {
	// Tiers is the model chain the detector escalates to, in order.
	Tiers []router.Tier

	STT stt.Provider

	// TTS speaks corrections. It is a fallback group when tts_fallback is
	// configured.
	TTS   tts.Provider
	Voice types.VoiceProfile

	// Conversation answers the learner; a fallback group over every
	// configured conversation entry.
	Conversation llm.Provider
}

// RegisterBuiltins wires every provider implementation shipped with
// Vartalaap into reg.
func RegisterBuiltins(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	anyLLM := func(backend string) config.Factory[llm.Provider] {
		return func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		}
	}
	reg.RegisterLLM("groq", anyLLM("groq"))
	reg.RegisterLLM("anyllm-gemini", anyLLM("gemini"))
	reg.RegisterLLM("ollama", anyLLM("ollama"))

	reg.RegisterLLM("openai", func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if config.OptBool(entry.Options, "json_responses") {
			opts = append(opts, openai.WithJSONResponses())
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("gemini", func(ctx context.Context, entry config.ProviderEntry) (llm.Provider, error) {
		var opts []gemini.Option
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithEndpoint(entry.BaseURL))
		}
		if config.OptBool(entry.Options, "json_responses") {
			opts = append(opts, gemini.WithJSONResponses())
		}
		return gemini.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(_ context.Context, entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttdeepgram.Option
		if entry.Model != "" {
			opts = append(opts, sttdeepgram.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttdeepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttdeepgram.WithEndpoint(entry.BaseURL))
		}
		if raw := config.OptString(entry.Options, "keep_alive"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("deepgram: keep_alive: %w", err)
			}
			opts = append(opts, sttdeepgram.WithKeepAlive(d))
		}
		return sttdeepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("deepgram", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsdeepgram.Option
		if entry.Model != "" {
			opts = append(opts, ttsdeepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsdeepgram.WithEndpoint(entry.BaseURL))
		}
		return ttsdeepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, elevenlabs.WithVoice(entry.Voice))
		}
		if f := config.OptString(entry.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

// BuildProviders instantiates every provider named in cfg. Entries whose
// provider is not registered are skipped with a log line.
func BuildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	breaker := resilience.FallbackConfig{CircuitBreaker: breakerConfig(cfg.Detection.CircuitBreaker)}

	tiers, err := BuildTiers(ctx, cfg, reg)
	if err != nil {
		return nil, err
	}
	ps.Tiers = tiers

	if entry := cfg.Providers.STT; entry.Enabled() {
		p, err := reg.CreateSTT(ctx, entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered, skipping", "kind", "stt", "name", entry.Name)
		case err != nil:
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		default:
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", entry.Name)
		}
	}

	var speech *resilience.TTSFallback
	for _, entry := range []config.ProviderEntry{cfg.Providers.TTS, cfg.Providers.TTSFallback} {
		if !entry.Enabled() {
			continue
		}
		p, err := reg.CreateTTS(ctx, entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered, skipping", "kind", "tts", "name", entry.Name)
			continue
		case err != nil:
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
		if speech == nil {
			speech = resilience.NewTTSFallback(p, entry.Name, breaker)
			ps.Voice = types.VoiceProfile{ID: entry.Voice, Language: config.OptString(entry.Options, "language")}
		} else {
			speech.AddFallback(entry.Name, p)
		}
	}
	if speech != nil {
		ps.TTS = speech
	}

	var partner *resilience.LLMFallback
	for _, entry := range cfg.Providers.Conversation {
		p, err := reg.CreateLLM(ctx, entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered, skipping", "kind", "conversation", "name", entry.Name)
			continue
		case err != nil:
			return nil, fmt.Errorf("create conversation provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "conversation", "name", entry.Name, "model", entry.Model)
		if partner == nil {
			partner = resilience.NewLLMFallback(p, entry.Name, breaker)
		} else {
			partner.AddFallback(entry.Name, p)
		}
	}
	if partner != nil {
		ps.Conversation = partner
	}

	return ps, nil
}

// BuildTiers instantiates the detection tiers in configured order.
func BuildTiers(ctx context.Context, cfg *config.Config, reg *config.Registry) ([]router.Tier, error) {
	var tiers []router.Tier
	for _, tc := range cfg.Detection.Tiers {
		p, err := reg.CreateLLM(ctx, tc.Entry())
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered, skipping tier", "tier", tc.Name, "provider", tc.Provider)
			continue
		case err != nil:
			return nil, fmt.Errorf("create tier %q: %w", tc.Name, err)
		}
		tiers = append(tiers, router.Tier{Name: tc.Name, Provider: p, Timeout: tc.Timeout})
		slog.Info("detection tier created", "tier", tc.Name, "provider", tc.Provider, "model", tc.Model)
	}
	return tiers, nil
}

func breakerConfig(c config.CircuitBreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		MaxFailures:  c.MaxFailures,
		ResetTimeout: c.ResetTimeout,
		HalfOpenMax:  c.HalfOpenMax,
	}
}
