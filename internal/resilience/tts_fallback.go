package resilience

import (
	"context"
	"errors"

	"github.com/vartalaap/vartalaap/pkg/provider/tts"
	"github.com/vartalaap/vartalaap/pkg/types"
)

var errEmptyReply = errors.New("empty reply")

// TTSFallback implements [tts.Provider] with failover across several speech
// synthesis backends, each behind its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text with the first healthy backend. Empty audio counts
// as a failure of that backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (tts.Audio, error) {
	return ExecuteUntil(ctx, f.group,
		func(ctx context.Context, p tts.Provider) (tts.Audio, error) {
			a, err := p.Synthesize(ctx, text, voice)
			if err != nil {
				return tts.Audio{}, err
			}
			if len(a.Data) == 0 {
				return tts.Audio{}, errEmptyReply
			}
			return a, nil
		}, nil)
}

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }
