// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (Deepgram Aura, ElevenLabs)
// and turns a short sentence into a playable audio clip. Corrections are a
// sentence or two long, so providers return the whole clip at once rather
// than streaming it.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/vartalaap/vartalaap/pkg/types"
)

// Audio is a synthesised clip.
type Audio struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// MIMEType describes Data, e.g. "audio/wav" or "audio/pcm;rate=16000".
	MIMEType string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice. An empty voice.ID selects
	// the provider default. Returns an error if text is empty, the service
	// fails, or ctx is cancelled first.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (Audio, error)
}
