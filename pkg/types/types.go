// Package types defines the shared types used across the Vartalaap packages.
//
// Providers (STT, TTS, LLM) and the tutoring layers exchange these values.
// Each package keeps its own domain types; only the cross-cutting ones live
// here to avoid circular imports.
package types

import "time"

// Transcript is a speech-to-text result. Interim and final results share this
// type; IsFinal distinguishes them.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal is false for interim hypotheses that may still change.
	IsFinal bool

	// Confidence is the recogniser's confidence in [0, 1]. Zero when the
	// provider does not report it.
	Confidence float64

	// Words carries per-word timing when the provider supplies it.
	Words []WordDetail

	// Duration is the length of the audio segment this transcript covers.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Message is one turn in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// VoiceProfile selects a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice or model identifier
	// (e.g. an ElevenLabs voice id or "aura-asteria-en").
	ID string

	// Language is a BCP-47 language tag for the spoken output. Optional.
	Language string

	// SpeedFactor scales speaking rate; 1.0 is normal. Zero means provider default.
	SpeedFactor float64
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsJSONMode reports whether the model can be asked for a JSON-only reply.
	SupportsJSONMode bool
}
