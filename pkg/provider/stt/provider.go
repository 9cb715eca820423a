// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (Deepgram live
// streaming in production) behind a uniform streaming interface. Once opened,
// a SessionHandle accepts raw audio chunks and emits Transcript values in
// arrival order: interim hypotheses followed by the final result for each
// utterance.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/vartalaap/vartalaap/pkg/types"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition options for a new
// session. Zero values defer to the provider defaults.
type StreamConfig struct {
	// Encoding names raw audio encodings such as "linear16". Leave empty for
	// containerised audio (webm/ogg) so the provider detects it from the stream.
	Encoding string

	// SampleRate in Hz. Required by most providers when Encoding is set.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en", "en-IN").
	Language string

	// InterimResults requests low-latency partial hypotheses.
	InterimResults bool

	// UtteranceEndMs asks the provider to signal the end of an utterance after
	// this much trailing silence. Zero disables it.
	UtteranceEndMs int
}

// SessionHandle is an open streaming transcription session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a chunk of audio bytes to the provider. Calling it
	// after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Transcripts returns the channel of recognition results in arrival order.
	// The channel is closed when the session ends for any reason.
	Transcripts() <-chan types.Transcript

	// Err returns the error that ended the session, or nil after a clean
	// Close. Only meaningful once Transcripts is closed.
	Err() error

	// Close flushes pending audio and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller
	// owns the returned SessionHandle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
