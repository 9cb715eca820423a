// Package tutor serves the live practice websocket.
//
// A client opens a socket, starts a session and streams microphone audio.
// The [Handler] forwards the audio to a streaming speech-to-text provider,
// echoes transcripts back, runs the grammar pipeline on them and answers
// each mistake with a text correction and, when a TTS provider is set, a
// spoken one. Closing the socket ends the session.
package tutor

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/vartalaap/vartalaap/internal/grammar"
	"github.com/vartalaap/vartalaap/internal/grammar/chunk"
	"github.com/vartalaap/vartalaap/internal/observe"
	"github.com/vartalaap/vartalaap/internal/session"
	"github.com/vartalaap/vartalaap/pkg/provider/llm"
	"github.com/vartalaap/vartalaap/pkg/provider/stt"
	"github.com/vartalaap/vartalaap/pkg/provider/tts"
	"github.com/vartalaap/vartalaap/pkg/types"
)

const (
	// DefaultThrottle is the minimum gap between two full checks on one
	// connection.
	DefaultThrottle = 300 * time.Millisecond

	// DefaultMinFragmentChars is the length a fragment must exceed to be
	// checked.
	DefaultMinFragmentChars = 10

	// DefaultNudgeAfter is the thinking pause after which the learner is
	// nudged.
	DefaultNudgeAfter = 5 * time.Second

	defaultWriteTimeout = 5 * time.Second
	defaultTTSTimeout   = 10 * time.Second
	maxMessageBytes     = 1 << 20
)

// Detector is the grammar pipeline used on transcripts.
type Detector interface {
	chunk.Checker
	Detect(ctx context.Context, text string, gctx grammar.Context) grammar.Detection
	DetectFillers(text string) []string
}

// Handler is an http.Handler that upgrades requests to tutor websockets.
type Handler struct {
	detector Detector
	sessions *session.Manager
	speech   stt.Provider

	voice        tts.Provider
	voiceProfile types.VoiceProfile
	partner      llm.Provider

	stream         stt.StreamConfig
	throttle       time.Duration
	minChars       int
	nudgeAfter     time.Duration
	writeTimeout   time.Duration
	originPatterns []string
	metrics        *observe.Metrics
	now            func() time.Time

	active atomic.Int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithTTS enables spoken corrections through p.
func WithTTS(p tts.Provider, voice types.VoiceProfile) Option {
	return func(h *Handler) {
		h.voice = p
		h.voiceProfile = voice
	}
}

// WithConversation enables conversational replies to final fragments.
func WithConversation(p llm.Provider) Option {
	return func(h *Handler) { h.partner = p }
}

// WithStreamConfig sets the audio format requested from the STT provider.
func WithStreamConfig(cfg stt.StreamConfig) Option {
	return func(h *Handler) { h.stream = cfg }
}

// WithThrottle sets the minimum gap between full checks.
func WithThrottle(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.throttle = d
		}
	}
}

// WithMinFragmentChars sets the length a fragment must exceed to be checked.
func WithMinFragmentChars(n int) Option {
	return func(h *Handler) {
		if n >= 0 {
			h.minChars = n
		}
	}
}

// WithNudgeAfter sets the thinking pause that triggers a nudge.
func WithNudgeAfter(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.nudgeAfter = d
		}
	}
}

// WithWriteTimeout bounds each message written to the client.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithOriginPatterns sets the origins allowed to open a socket. A "*" entry
// disables the origin check.
func WithOriginPatterns(patterns []string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New creates a Handler. speech may be nil, in which case audio messages are
// rejected and only the session lifecycle is served.
func New(d Detector, sessions *session.Manager, speech stt.Provider, opts ...Option) *Handler {
	h := &Handler{
		detector:     d,
		sessions:     sessions,
		speech:       speech,
		stream:       stt.StreamConfig{Channels: 1, InterimResults: true},
		throttle:     DefaultThrottle,
		minChars:     DefaultMinFragmentChars,
		nudgeAfter:   DefaultNudgeAfter,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// ActiveConnections returns the number of open sockets.
func (h *Handler) ActiveConnections() int { return int(h.active.Load()) }

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.originPatterns,
		InsecureSkipVerify: slices.Contains(h.originPatterns, "*"),
	})
	if err != nil {
		slog.Warn("tutor: accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(maxMessageBytes)

	ctx := r.Context()
	h.active.Add(1)
	h.metrics.ActiveConnections.Add(ctx, 1)
	defer func() {
		h.active.Add(-1)
		h.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)
	}()

	c := newConn(h, ws, observe.Logger(ctx).With("remote", r.RemoteAddr))
	err = c.run(ctx)
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		c.log.Debug("tutor: client closed", "status", status)
	case ctx.Err() != nil:
		c.log.Debug("tutor: request context done", "error", ctx.Err())
	default:
		c.log.Info("tutor: connection dropped", "error", err)
	}
	ws.CloseNow()
}
