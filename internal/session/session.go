// Package session owns the lifecycle of live practice sessions.
//
// A [Manager] creates sessions, counts the mistakes and corrections made in
// them, and on end turns each one into a [Summary] that is handed to an
// optional [Store] for history.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/vartalaap/vartalaap/internal/grammar"
	"github.com/vartalaap/vartalaap/internal/grammar/chunk"
	"github.com/vartalaap/vartalaap/internal/observe"
)

// Mode is the kind of conversation practised in a session.
type Mode string

const (
	ModeEnglishPractice  Mode = "english_practice"
	ModeInterview        Mode = "interview"
	ModeLanguageLearning Mode = "language_learning"
	ModeRoleplay         Mode = "roleplay"
)

// Modes lists every supported mode.
var Modes = []Mode{ModeEnglishPractice, ModeInterview, ModeLanguageLearning, ModeRoleplay}

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool { return slices.Contains(Modes, m) }

// DefaultTargetLanguage is the language practised when none is given.
const DefaultTargetLanguage = "en"

var (
	// ErrNotFound is returned for an id that names no live session.
	ErrNotFound = errors.New("session: not found")

	// ErrNoStore is returned by history lookups when no Store is configured.
	ErrNoStore = errors.New("session: no history store configured")
)

// CreateOptions describes a new session. Zero fields take defaults.
type CreateOptions struct {
	UserID         string `json:"userId"`
	Mode           Mode   `json:"mode"`
	Domain         string `json:"domain"`
	TargetLanguage string `json:"targetLanguage"`
	NativeLanguage string `json:"nativeLanguage"`
}

// Session is one live practice session. Counters are safe for concurrent use.
type Session struct {
	ID             string
	UserID         string
	Mode           Mode
	Domain         string
	TargetLanguage string
	Native         grammar.Language
	StartedAt      time.Time

	errors      atomic.Int64
	corrections atomic.Int64
}

// Errors returns the number of mistakes counted so far.
func (s *Session) Errors() int { return int(s.errors.Load()) }

// Corrections returns the number of corrections delivered so far.
func (s *Session) Corrections() int { return int(s.corrections.Load()) }

// GrammarContext returns the facts the detection pipeline needs.
func (s *Session) GrammarContext() grammar.Context {
	return grammar.Context{Native: s.Native, Mode: string(s.Mode)}
}

// Info is the wire view of a live session.
type Info struct {
	SessionID        string    `json:"sessionId"`
	UserID           string    `json:"userId,omitempty"`
	Mode             Mode      `json:"mode"`
	Domain           string    `json:"domain,omitempty"`
	TargetLanguage   string    `json:"targetLanguage"`
	NativeLanguage   string    `json:"nativeLanguage"`
	StartTime        time.Time `json:"startTime"`
	ErrorsCount      int       `json:"errorsCount"`
	CorrectionsCount int       `json:"correctionsCount"`
}

// Info snapshots s.
func (s *Session) Info() Info {
	return Info{
		SessionID:        s.ID,
		UserID:           s.UserID,
		Mode:             s.Mode,
		Domain:           s.Domain,
		TargetLanguage:   s.TargetLanguage,
		NativeLanguage:   s.Native.Name,
		StartTime:        s.StartedAt,
		ErrorsCount:      s.Errors(),
		CorrectionsCount: s.Corrections(),
	}
}

// Summary is the record kept for a finished session.
type Summary struct {
	SessionID        string        `json:"sessionId"`
	UserID           string        `json:"userId,omitempty"`
	Mode             Mode          `json:"mode"`
	Domain           string        `json:"domain,omitempty"`
	TargetLanguage   string        `json:"targetLanguage"`
	NativeLanguage   string        `json:"nativeLanguage"`
	StartedAt        time.Time     `json:"startTime"`
	EndedAt          time.Time     `json:"endTime"`
	Duration         time.Duration `json:"-"`
	ErrorsCount      int           `json:"errorsCount"`
	CorrectionsCount int           `json:"correctionsCount"`
	Transcript       string        `json:"transcript"`
	Stats            chunk.Stats   `json:"stats"`
}

// Store persists finished sessions.
type Store interface {
	SaveSummary(ctx context.Context, s Summary) error
	RecentSummaries(ctx context.Context, userID string, limit int) ([]Summary, error)
	Ping(ctx context.Context) error
}

// Manager tracks live sessions. All methods are safe for concurrent use.
type Manager struct {
	store   Store
	metrics *observe.Metrics
	now     func() time.Time
	newID   func() string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets the history store. Without one, ended sessions are dropped.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// HasStore reports whether ended sessions are persisted.
func (m *Manager) HasStore() bool { return m.store != nil }

// Create starts a session.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeEnglishPractice
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("session: unknown mode %q", opts.Mode)
	}
	target := opts.TargetLanguage
	if target == "" {
		target = DefaultTargetLanguage
	}

	s := &Session{
		ID:             m.newID(),
		UserID:         opts.UserID,
		Mode:           mode,
		Domain:         opts.Domain,
		TargetLanguage: target,
		Native:         grammar.ResolveLanguage(opts.NativeLanguage),
		StartedAt:      m.now(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(context.Background(), 1, modeAttr(s.Mode))
	return s, nil
}

// Get returns the live session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// IncrementErrors counts a mistake. Unknown ids are ignored.
func (m *Manager) IncrementErrors(id string) {
	if s, err := m.Get(id); err == nil {
		s.errors.Add(1)
	}
}

// IncrementCorrections counts a delivered correction. Unknown ids are ignored.
func (m *Manager) IncrementCorrections(id string) {
	if s, err := m.Get(id); err == nil {
		s.corrections.Add(1)
	}
}

// Active returns the live sessions, oldest first.
func (m *Manager) Active() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// End removes the session and returns its summary. When a Store is
// configured the summary is saved; a save failure is returned alongside the
// summary, and the session stays ended.
func (m *Manager) End(ctx context.Context, id, transcript string, stats chunk.Stats) (Summary, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.metrics.ActiveSessions.Add(ctx, -1, modeAttr(s.Mode))

	ended := m.now()
	sum := Summary{
		SessionID:        s.ID,
		UserID:           s.UserID,
		Mode:             s.Mode,
		Domain:           s.Domain,
		TargetLanguage:   s.TargetLanguage,
		NativeLanguage:   s.Native.Name,
		StartedAt:        s.StartedAt,
		EndedAt:          ended,
		Duration:         ended.Sub(s.StartedAt),
		ErrorsCount:      s.Errors(),
		CorrectionsCount: s.Corrections(),
		Transcript:       transcript,
		Stats:            stats,
	}
	if m.store == nil {
		return sum, nil
	}
	if err := m.store.SaveSummary(ctx, sum); err != nil {
		return sum, fmt.Errorf("session: save summary %s: %w", id, err)
	}
	return sum, nil
}

// History returns the most recent finished sessions of userID.
func (m *Manager) History(ctx context.Context, userID string, limit int) ([]Summary, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}
	return m.store.RecentSummaries(ctx, userID, limit)
}

// Ping checks the history store. It succeeds trivially when none is set.
func (m *Manager) Ping(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	return m.store.Ping(ctx)
}

func modeAttr(m Mode) metric.AddOption {
	return metric.WithAttributes(observe.Attr("mode", string(m)))
}
