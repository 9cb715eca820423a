// Package chunk tracks the running transcript of one practice session.
//
// Speech arrives as fragments and a mistake can straddle two of them ("I" in
// one final result, "has a car" in the next). The [Tracker] keeps a sliding
// window of the most recent words, re-checks its tail against the rule
// catalog after every final fragment, and remembers which findings were
// already reported so the learner is corrected once per mistake.
package chunk

import (
	"strings"
	"sync"

	"github.com/vartalaap/vartalaap/internal/grammar"
)

const (
	// WindowWords is the number of recent words kept in the sliding window.
	WindowWords = 10

	// tailWords is how much of the window is re-checked after each final
	// fragment.
	tailWords = 5

	// minTailWords is the smallest window worth re-checking.
	minTailWords = 3
)

// Checker is the catalog-only check used on the window tail.
type Checker interface {
	FastPath(text string, gctx grammar.Context) (grammar.Detection, bool)
}

// Stats summarizes a session transcript.
type Stats struct {
	Words  int `json:"wordCount"`
	Errors int `json:"errorCount"`

	// ErrorRate is errors per 100 words.
	ErrorRate float64 `json:"errorRate"`

	// Flagged lists the dedupe keys of reported findings in report order.
	Flagged []string `json:"errorsDetected"`
}

// Tracker is the per-session fragment state. It is safe for concurrent use.
type Tracker struct {
	checker Checker
	gctx    grammar.Context

	mu         sync.Mutex
	window     []string
	transcript []string
	seen       map[string]struct{}
	flagged    []string
}

// New creates a Tracker that checks the window with checker under gctx.
func New(checker Checker, gctx grammar.Context) *Tracker {
	return &Tracker{
		checker: checker,
		gctx:    gctx,
		window:  make([]string, 0, WindowWords),
		seen:    make(map[string]struct{}),
	}
}

// Key is the dedupe key of a finding: its rule id (or detection method when
// no rule produced it) and its lowercased span.
func Key(d grammar.Detection) string {
	id := d.RuleID
	if id == "" {
		id = d.Method
	}
	return id + ":" + strings.ToLower(d.Original)
}

// Record marks d as reported. It returns false when d is negative or an
// equivalent finding was already recorded.
func (t *Tracker) Record(d grammar.Detection) bool {
	if !d.HasError {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordLocked(d)
}

func (t *Tracker) recordLocked(d grammar.Detection) bool {
	k := Key(d)
	if _, dup := t.seen[k]; dup {
		return false
	}
	t.seen[k] = struct{}{}
	t.flagged = append(t.flagged, k)
	return true
}

// AddFinal appends a final fragment to the transcript and window, then checks
// the window tail. It returns a finding only when the tail matches a rule that
// has not been reported yet. Fragments are normalized the way
// [grammar.Normalize] does before they enter the window.
func (t *Tracker) AddFinal(text string) (grammar.Detection, bool) {
	words := strings.Fields(grammar.Normalize(text))
	if len(words) == 0 {
		return grammar.Detection{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.transcript = append(t.transcript, words...)
	t.window = append(t.window, words...)
	if over := len(t.window) - WindowWords; over > 0 {
		t.window = append(t.window[:0], t.window[over:]...)
	}

	if len(t.window) < minTailWords {
		return grammar.Detection{}, false
	}
	tail := t.window[max(0, len(t.window)-tailWords):]
	d, ok := t.checker.FastPath(strings.Join(tail, " "), t.gctx)
	if !ok || !t.recordLocked(d) {
		return grammar.Detection{}, false
	}
	return d, true
}

// Transcript returns every final fragment joined by single spaces.
func (t *Tracker) Transcript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.transcript, " ")
}

// Stats returns a snapshot of the transcript statistics.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Words:   len(t.transcript),
		Errors:  len(t.flagged),
		Flagged: append([]string(nil), t.flagged...),
	}
	if s.Words > 0 {
		s.ErrorRate = float64(s.Errors) / float64(s.Words) * 100
	}
	return s
}
