// Package conversation is the spoken conversation partner that keeps a
// practice session going between corrections.
//
// A [Partner] is created per session with the persona for its mode (English
// practice, interview, language learning or roleplay) and answers each final
// utterance through an [llm.Provider], normally a fallback chain.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vartalaap/vartalaap/internal/observe"
	"github.com/vartalaap/vartalaap/pkg/provider/llm"
	"github.com/vartalaap/vartalaap/pkg/types"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 300

	// DefaultMaxHistory is the number of previous messages sent with a turn.
	DefaultMaxHistory = 20
)

// ErrEmptyUtterance is returned by Reply for blank input.
var ErrEmptyUtterance = errors.New("conversation: empty utterance")

// Partner produces conversational replies for one session. It is safe for
// concurrent use; history is owned by the caller.
type Partner struct {
	llm        llm.Provider
	system     string
	maxHistory int
	metrics    *observe.Metrics
}

// Option configures a Partner.
type Option func(*Partner)

// WithMaxHistory limits how many prior messages accompany each turn.
func WithMaxHistory(n int) Option {
	return func(p *Partner) {
		if n > 0 {
			p.maxHistory = n
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Partner) { p.metrics = m }
}

// NewPartner creates a Partner speaking with the persona for s.
func NewPartner(provider llm.Provider, s Settings, opts ...Option) *Partner {
	p := &Partner{
		llm:        provider,
		system:     SystemPrompt(s),
		maxHistory: DefaultMaxHistory,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// SystemPrompt returns the persona prompt this Partner sends.
func (p *Partner) SystemPrompt() string { return p.system }

// Reply answers text given the earlier turns in history, oldest first.
func (p *Partner) Reply(ctx context.Context, history []types.Message, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyUtterance
	}

	if len(history) > p.maxHistory {
		history = history[len(history)-p.maxHistory:]
	}
	msgs := make([]types.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.UserMessage(text))

	start := time.Now()
	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: p.system,
		Messages:     msgs,
		Temperature:  defaultTemperature,
		MaxTokens:    defaultMaxTokens,
	})
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("conversation: reply: %w", err)
	}
	reply := ""
	if resp != nil {
		reply = strings.TrimSpace(resp.Content)
	}
	if reply == "" {
		return "", errors.New("conversation: reply: model returned no text")
	}
	return reply, nil
}
