package resilience

import (
	"context"

	"github.com/vartalaap/vartalaap/pkg/provider/llm"
	"github.com/vartalaap/vartalaap/pkg/types"
)

// LLMFallback implements [llm.Provider] with failover across several LLM
// backends. The conversation partner uses it so that a Groq outage falls
// through to OpenAI or Gemini.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional LLM backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends req to the first healthy backend. A reply with no content
// counts as a failure of that backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteUntil(ctx, f.group,
		func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
			resp, err := p.Complete(ctx, req)
			if err != nil {
				return nil, err
			}
			if resp == nil || resp.Content == "" {
				return nil, errEmptyReply
			}
			return resp, nil
		}, nil)
}

// Capabilities returns the primary's capabilities. They are static metadata
// and do not take part in failover.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// Status reports the breaker state of every backend.
func (f *LLMFallback) Status() []EntryStatus { return f.group.Status() }
