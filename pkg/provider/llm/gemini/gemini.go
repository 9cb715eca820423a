// Package gemini provides an LLM provider backed by the Google Gemini API
// through github.com/google/generative-ai-go.
//
// The client is created once and shared; each Complete call configures a
// fresh GenerativeModel handle so concurrent requests with different system
// prompts do not interfere.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/vartalaap/vartalaap/pkg/provider/llm"
	"github.com/vartalaap/vartalaap/pkg/types"
)

// Provider implements llm.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
	json   bool
}

type config struct {
	endpoint string
	jsonMode bool
}

// Option is a functional option for Provider.
type Option func(*config)

// WithEndpoint overrides the API endpoint, e.g. for a regional proxy.
func WithEndpoint(endpoint string) Option {
	return func(c *config) {
		c.endpoint = endpoint
	}
}

// WithJSONResponses asks the model to reply with application/json only.
func WithJSONResponses() Option {
	return func(c *config) {
		c.jsonMode = true
	}
}

// New constructs a Gemini Provider. The returned provider holds a client
// connection; call Close when done.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	apiKey = strings.TrimSpace(apiKey)
	model = strings.TrimSpace(model)
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("gemini: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if cfg.endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.endpoint))
	}

	cl, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Provider{client: cl, model: model, json: cfg.jsonMode}, nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	history, last, err := splitHistory(req.Messages)
	if err != nil {
		return nil, err
	}

	m := p.client.GenerativeModel(p.model)
	m.GenerationConfig = generationConfig(req, p.json)
	if req.SystemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemPrompt)},
		}
	}

	cs := m.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	text := firstText(resp)
	if text == "" {
		return nil, errors.New("gemini: empty response")
	}

	out := &llm.CompletionResponse{Content: text, Model: p.model}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	caps := types.ModelCapabilities{
		ContextWindow:    1_048_576,
		MaxOutputTokens:  8_192,
		SupportsJSONMode: true,
	}
	lower := strings.ToLower(p.model)
	switch {
	case strings.Contains(lower, "1.5-pro"):
		caps.ContextWindow = 2_097_152
	case lower == "gemini-pro" || strings.HasPrefix(lower, "gemini-1.0"):
		caps.ContextWindow = 30_720
		caps.MaxOutputTokens = 2_048
		caps.SupportsJSONMode = false
	}
	return caps
}

func generationConfig(req llm.CompletionRequest, jsonMode bool) genai.GenerationConfig {
	var gc genai.GenerationConfig
	if req.Temperature != 0 {
		gc.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = genai.Ptr(int32(req.MaxTokens))
	}
	if jsonMode {
		gc.ResponseMIMEType = "application/json"
	}
	return gc
}

// splitHistory maps the conversation onto Gemini chat history plus the final
// user turn. Gemini names the assistant role "model". System-role messages in
// the history are folded into user turns.
func splitHistory(msgs []types.Message) ([]*genai.Content, string, error) {
	if len(msgs) == 0 {
		return nil, "", errors.New("gemini: request has no messages")
	}
	last := msgs[len(msgs)-1]
	if last.Role != "user" {
		return nil, "", fmt.Errorf("gemini: last message must have role user, got %q", last.Role)
	}

	history := make([]*genai.Content, 0, len(msgs)-1)
	for _, m := range msgs[:len(msgs)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return history, last.Content, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return ""
}

var _ llm.Provider = (*Provider)(nil)
