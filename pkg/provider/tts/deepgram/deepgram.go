// Package deepgram provides a Deepgram Aura TTS provider using the Deepgram
// speak REST API. It implements the tts.Provider interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vartalaap/vartalaap/pkg/provider/tts"
	"github.com/vartalaap/vartalaap/pkg/types"
)

const (
	defaultEndpoint  = "https://api.deepgram.com/v1/speak"
	defaultModel     = "aura-asteria-en"
	defaultEncoding  = "linear16"
	defaultContainer = "wav"

	// maxAudioBytes bounds a single clip. A correction sentence at 24 kHz
	// linear16 is well under a megabyte.
	maxAudioBytes = 8 << 20
)

// Option is a functional option for configuring the Deepgram TTS Provider.
type Option func(*Provider)

// WithModel sets the default Aura voice model (e.g. "aura-asteria-en").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the speak endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by Deepgram Aura.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new Deepgram TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram tts: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type speakRequest struct {
	Text string `json:"text"`
}

type speakError struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

// Synthesize renders text to a WAV clip. voice.ID, when set, names the Aura
// model to use instead of the configured default.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, errors.New("deepgram tts: text must not be empty")
	}

	model := p.model
	if voice.ID != "" {
		model = voice.ID
	}
	reqURL, err := p.buildURL(model)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("deepgram tts: build URL: %w", err)
	}

	body, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return tts.Audio{}, fmt.Errorf("deepgram tts: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return tts.Audio{}, fmt.Errorf("deepgram tts: new request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("deepgram tts: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return tts.Audio{}, fmt.Errorf("deepgram tts: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var se speakError
		if json.Unmarshal(data, &se) == nil && se.ErrMsg != "" {
			return tts.Audio{}, fmt.Errorf("deepgram tts: status %d: %s", resp.StatusCode, se.ErrMsg)
		}
		return tts.Audio{}, fmt.Errorf("deepgram tts: unexpected status %d", resp.StatusCode)
	}
	if len(data) == 0 {
		return tts.Audio{}, errors.New("deepgram tts: empty audio response")
	}

	return tts.Audio{Data: data, MIMEType: "audio/wav"}, nil
}

func (p *Provider) buildURL(model string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", model)
	q.Set("encoding", defaultEncoding)
	q.Set("container", defaultContainer)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
