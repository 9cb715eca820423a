package tutor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vartalaap/vartalaap/internal/grammar"
	"github.com/vartalaap/vartalaap/internal/session"
)

// Client message types.
const (
	TypeStartSession  = "start_session"
	TypeAudio         = "audio"
	TypeThinkingPause = "thinking_pause"
	TypeEndSession    = "end_session"
)

// Server message types.
const (
	TypeSessionStarted  = "session_started"
	TypeTranscript      = "transcript"
	TypeCorrection      = "correction"
	TypeAudioCorrection = "audio_correction"
	TypeReply           = "reply"
	TypeNudge           = "nudge"
	TypeSessionEnded    = "session_ended"
	TypeError           = "error"
)

// Envelope wraps every server message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`

	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

func envelope(typ string, data any, now time.Time) Envelope {
	return Envelope{Type: typ, Data: data, Timestamp: now.UnixMilli()}
}

// SessionStarted is the payload of a session_started message.
type SessionStarted struct {
	SessionID string       `json:"sessionId"`
	Session   session.Info `json:"session"`
}

// Transcript is the payload of a transcript message.
type Transcript struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// AudioCorrection is the payload of an audio_correction message.
type AudioCorrection struct {
	// Audio is the base64-encoded synthesized correction.
	Audio    string `json:"audio"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// Reply is the payload of a reply message.
type Reply struct {
	Text string `json:"text"`
}

// Nudge is the payload of a nudge message.
type Nudge struct {
	Message string `json:"message"`
}

// SessionEnded is the payload of a session_ended message.
type SessionEnded struct {
	Summary session.Summary `json:"summary"`
}

// Error is the payload of an error message.
type Error struct {
	Message string `json:"message"`
}

// inbound is a client message. Payload fields may be sent at the top level
// next to type, or nested under data; both forms are accepted.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`

	raw []byte
}

func parseInbound(b []byte) (inbound, error) {
	var in inbound
	if err := json.Unmarshal(b, &in); err != nil {
		return inbound{}, fmt.Errorf("malformed message: %w", err)
	}
	if in.Type == "" {
		return inbound{}, fmt.Errorf("message has no type")
	}
	in.raw = b
	return in, nil
}

// decode unmarshals the message payload into v, preferring a nested data
// object over top-level fields.
func (in inbound) decode(v any) error {
	if len(in.Data) > 0 && in.Data[0] == '{' {
		return json.Unmarshal(in.Data, v)
	}
	return json.Unmarshal(in.raw, v)
}

// audio returns the decoded audio bytes of an audio message.
func (in inbound) audio() ([]byte, error) {
	var encoded string
	if len(in.Data) > 0 && in.Data[0] == '"' {
		if err := json.Unmarshal(in.Data, &encoded); err != nil {
			return nil, err
		}
	} else {
		var nested struct {
			Audio string `json:"audio"`
		}
		if err := in.decode(&nested); err != nil {
			return nil, err
		}
		encoded = nested.Audio
	}
	if encoded == "" {
		return nil, fmt.Errorf("audio message carries no data")
	}
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("audio is not base64: %w", err)
	}
	return b, nil
}

type thinkingPause struct {
	PauseDurationMs      int64 `json:"pauseDurationMs"`
	PauseDurationMsSnake int64 `json:"pause_duration_ms"`
}

func (p thinkingPause) duration() time.Duration {
	ms := p.PauseDurationMs
	if ms == 0 {
		ms = p.PauseDurationMsSnake
	}
	return time.Duration(ms) * time.Millisecond
}

// fillerCorrection is the correction sent when a fragment contains filler
// words.
func fillerCorrection(text string, fillers []string, native grammar.Language) grammar.Detection {
	list := strings.Join(fillers, ", ")
	explanation := "Remove filler words: " + list
	nativeExplanation := explanation
	if native.Code == "hi" {
		nativeExplanation = "Filler words हटाओ: " + list
	}
	return grammar.Detection{
		HasError:          true,
		Original:          text,
		Category:          "filler",
		Explanation:       explanation,
		NativeExplanation: nativeExplanation,
		Kind:              grammar.KindAdvisory,
		RuleID:            "filler",
		Method:            grammar.MethodPattern,
	}
}

// spokenCorrection is the text synthesized for a correction.
func spokenCorrection(d grammar.Detection) string {
	parts := []string{"Stop!"}
	var last string
	for _, s := range []string{d.Explanation, d.NativeExplanation} {
		s = strings.TrimRight(strings.TrimSpace(s), ".!? ")
		if s == "" || s == last {
			continue
		}
		parts = append(parts, s+".")
		last = s
	}
	parts = append(parts, "Continue...")
	return strings.Join(parts, " ")
}
