package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vartalaap/vartalaap/pkg/types"
)

// ---- URL / format helpers ----

func TestBuildURL(t *testing.T) {
	p, err := New("key", WithModel("eleven_turbo_v2"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	u, err := url.Parse(p.buildURL("voice-123"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Path != "/v1/text-to-speech/voice-123/stream-input" {
		t.Errorf("path = %q", u.Path)
	}
	if got := u.Query().Get("model_id"); got != "eleven_turbo_v2" {
		t.Errorf("model_id = %q", got)
	}
	if got := u.Query().Get("output_format"); got != "pcm_24000" {
		t.Errorf("output_format = %q", got)
	}
}

func TestMimeType(t *testing.T) {
	tests := map[string]string{
		"pcm_16000":     "audio/pcm;rate=16000",
		"pcm_x":         "audio/pcm",
		"mp3_44100_128": "audio/mpeg",
		"ulaw_8000":     "audio/basic",
		"opus":          "application/octet-stream",
	}
	for format, want := range tests {
		p := &Provider{outputFormat: format}
		if got := p.mimeType(); got != want {
			t.Errorf("mimeType(%q) = %q, want %q", format, got, want)
		}
	}
}

// ---- Response parsing ----

func TestParseAudioResponse(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})

	pcm, final, err := parseAudioResponse([]byte(`{"audio":"` + audio + `","isFinal":false}`))
	if err != nil || final || len(pcm) != 3 {
		t.Errorf("audio chunk: pcm=%v final=%v err=%v", pcm, final, err)
	}

	pcm, final, err = parseAudioResponse([]byte(`{"isFinal":true}`))
	if err != nil || !final || len(pcm) != 0 {
		t.Errorf("final marker: pcm=%v final=%v err=%v", pcm, final, err)
	}

	if _, _, err := parseAudioResponse([]byte(`{"error":"quota_exceeded","message":"out of credits"}`)); err == nil {
		t.Error("expected error for server error message")
	}

	if _, _, err := parseAudioResponse([]byte(`{not json`)); err != nil {
		t.Errorf("invalid JSON should be skipped, got %v", err)
	}
}

// ---- Constructor ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel || p.outputFormat != defaultOutputFmt || p.voice != defaultVoice {
		t.Errorf("unexpected defaults: %+v", p)
	}
}

// ---- Synthesize against a local server ----

func TestSynthesize_RoundTrip(t *testing.T) {
	received := make(chan []textMessage, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/voice-9/") {
			http.NotFound(w, r)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		var msgs []textMessage
		for len(msgs) < 3 {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			msgs = append(msgs, m)
		}
		received <- msgs

		for _, chunk := range [][]byte{{1, 2}, {3, 4, 5}} {
			payload := `{"audio":"` + base64.StdEncoding.EncodeToString(chunk) + `","isFinal":false}`
			_ = conn.Write(ctx, websocket.MessageText, []byte(payload))
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"isFinal":true}`))
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	p, err := New("xi-key", WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audio, err := p.Synthesize(ctx, "Use have with I", types.VoiceProfile{ID: "voice-9"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio.Data) != string([]byte{1, 2, 3, 4, 5}) {
		t.Errorf("Data = %v", audio.Data)
	}
	if audio.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", audio.MIMEType)
	}

	msgs := <-received
	if msgs[0].Text != " " || msgs[0].XiAPIKey != "xi-key" || msgs[0].VoiceSettings == nil {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Text != "Use have with I " {
		t.Errorf("text message = %q", msgs[1].Text)
	}
	if msgs[2].Text != "" {
		t.Errorf("end-of-input message = %q, want empty", msgs[2].Text)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), "  ", types.VoiceProfile{}); err == nil {
		t.Error("expected error for blank text")
	}
}
