package tutor_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vartalaap/vartalaap/internal/conversation"
	"github.com/vartalaap/vartalaap/internal/grammar"
	"github.com/vartalaap/vartalaap/internal/grammar/detector"
	"github.com/vartalaap/vartalaap/internal/session"
	"github.com/vartalaap/vartalaap/internal/tutor"
	"github.com/vartalaap/vartalaap/pkg/provider/llm"
	llmmock "github.com/vartalaap/vartalaap/pkg/provider/llm/mock"
	sttmock "github.com/vartalaap/vartalaap/pkg/provider/stt/mock"
	"github.com/vartalaap/vartalaap/pkg/provider/tts"
	ttsmock "github.com/vartalaap/vartalaap/pkg/provider/tts/mock"
	"github.com/vartalaap/vartalaap/pkg/types"
)

// message is a server message with its payload left raw.
type message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type fixture struct {
	manager *session.Manager
	stream  *sttmock.Session
	speech  *sttmock.Provider
	handler *tutor.Handler
	conn    *websocket.Conn
}

func newFixture(t *testing.T, opts ...tutor.Option) *fixture {
	t.Helper()
	f := &fixture{
		manager: session.NewManager(),
		stream:  sttmock.NewSession(16),
	}
	f.speech = &sttmock.Provider{Session: f.stream}
	opts = append([]tutor.Option{tutor.WithThrottle(time.Nanosecond)}, opts...)
	f.handler = tutor.New(detector.New(nil), f.manager, f.speech, opts...)
	f.conn = dial(t, f.handler)
	return f
}

func dial(t *testing.T, h *tutor.Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func (f *fixture) write(t *testing.T, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := f.conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// read returns the next server message and checks its type.
func (f *fixture) read(t *testing.T, wantType string) message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := f.conn.Read(ctx)
	if err != nil {
		t.Fatalf("read %s: %v", wantType, err)
	}
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if m.Type != wantType {
		t.Fatalf("got %s message %s, want %s", m.Type, m.Data, wantType)
	}
	if m.Timestamp == 0 {
		t.Errorf("%s message has no timestamp", m.Type)
	}
	return m
}

func decode[T any](t *testing.T, m message) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(m.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", m.Data, err)
	}
	return v
}

func (f *fixture) start(t *testing.T, msg map[string]any) tutor.SessionStarted {
	t.Helper()
	msg["type"] = tutor.TypeStartSession
	f.write(t, msg)
	return decode[tutor.SessionStarted](t, f.read(t, tutor.TypeSessionStarted))
}

func TestStartSession_Flat(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	started := f.start(t, map[string]any{
		"userId": "u1", "mode": "interview", "domain": "upsc", "nativeLanguage": "Tamil",
	})

	s, err := f.manager.Get(started.SessionID)
	if err != nil {
		t.Fatalf("session not live: %v", err)
	}
	if s.UserID != "u1" || s.Mode != session.ModeInterview || s.Native.Code != "ta" {
		t.Errorf("session = %+v", s.Info())
	}
	if started.Session.Domain != "upsc" {
		t.Errorf("info = %+v", started.Session)
	}
	calls := f.speech.Calls()
	if len(calls) != 1 || calls[0].Cfg.Language != "en" || !calls[0].Cfg.InterimResults {
		t.Errorf("stream config = %+v", calls)
	}
}

func TestStartSession_Nested(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write(t, map[string]any{
		"type": tutor.TypeStartSession,
		"data": map[string]any{"mode": "language_learning", "targetLanguage": "hi"},
	})
	started := decode[tutor.SessionStarted](t, f.read(t, tutor.TypeSessionStarted))
	if started.Session.Mode != session.ModeLanguageLearning || started.Session.TargetLanguage != "hi" {
		t.Errorf("info = %+v", started.Session)
	}
	if calls := f.speech.Calls(); calls[0].Cfg.Language != "hi" {
		t.Errorf("stream language = %q, want hi", calls[0].Cfg.Language)
	}
}

func TestStartSession_Rejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write(t, map[string]any{"type": tutor.TypeStartSession, "mode": "karaoke"})
	if e := decode[tutor.Error](t, f.read(t, tutor.TypeError)); !strings.Contains(e.Message, "karaoke") {
		t.Errorf("error = %q", e.Message)
	}
	if n := len(f.manager.Active()); n != 0 {
		t.Errorf("active sessions = %d", n)
	}
}

func TestStartSession_TranscriptionUnavailable(t *testing.T) {
	t.Parallel()

	f := &fixture{
		manager: session.NewManager(),
		speech:  &sttmock.Provider{StartStreamErr: errors.New("deepgram down")},
	}
	f.handler = tutor.New(detector.New(nil), f.manager, f.speech)
	f.conn = dial(t, f.handler)

	f.write(t, map[string]any{"type": tutor.TypeStartSession})
	f.read(t, tutor.TypeError)
	if n := len(f.manager.Active()); n != 0 {
		t.Errorf("active sessions = %d, want the failed session ended", n)
	}
}

func TestCorrection_SpokenAndCounted(t *testing.T) {
	t.Parallel()

	voice := &ttsmock.Provider{Result: tts.Audio{Data: []byte("RIFF"), MIMEType: "audio/wav"}}
	f := newFixture(t, tutor.WithTTS(voice, types.VoiceProfile{ID: "aura-asteria-en"}))
	started := f.start(t, map[string]any{"nativeLanguage": "hi"})

	f.stream.TranscriptsCh <- types.Transcript{Text: "then I has a car", IsFinal: true}

	tr := decode[tutor.Transcript](t, f.read(t, tutor.TypeTranscript))
	if tr.Text != "then I has a car" || !tr.IsFinal {
		t.Errorf("transcript = %+v", tr)
	}
	d := decode[grammar.Detection](t, f.read(t, tutor.TypeCorrection))
	if d.RuleID != "i-has" || d.Corrected != "I have" {
		t.Errorf("correction = %+v", d)
	}
	audio := decode[tutor.AudioCorrection](t, f.read(t, tutor.TypeAudioCorrection))
	if got, _ := base64.StdEncoding.DecodeString(audio.Audio); string(got) != "RIFF" || audio.MIMEType != "audio/wav" {
		t.Errorf("audio = %+v", audio)
	}

	calls := voice.Calls()
	if len(calls) != 1 {
		t.Fatalf("synthesize calls = %d, want 1", len(calls))
	}
	if !strings.HasPrefix(calls[0].Text, `Stop! Use "I have" instead.`) || !strings.HasSuffix(calls[0].Text, "Continue...") {
		t.Errorf("spoken text = %q", calls[0].Text)
	}
	if calls[0].Voice.ID != "aura-asteria-en" {
		t.Errorf("voice = %+v", calls[0].Voice)
	}

	s, _ := f.manager.Get(started.SessionID)
	if s.Errors() != 1 || s.Corrections() != 1 {
		t.Errorf("errors=%d corrections=%d, want 1 and 1", s.Errors(), s.Corrections())
	}
}

func TestCorrection_SplitAcrossFragments(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t, map[string]any{})

	f.stream.TranscriptsCh <- types.Transcript{Text: "my friend said I", IsFinal: true}
	f.read(t, tutor.TypeTranscript)
	f.stream.TranscriptsCh <- types.Transcript{Text: "has a car", IsFinal: true}
	f.read(t, tutor.TypeTranscript)

	d := decode[grammar.Detection](t, f.read(t, tutor.TypeCorrection))
	if d.RuleID != "i-has" || d.Original != "I has" {
		t.Errorf("correction = %+v", d)
	}
}

func TestFillers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	started := f.start(t, map[string]any{"nativeLanguage": "Hindi"})

	f.stream.TranscriptsCh <- types.Transcript{Text: "basically we went home early", IsFinal: false}
	f.read(t, tutor.TypeTranscript)

	d := decode[grammar.Detection](t, f.read(t, tutor.TypeCorrection))
	if d.Category != "filler" || d.Explanation != "Remove filler words: basically" {
		t.Errorf("filler correction = %+v", d)
	}
	if d.NativeExplanation != "Filler words हटाओ: basically" {
		t.Errorf("native = %q", d.NativeExplanation)
	}
	if d.Original != "basically we went home early" {
		t.Errorf("original = %q", d.Original)
	}

	s, _ := f.manager.Get(started.SessionID)
	if s.Errors() != 1 || s.Corrections() != 0 {
		t.Errorf("errors=%d corrections=%d, want 1 and 0", s.Errors(), s.Corrections())
	}
}

func TestShortFragmentsAreNotChecked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t, map[string]any{})

	// Ten characters exactly: at the limit, so no filler check runs.
	f.stream.TranscriptsCh <- types.Transcript{Text: "umm, okay."}
	f.read(t, tutor.TypeTranscript)

	f.write(t, map[string]any{"type": tutor.TypeThinkingPause, "pauseDurationMs": 6000})
	f.read(t, tutor.TypeNudge)
}

func TestConversationReply(t *testing.T) {
	t.Parallel()

	partner := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "That sounds lovely. What did you do there?"}}
	f := newFixture(t, tutor.WithConversation(partner))
	f.start(t, map[string]any{"mode": "roleplay"})

	f.stream.TranscriptsCh <- types.Transcript{Text: "we went to the beach together", IsFinal: true}
	f.read(t, tutor.TypeTranscript)
	reply := decode[tutor.Reply](t, f.read(t, tutor.TypeReply))
	if reply.Text != "That sounds lovely. What did you do there?" {
		t.Errorf("reply = %q", reply.Text)
	}

	calls := partner.Calls()
	if len(calls) != 1 {
		t.Fatalf("complete calls = %d", len(calls))
	}
	req := calls[0].Req
	if !strings.Contains(req.SystemPrompt, "restaurant") {
		t.Errorf("roleplay prompt missing scenario: %q", req.SystemPrompt)
	}
	if last := req.Messages[len(req.Messages)-1]; last.Content != "we went to the beach together" {
		t.Errorf("last message = %+v", last)
	}
}

func TestAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t, map[string]any{})

	f.write(t, map[string]any{"type": tutor.TypeAudio, "data": base64.StdEncoding.EncodeToString([]byte{1, 2, 3})})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.conn.Write(ctx, websocket.MessageBinary, []byte{4, 5}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	// Messages are handled in order, so the nudge proves both chunks went through.
	f.write(t, map[string]any{"type": tutor.TypeThinkingPause, "pause_duration_ms": 7000})
	f.read(t, tutor.TypeNudge)

	if got := f.stream.SendAudioCallCount(); got != 2 {
		t.Fatalf("audio chunks forwarded = %d, want 2", got)
	}
}

func TestAudio_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.write(t, map[string]any{"type": tutor.TypeAudio, "data": "AQID"})
	if e := decode[tutor.Error](t, f.read(t, tutor.TypeError)); e.Message != "no active session" {
		t.Errorf("error = %q", e.Message)
	}

	f.start(t, map[string]any{})
	f.write(t, map[string]any{"type": tutor.TypeAudio, "data": "***"})
	f.read(t, tutor.TypeError)
	if got := f.stream.SendAudioCallCount(); got != 0 {
		t.Errorf("forwarded %d invalid chunks", got)
	}
}

func TestThinkingPause(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t, map[string]any{"mode": "interview", "domain": "upsc"})

	f.write(t, map[string]any{"type": tutor.TypeThinkingPause, "pauseDurationMs": 3000})
	f.write(t, map[string]any{"type": tutor.TypeThinkingPause, "data": map[string]any{"pauseDurationMs": 5500}})

	nudge := decode[tutor.Nudge](t, f.read(t, tutor.TypeNudge))
	want := conversation.NudgeMessage(conversation.Settings{Mode: session.ModeInterview, Domain: conversation.DomainUPSC})
	if nudge.Message != want {
		t.Errorf("nudge = %q, want %q", nudge.Message, want)
	}
}

func TestProtocolErrorsKeepConnection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.read(t, tutor.TypeError)

	f.write(t, map[string]any{"type": "dance"})
	if e := decode[tutor.Error](t, f.read(t, tutor.TypeError)); !strings.Contains(e.Message, "dance") {
		t.Errorf("error = %q", e.Message)
	}

	f.write(t, map[string]any{"type": tutor.TypeEndSession})
	f.read(t, tutor.TypeError)

	f.start(t, map[string]any{})
}

func TestEndSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	started := f.start(t, map[string]any{"userId": "u7"})

	f.stream.TranscriptsCh <- types.Transcript{Text: "yesterday we visited the museum", IsFinal: true}
	f.read(t, tutor.TypeTranscript)

	f.write(t, map[string]any{"type": tutor.TypeEndSession})
	ended := decode[tutor.SessionEnded](t, f.read(t, tutor.TypeSessionEnded))
	if ended.Summary.SessionID != started.SessionID || ended.Summary.UserID != "u7" {
		t.Errorf("summary = %+v", ended.Summary)
	}
	if ended.Summary.Transcript != "yesterday we visited the museum" || ended.Summary.Stats.Words != 5 {
		t.Errorf("summary transcript = %q stats = %+v", ended.Summary.Transcript, ended.Summary.Stats)
	}
	if _, err := f.manager.Get(started.SessionID); !errors.Is(err, session.ErrNotFound) {
		t.Error("session still live after end_session")
	}
	if f.stream.Closed() == 0 {
		t.Error("transcription stream not closed")
	}
}

func TestCloseEndsSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t, map[string]any{})
	if got := f.handler.ActiveConnections(); got != 1 {
		t.Errorf("active connections = %d, want 1", got)
	}

	f.conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(3 * time.Second)
	for len(f.manager.Active()) > 0 || f.handler.ActiveConnections() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session or connection still open after close: sessions=%d conns=%d",
				len(f.manager.Active()), f.handler.ActiveConnections())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if f.stream.Closed() == 0 {
		t.Error("transcription stream not closed")
	}
}
