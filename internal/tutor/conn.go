package tutor

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vartalaap/vartalaap/internal/conversation"
	"github.com/vartalaap/vartalaap/internal/grammar"
	"github.com/vartalaap/vartalaap/internal/grammar/chunk"
	"github.com/vartalaap/vartalaap/internal/session"
	"github.com/vartalaap/vartalaap/pkg/provider/llm"
	"github.com/vartalaap/vartalaap/pkg/provider/stt"
	"github.com/vartalaap/vartalaap/pkg/types"
)

const (
	checkQueue = 8
	replyQueue = 4
)

// conn is one client socket. At most one session is live on it at a time.
type conn struct {
	h   *Handler
	ws  *websocket.Conn
	log *slog.Logger
	g   *errgroup.Group

	mu  sync.Mutex
	cur *live
}

// live is the state of the session running on a conn. Workers started for
// it exit when done is closed.
type live struct {
	sess     *session.Session
	settings conversation.Settings
	tracker  *chunk.Tracker
	stream   stt.SessionHandle
	partner  *conversation.Partner
	throttle *rate.Sometimes

	checks  chan checkJob
	replies chan string
	done    chan struct{}

	// history is owned by the reply worker.
	history []types.Message
}

// checkJob is either a fragment to run through the detector or a finding
// the fragment tracker already made.
type checkJob struct {
	text    string
	finding grammar.Detection
}

func newConn(h *Handler, ws *websocket.Conn, log *slog.Logger) *conn {
	return &conn{h: h, ws: ws, log: log}
}

// run serves the socket until the client goes away. The returned error is
// the one that ended the read loop.
func (c *conn) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	c.g = g
	g.Go(func() error { return c.readLoop(ctx) })
	return g.Wait()
}

func (c *conn) readLoop(ctx context.Context) error {
	defer c.endSession(context.WithoutCancel(ctx), false)

	for {
		typ, b, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			c.audio(ctx, b)
			continue
		}
		in, err := parseInbound(b)
		if err != nil {
			c.sendError(ctx, err.Error())
			continue
		}
		c.dispatch(ctx, in)
	}
}

func (c *conn) dispatch(ctx context.Context, in inbound) {
	switch in.Type {
	case TypeStartSession:
		c.startSession(ctx, in)
	case TypeAudio:
		b, err := in.audio()
		if err != nil {
			c.sendError(ctx, err.Error())
			return
		}
		c.audio(ctx, b)
	case TypeThinkingPause:
		var p thinkingPause
		if err := in.decode(&p); err != nil {
			c.sendError(ctx, "malformed thinking_pause message")
			return
		}
		c.thinkingPause(ctx, p.duration())
	case TypeEndSession:
		c.endSession(ctx, true)
	default:
		c.sendError(ctx, "unknown message type "+in.Type)
	}
}

func (c *conn) current() *live {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *conn) isCurrent(l *live) bool { return c.current() == l }

func (c *conn) startSession(ctx context.Context, in inbound) {
	var opts session.CreateOptions
	if err := in.decode(&opts); err != nil {
		c.sendError(ctx, "malformed start_session message")
		return
	}

	// A new start replaces whatever was running.
	c.endSession(ctx, false)

	sess, err := c.h.sessions.Create(opts)
	if err != nil {
		c.sendError(ctx, err.Error())
		return
	}
	l := &live{
		sess:     sess,
		settings: conversation.SettingsFor(sess),
		tracker:  chunk.New(c.h.detector, sess.GrammarContext()),
		throttle: &rate.Sometimes{Interval: c.h.throttle},
		checks:   make(chan checkJob, checkQueue),
		replies:  make(chan string, replyQueue),
		done:     make(chan struct{}),
	}

	if c.h.speech != nil {
		stream, err := c.h.speech.StartStream(ctx, c.streamConfig(sess))
		if err != nil {
			c.log.Error("tutor: start transcription", "session", sess.ID, "error", err)
			if _, endErr := c.h.sessions.End(ctx, sess.ID, "", chunk.Stats{}); endErr != nil {
				c.log.Warn("tutor: end session", "session", sess.ID, "error", endErr)
			}
			c.sendError(ctx, "speech recognition is unavailable")
			return
		}
		l.stream = stream
	}
	if c.h.partner != nil {
		l.partner = conversation.NewPartner(c.h.partner, l.settings, conversation.WithMetrics(c.h.metrics))
	}

	c.mu.Lock()
	c.cur = l
	c.mu.Unlock()

	c.log.Info("tutor: session started", "session", sess.ID, "user", sess.UserID, "mode", sess.Mode)
	c.send(ctx, TypeSessionStarted, SessionStarted{SessionID: sess.ID, Session: sess.Info()})

	if l.stream != nil {
		c.g.Go(func() error { return c.pump(ctx, l) })
	}
	c.g.Go(func() error { return c.checkLoop(ctx, l) })
	if l.partner != nil {
		c.g.Go(func() error { return c.replyLoop(ctx, l) })
	}
}

func (c *conn) streamConfig(sess *session.Session) stt.StreamConfig {
	cfg := c.h.stream
	if cfg.Language == "" || sess.TargetLanguage != session.DefaultTargetLanguage {
		cfg.Language = sess.TargetLanguage
	}
	return cfg
}

// endSession ends the live session, if any. notify sends the summary to the
// client.
func (c *conn) endSession(ctx context.Context, notify bool) {
	c.mu.Lock()
	l := c.cur
	c.cur = nil
	c.mu.Unlock()

	if l == nil {
		if notify {
			c.sendError(ctx, "no active session")
		}
		return
	}
	close(l.done)
	if l.stream != nil {
		if err := l.stream.Close(); err != nil {
			c.log.Warn("tutor: close transcription", "session", l.sess.ID, "error", err)
		}
	}

	sum, err := c.h.sessions.End(ctx, l.sess.ID, l.tracker.Transcript(), l.tracker.Stats())
	if errors.Is(err, session.ErrNotFound) {
		return
	}
	if err != nil {
		c.log.Warn("tutor: end session", "session", l.sess.ID, "error", err)
	}
	c.log.Info("tutor: session ended", "session", l.sess.ID,
		"duration", sum.Duration, "errors", sum.ErrorsCount, "corrections", sum.CorrectionsCount)
	if notify {
		c.send(ctx, TypeSessionEnded, SessionEnded{Summary: sum})
	}
}

func (c *conn) audio(ctx context.Context, b []byte) {
	l := c.current()
	switch {
	case l == nil:
		c.sendError(ctx, "no active session")
		return
	case l.stream == nil:
		c.sendError(ctx, "speech recognition is not configured")
		return
	}
	if err := l.stream.SendAudio(b); err != nil {
		if !errors.Is(err, stt.ErrSessionClosed) {
			c.log.Warn("tutor: forward audio", "session", l.sess.ID, "error", err)
		}
		c.sendError(ctx, "speech recognition is unavailable")
	}
}

func (c *conn) thinkingPause(ctx context.Context, pause time.Duration) {
	l := c.current()
	if l == nil || pause <= c.h.nudgeAfter {
		return
	}
	c.send(ctx, TypeNudge, Nudge{Message: conversation.NudgeMessage(l.settings)})
}

// pump relays transcripts of l until its stream ends.
func (c *conn) pump(ctx context.Context, l *live) error {
	results := l.stream.Transcripts()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.done:
			return nil
		case tr, ok := <-results:
			if !ok {
				if err := l.stream.Err(); err != nil && c.isCurrent(l) {
					c.log.Warn("tutor: transcription stopped", "session", l.sess.ID, "error", err)
					c.sendError(ctx, "speech recognition stopped")
				}
				return nil
			}
			c.transcript(ctx, l, tr)
		}
	}
}

func (c *conn) transcript(ctx context.Context, l *live, tr types.Transcript) {
	text := strings.TrimSpace(tr.Text)
	if text == "" || !c.isCurrent(l) {
		return
	}
	c.send(ctx, TypeTranscript, Transcript{Text: text, IsFinal: tr.IsFinal})

	if utf8.RuneCountInString(text) > c.h.minChars && l.allowCheck() {
		c.enqueue(l, checkJob{text: text})
	}
	if !tr.IsFinal {
		return
	}
	if d, ok := l.tracker.AddFinal(text); ok {
		c.enqueue(l, checkJob{finding: d})
	}
	if l.partner != nil {
		select {
		case l.replies <- text:
		default:
			c.log.Debug("tutor: reply queue full", "session", l.sess.ID)
		}
	}
}

func (l *live) allowCheck() bool {
	allowed := false
	l.throttle.Do(func() { allowed = true })
	return allowed
}

func (c *conn) enqueue(l *live, job checkJob) {
	select {
	case l.checks <- job:
	default:
		c.log.Debug("tutor: check queue full", "session", l.sess.ID)
	}
}

func (c *conn) checkLoop(ctx context.Context, l *live) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.done:
			return nil
		case job := <-l.checks:
			if job.finding.HasError {
				c.correct(ctx, l, job.finding)
				continue
			}
			c.check(ctx, l, job.text)
		}
	}
}

// check runs the filler scan and the detector on one fragment.
func (c *conn) check(ctx context.Context, l *live, text string) {
	if fillers := c.h.detector.DetectFillers(text); len(fillers) > 0 {
		key := grammar.Detection{HasError: true, RuleID: "filler", Original: strings.Join(fillers, " ")}
		if l.tracker.Record(key) && c.isCurrent(l) {
			c.h.sessions.IncrementErrors(l.sess.ID)
			c.send(ctx, TypeCorrection, fillerCorrection(text, fillers, l.sess.Native))
		}
	}

	d := c.h.detector.Detect(ctx, text, l.sess.GrammarContext())
	if d.HasError && l.tracker.Record(d) {
		c.correct(ctx, l, d)
	}
}

// correct delivers one finding: counted, sent as text and, with a TTS
// provider, spoken.
func (c *conn) correct(ctx context.Context, l *live, d grammar.Detection) {
	if !c.isCurrent(l) {
		return
	}
	c.h.sessions.IncrementErrors(l.sess.ID)
	c.h.sessions.IncrementCorrections(l.sess.ID)
	c.send(ctx, TypeCorrection, d)

	if c.h.voice == nil {
		return
	}
	spoken := spokenCorrection(d)
	tctx, cancel := context.WithTimeout(ctx, defaultTTSTimeout)
	start := time.Now()
	audio, err := c.h.voice.Synthesize(tctx, spoken, c.h.voiceProfile)
	cancel()
	c.h.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.log.Warn("tutor: synthesize correction", "session", l.sess.ID, "error", err)
		return
	}
	if !c.isCurrent(l) {
		return
	}
	c.send(ctx, TypeAudioCorrection, AudioCorrection{
		Audio:    base64.StdEncoding.EncodeToString(audio.Data),
		MIMEType: audio.MIMEType,
		Text:     spoken,
	})
}

func (c *conn) replyLoop(ctx context.Context, l *live) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.done:
			return nil
		case text := <-l.replies:
			reply, err := l.partner.Reply(ctx, l.history, text)
			if err != nil {
				c.log.Warn("tutor: conversation reply", "session", l.sess.ID, "error", err)
				continue
			}
			l.history = append(l.history, llm.UserMessage(text), types.Message{Role: "assistant", Content: reply})
			if over := len(l.history) - 2*conversation.DefaultMaxHistory; over > 0 {
				l.history = l.history[over:]
			}
			if c.isCurrent(l) {
				c.send(ctx, TypeReply, Reply{Text: reply})
			}
		}
	}
}

func (c *conn) send(ctx context.Context, typ string, data any) {
	wctx, cancel := context.WithTimeout(ctx, c.h.writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, c.ws, envelope(typ, data, c.h.now())); err != nil {
		c.log.Debug("tutor: write failed", "type", typ, "error", err)
	}
}

func (c *conn) sendError(ctx context.Context, msg string) {
	c.send(ctx, TypeError, Error{Message: msg})
}
