// Package api serves the REST endpoints of Vartalaap: a one-shot grammar
// check, the reference lists the client renders (interview domains, native
// languages, the rule catalog), practice history and session feedback.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/vartalaap/vartalaap/internal/conversation"
	"github.com/vartalaap/vartalaap/internal/feedback"
	"github.com/vartalaap/vartalaap/internal/grammar"
	"github.com/vartalaap/vartalaap/internal/grammar/rules"
	"github.com/vartalaap/vartalaap/internal/observe"
	"github.com/vartalaap/vartalaap/internal/session"
)

const (
	// DefaultHistoryLimit is the number of past sessions returned when the
	// request does not ask for a count.
	DefaultHistoryLimit = 20

	maxHistoryLimit = 100
)

// Detector is the grammar pipeline behind the check endpoint.
type Detector interface {
	Detect(ctx context.Context, text string, gctx grammar.Context) grammar.Detection
	DetectFillers(text string) []string
	Catalog() *rules.Catalog
}

// FeedbackStore persists learner ratings.
type FeedbackStore interface {
	SaveFeedback(ctx context.Context, rec feedback.Record) error
}

// API holds the REST handlers.
type API struct {
	detector     Detector
	sessions     *session.Manager
	feedback     FeedbackStore
	historyLimit int
}

// Option configures an API.
type Option func(*API)

// WithHistoryLimit sets the default number of past sessions returned.
func WithHistoryLimit(n int) Option {
	return func(a *API) {
		if n > 0 {
			a.historyLimit = min(n, maxHistoryLimit)
		}
	}
}

// WithFeedback enables the feedback endpoint.
func WithFeedback(s FeedbackStore) Option {
	return func(a *API) { a.feedback = s }
}

// New creates an API.
func New(d Detector, sessions *session.Manager, opts ...Option) *API {
	a := &API{detector: d, sessions: sessions, historyLimit: DefaultHistoryLimit}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Register adds the endpoints to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/check-grammar", a.CheckGrammar)
	mux.HandleFunc("GET /api/v1/interview-modes", a.InterviewModes)
	mux.HandleFunc("GET /api/v1/languages", a.Languages)
	mux.HandleFunc("GET /api/v1/rules", a.Rules)
	mux.HandleFunc("GET /api/v1/sessions", a.ActiveSessions)
	mux.HandleFunc("GET /api/v1/users/{userID}/sessions", a.History)
	mux.HandleFunc("POST /api/v1/feedback", a.Feedback)
}

type checkGrammarRequest struct {
	Text           string       `json:"text" validate:"required,max=2000"`
	NativeLanguage string       `json:"native_language" validate:"omitempty,max=40"`
	Mode           session.Mode `json:"mode" validate:"omitempty,oneof=english_practice interview language_learning roleplay"`
}

type checkGrammarResponse struct {
	HasError bool              `json:"has_error"`
	Result   grammar.Detection `json:"result"`
	Fillers  []string          `json:"fillers"`
	Message  string            `json:"message,omitempty"`
}

// CheckGrammar runs the full detector on one piece of text.
func (a *API) CheckGrammar(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[checkGrammarRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	gctx := grammar.Context{
		Native: grammar.ResolveLanguage(req.NativeLanguage),
		Mode:   string(req.Mode),
	}

	ctx, span := observe.StartSpan(r.Context(), "api.check_grammar")
	defer span.End()

	det := a.detector.Detect(ctx, req.Text, gctx)
	resp := checkGrammarResponse{
		HasError: det.HasError,
		Result:   det,
		Fillers:  a.detector.DetectFillers(req.Text),
	}
	if resp.Fillers == nil {
		resp.Fillers = []string{}
	}
	if !det.HasError {
		resp.Message = "No grammar errors detected"
	}
	writeJSON(w, http.StatusOK, resp)
}

// InterviewModes lists the interview domains and session modes.
func (a *API) InterviewModes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"modes":        conversation.InterviewDomains(),
		"sessionModes": session.Modes,
	})
}

// Languages lists the supported native languages.
func (a *API) Languages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": grammar.SupportedLanguages()})
}

type ruleView struct {
	ID          string                 `json:"id"`
	Pattern     string                 `json:"pattern"`
	Correction  string                 `json:"correction"`
	Kind        grammar.CorrectionKind `json:"kind"`
	Category    string                 `json:"category"`
	Explanation string                 `json:"explanation"`
	Languages   []string               `json:"languages"`
}

// Rules lists the rule catalog in match order.
func (a *API) Rules(w http.ResponseWriter, _ *http.Request) {
	all := a.detector.Catalog().Rules()
	out := make([]ruleView, 0, len(all))
	for _, r := range all {
		langs := r.Languages()
		slices.Sort(langs)
		out = append(out, ruleView{
			ID:          r.ID,
			Pattern:     r.Pattern.String(),
			Correction:  r.Correction,
			Kind:        r.Kind,
			Category:    r.Category,
			Explanation: r.Explanation("en"),
			Languages:   langs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

// ActiveSessions lists the live sessions.
func (a *API) ActiveSessions(w http.ResponseWriter, _ *http.Request) {
	live := a.sessions.Active()
	out := make([]session.Info, 0, len(live))
	for _, s := range live {
		out = append(out, s.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// History returns the most recent finished sessions of a user.
func (a *API) History(w http.ResponseWriter, r *http.Request) {
	limit := a.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	sums, err := a.sessions.History(r.Context(), r.PathValue("userID"), limit)
	switch {
	case errors.Is(err, session.ErrNoStore):
		writeError(w, http.StatusNotFound, "session history is not enabled")
		return
	case err != nil:
		observe.Logger(r.Context()).Error("api: session history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session history")
		return
	}
	if sums == nil {
		sums = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sums})
}

type feedbackRequest struct {
	SessionID          string `json:"session_id" validate:"required,max=64"`
	UserID             string `json:"user_id" validate:"omitempty,max=128"`
	Rating             int    `json:"rating" validate:"required,min=1,max=5"`
	CorrectionsHelpful *bool  `json:"corrections_helpful"`
	Comments           string `json:"comments" validate:"omitempty,max=2000"`
}

// Feedback records a learner's rating of a session.
func (a *API) Feedback(w http.ResponseWriter, r *http.Request) {
	if a.feedback == nil {
		writeError(w, http.StatusNotFound, "feedback is not enabled")
		return
	}
	req, err := decodeJSON[feedbackRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = a.feedback.SaveFeedback(r.Context(), feedback.Record{
		SessionID:          req.SessionID,
		UserID:             req.UserID,
		Rating:             req.Rating,
		CorrectionsHelpful: req.CorrectionsHelpful,
		Comments:           req.Comments,
	})
	if err != nil {
		observe.Logger(r.Context()).Error("api: save feedback", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
