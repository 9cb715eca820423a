package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/vartalaap/vartalaap/internal/session"
	"github.com/vartalaap/vartalaap/pkg/provider/llm"
	llmmock "github.com/vartalaap/vartalaap/pkg/provider/llm/mock"
	"github.com/vartalaap/vartalaap/pkg/types"
)

func TestSystemPrompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    Settings
		want []string
	}{
		{"practice default", Settings{}, []string{"English conversation partner", "English and Hindi"}},
		{"practice tamil", Settings{Mode: session.ModeEnglishPractice, Native: "Tamil"}, []string{"Translate explanation to Tamil"}},
		{"interview default is tech", Settings{Mode: session.ModeInterview}, []string{"software engineering interviewer"}},
		{"interview unknown domain is tech", Settings{Mode: session.ModeInterview, Domain: "pilot"}, []string{"software engineering interviewer"}},
		{"upsc", Settings{Mode: session.ModeInterview, Domain: DomainUPSC, Native: "Marathi"}, []string{"UPSC Civil Services", "grammar errors in Marathi"}},
		{"finance", Settings{Mode: session.ModeInterview, Domain: DomainFinance}, []string{"banking/finance role"}},
		{"business", Settings{Mode: session.ModeInterview, Domain: DomainBusiness}, []string{"MBA interviewer"}},
		{"language learning", Settings{Mode: session.ModeLanguageLearning, TargetLanguage: "ta", Native: "Hindi"}, []string{"learn Tamil", "explain in Hindi"}},
		{"language learning default", Settings{Mode: session.ModeLanguageLearning}, []string{"learn Hindi"}},
		{"roleplay", Settings{Mode: session.ModeRoleplay, Domain: "airport check-in"}, []string{"scenario: airport check-in"}},
		{"roleplay default", Settings{Mode: session.ModeRoleplay}, []string{"scenario: restaurant"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SystemPrompt(tt.s)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("prompt missing %q", w)
				}
			}
			if strings.Contains(got, "%!") {
				t.Errorf("prompt has a formatting error:\n%s", got)
			}
		})
	}
}

func TestNudgeMessage(t *testing.T) {
	t.Parallel()

	if got := NudgeMessage(Settings{}); !strings.Contains(got, "Take your time") {
		t.Errorf("practice nudge = %q", got)
	}
	if got := NudgeMessage(Settings{Mode: session.ModeInterview, Domain: DomainUPSC}); !strings.Contains(got, "thoughtful") {
		t.Errorf("upsc nudge = %q", got)
	}
	if a, b := NudgeMessage(Settings{Mode: session.ModeInterview}), NudgeMessage(Settings{Mode: session.ModeInterview, Domain: DomainTech}); a != b {
		t.Errorf("default interview nudge %q differs from tech %q", a, b)
	}
}

func TestInterviewDomains(t *testing.T) {
	t.Parallel()

	got := InterviewDomains()
	if len(got) != 4 || got[0].ID != DomainTech {
		t.Errorf("InterviewDomains() = %+v", got)
	}
	got[0].ID = "changed"
	if InterviewDomains()[0].ID != DomainTech {
		t.Error("InterviewDomains must return a fresh slice")
	}
}

func TestReply(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  That sounds fun! Where did you go?  "}}
	partner := NewPartner(p, Settings{Mode: session.ModeRoleplay, Domain: "hotel booking"})

	history := []types.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "Welcome to the hotel."},
	}
	got, err := partner.Reply(context.Background(), history, " I went to Goa ")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got != "That sounds fun! Where did you go?" {
		t.Errorf("reply = %q", got)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != partner.SystemPrompt() || !strings.Contains(req.SystemPrompt, "hotel booking") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 3 || req.Messages[2] != (types.Message{Role: "user", Content: "I went to Goa"}) {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Temperature != defaultTemperature || req.MaxTokens != defaultMaxTokens {
		t.Errorf("sampling = (%v, %d)", req.Temperature, req.MaxTokens)
	}
}

func TestReply_TrimsHistory(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	partner := NewPartner(p, Settings{}, WithMaxHistory(4))

	var history []types.Message
	for i := range 10 {
		history = append(history, types.Message{Role: "user", Content: fmt.Sprint(i)})
	}
	if _, err := partner.Reply(context.Background(), history, "next"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	msgs := p.Calls()[0].Req.Messages
	if len(msgs) != 5 || msgs[0].Content != "6" || msgs[4].Content != "next" {
		t.Errorf("messages = %+v", msgs)
	}
	if len(history) != 10 {
		t.Error("caller history must not be modified")
	}
}

func TestReply_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name string
		p    *llmmock.Provider
		text string
		is   error
	}{
		{"empty utterance", &llmmock.Provider{}, "   ", ErrEmptyUtterance},
		{"provider error", &llmmock.Provider{CompleteErr: boom}, "hello there", boom},
		{"empty reply", &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " "}}, "hello there", nil},
		{"nil reply", &llmmock.Provider{}, "hello there", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPartner(tt.p, Settings{}).Reply(context.Background(), nil, tt.text)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("err = %v, want %v", err, tt.is)
			}
		})
	}
}
