package detector

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/vartalaap/vartalaap/internal/grammar"
	"github.com/vartalaap/vartalaap/internal/grammar/rules"
)

// recordingRouter is a Router test double that records the texts it was
// asked about.
type recordingRouter struct {
	mu     sync.Mutex
	result grammar.Detection
	err    error
	texts  []string
	ctxs   []grammar.Context
}

func (r *recordingRouter) Route(_ context.Context, text string, gctx grammar.Context) (grammar.Detection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	r.ctxs = append(r.ctxs, gctx)
	return r.result, r.err
}

func (r *recordingRouter) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

var hindi = grammar.Context{Native: grammar.DefaultLanguage, Mode: "english_practice"}

func TestDetect_PatternFastPath(t *testing.T) {
	t.Parallel()

	router := &recordingRouter{}
	d := New(nil, WithRouter(router))

	got := d.Detect(context.Background(), "I has a book", hindi)
	if !got.HasError {
		t.Fatal("expected an error")
	}
	if got.Original != "I has" || got.Corrected != "I have" || got.Category != "subject-verb" {
		t.Errorf("unexpected fix fields %+v", got)
	}
	if got.Method != grammar.MethodPattern || got.RuleID != "i-has" || got.Kind != grammar.KindLiteral {
		t.Errorf("unexpected provenance %+v", got)
	}
	if got.Explanation != `Use "I have" instead` {
		t.Errorf("explanation = %q", got.Explanation)
	}
	if got.NativeExplanation == "" || got.NativeExplanation == got.Explanation {
		t.Errorf("native explanation = %q, want the Hindi text", got.NativeExplanation)
	}
	if router.calls() != 0 {
		t.Error("router must not be invoked when a rule fires")
	}
}

func TestDetect_CaptureGroupSubstitution(t *testing.T) {
	t.Parallel()

	d := New(nil)
	for _, tt := range []struct{ text, corrected string }{
		{"he have a car", "he has"},
		{"She have two sisters", "She has"},
		{"it have stopped", "it has"},
	} {
		got := d.Detect(context.Background(), tt.text, hindi)
		if got.Corrected != tt.corrected {
			t.Errorf("Detect(%q).Corrected = %q, want %q", tt.text, got.Corrected, tt.corrected)
		}
	}
}

func TestDetect_NativeExplanationFollowsLanguage(t *testing.T) {
	t.Parallel()

	d := New(nil)
	r, _ := rules.Default().Lookup("i-has")

	tamil := grammar.Context{Native: grammar.ResolveLanguage("ta")}
	if got := d.Detect(context.Background(), "I has a pen", tamil); got.NativeExplanation != r.Explanation("ta") {
		t.Errorf("tamil explanation = %q", got.NativeExplanation)
	}
	kannada := grammar.Context{Native: grammar.ResolveLanguage("kn")}
	if got := d.Detect(context.Background(), "I has a pen", kannada); got.NativeExplanation != r.Explanation("en") {
		t.Errorf("kannada should fall back to English, got %q", got.NativeExplanation)
	}
	if got := d.Detect(context.Background(), "I has a pen", grammar.Context{}); got.NativeExplanation != r.Explanation("hi") {
		t.Errorf("missing language should default to Hindi, got %q", got.NativeExplanation)
	}
}

func TestDetect_AdvisoryAndDeletion(t *testing.T) {
	t.Parallel()

	d := New(nil)

	adv := d.Detect(context.Background(), "yesterday I go to the market", hindi)
	if adv.Kind != grammar.KindAdvisory {
		t.Fatalf("kind = %q, want advisory", adv.Kind)
	}
	r, _ := rules.Default().Lookup(adv.RuleID)
	if adv.Explanation != r.Explanation("en") {
		t.Errorf("advisory explanation = %q, want the rule text", adv.Explanation)
	}

	del := d.Detect(context.Background(), "it is, you know, fine", hindi)
	if del.Corrected != "" || del.Category != "filler" {
		t.Fatalf("unexpected deletion verdict %+v", del)
	}
	if strings.HasPrefix(del.Explanation, "Use ") {
		t.Errorf("deletion explanation %q should not suggest an empty replacement", del.Explanation)
	}
}

func TestDetect_ShortInputNeverEscalates(t *testing.T) {
	t.Parallel()

	router := &recordingRouter{result: grammar.Detection{HasError: true, Method: "groq"}}
	d := New(nil, WithRouter(router))

	for _, text := range []string{"ok", "", "going home now", "  very   well  thanks  "} {
		got := d.Detect(context.Background(), text, hindi)
		if got.HasError || got.Method != grammar.MethodPattern || got.Latency != 0 {
			t.Errorf("Detect(%q) = %+v, want pattern negative", text, got)
		}
	}
	if router.calls() != 0 {
		t.Errorf("router called %d times for short input", router.calls())
	}
}

func TestDetect_OkIsNegative(t *testing.T) {
	t.Parallel()

	router := &recordingRouter{}
	got := New(nil, WithRouter(router)).Detect(context.Background(), "ok", hindi)
	want := grammar.Detection{Original: "ok", Method: grammar.MethodPattern}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if router.calls() != 0 {
		t.Error("router must not be called")
	}
}

func TestDetect_EscalatesLongInput(t *testing.T) {
	t.Parallel()

	const text = "my brother and me is going to the office tomorrow morning"
	positive := grammar.Detection{
		HasError: true, Original: "me is going", Corrected: "I am going",
		Category: "grammar", Kind: grammar.KindLiteral, Method: "gpt",
	}
	router := &recordingRouter{result: positive}
	d := New(nil, WithRouter(router))

	got := d.Detect(context.Background(), text, hindi)
	if got != positive {
		t.Errorf("got %+v, want the router verdict", got)
	}
	if router.calls() != 1 || router.texts[0] != text {
		t.Errorf("router texts = %v", router.texts)
	}
	if router.ctxs[0] != hindi {
		t.Errorf("router context = %+v", router.ctxs[0])
	}
}

func TestDetect_RouterNegativeOrFailureIsPatternNegative(t *testing.T) {
	t.Parallel()

	const text = "my brother and me is going to the office tomorrow morning"
	for name, router := range map[string]*recordingRouter{
		"negative": {result: grammar.Negative(text, "groq")},
		"failure":  {err: errors.New("boom")},
		"cancel":   {err: context.Canceled},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := New(nil, WithRouter(router)).Detect(context.Background(), text, hindi)
			want := grammar.Detection{Original: text, Method: grammar.MethodPattern}
			if got != want {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestDetect_EscalationThreshold(t *testing.T) {
	t.Parallel()

	router := &recordingRouter{}
	d := New(nil, WithRouter(router), WithEscalationWords(5))

	d.Detect(context.Background(), "we went there very quickly", hindi)
	if router.calls() != 0 {
		t.Fatal("five words must not escalate with a threshold of 5")
	}
	d.Detect(context.Background(), "we went there very quickly today", hindi)
	if router.calls() != 1 {
		t.Fatal("six words must escalate with a threshold of 5")
	}
}

func TestDetect_NormalizesInput(t *testing.T) {
	t.Parallel()

	got := New(nil).Detect(context.Background(), "  I   has\ta book ", hindi)
	if !got.HasError || got.Original != "I has" {
		t.Errorf("got %+v", got)
	}
}

func TestDetect_NoRouterConfigured(t *testing.T) {
	t.Parallel()

	const text = "my brother and me is going to the office tomorrow morning"
	got := New(nil).Detect(context.Background(), text, hindi)
	if got.HasError || got.Method != grammar.MethodPattern {
		t.Errorf("got %+v", got)
	}
}

func TestDetect_Concurrent(t *testing.T) {
	t.Parallel()

	router := &recordingRouter{result: grammar.Detection{HasError: true, Method: "groq"}}
	d := New(nil, WithRouter(router))

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text := "I has a book"
			if i%2 == 1 {
				text = "my brother and me is going to the office tomorrow morning"
			}
			if got := d.Detect(context.Background(), text, hindi); !got.HasError {
				t.Errorf("Detect(%q) lost its verdict", text)
			}
		}()
	}
	wg.Wait()
	if router.calls() != 16 {
		t.Errorf("router calls = %d, want 16", router.calls())
	}
}

func TestDetectFillers(t *testing.T) {
	t.Parallel()

	got := New(nil).DetectFillers("Umm, like, I was, umm, basically going")
	if want := []string{"umm", "like", "basically"}; !slices.Equal(got, want) {
		t.Errorf("DetectFillers() = %v, want %v", got, want)
	}
	if got := New(nil).DetectFillers("clean sentence"); len(got) != 0 {
		t.Errorf("DetectFillers() = %v, want none", got)
	}
}

func TestFastPath_Miss(t *testing.T) {
	t.Parallel()

	if _, ok := New(nil).FastPath("the weather is pleasant", hindi); ok {
		t.Error("expected no match")
	}
}
