package rules

import (
	"strings"
	"testing"

	"github.com/vartalaap/vartalaap/internal/grammar"
)

func TestDefault_Loads(t *testing.T) {
	t.Parallel()

	c := Default()
	if c.Len() < 50 {
		t.Fatalf("expected at least 50 rules, got %d", c.Len())
	}
	for _, r := range c.Rules() {
		if r.Explanation("en") == "" {
			t.Errorf("rule %q has no English explanation", r.ID)
		}
		if !r.Kind.Valid() {
			t.Errorf("rule %q has invalid kind %q", r.ID, r.Kind)
		}
	}
	if Default() != c {
		t.Error("Default must return the same catalog")
	}
}

func TestMatch_Scenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text       string
		ruleID     string
		span       string
		correction string
		category   string
	}{
		{"I has a book", "i-has", "I has", "I have", "subject-verb"},
		{"he have a car", "he-she-it-have", "he have", "he has", "subject-verb"},
		{"She have two sisters", "he-she-it-have", "She have", "She has", "subject-verb"},
		{"it have stopped", "he-she-it-have", "it have", "it has", "subject-verb"},
		{"they is late", "plural-is", "they is", "they are", "subject-verb"},
		{"we could of won", "modal-of", "could of", "could have", "common-mistake"},
		{"is anyone are coming", "someone-are", "anyone are", "anyone is", "subject-verb"},
		{"we need car now", "missing-article", "need car", "need a car", "article"},
		{"I want to discuss about salary", "discuss-about", "discuss about", "discuss", "preposition"},
		{"please prepone the meeting", "prepone", "prepone", "reschedule earlier / move up", "indianism"},
		{"it is, you know, fine", "filler-you-know", "you know", "", "filler"},
		{"I am here since yesterday", "here-since-yesterday", "I am here since yesterday", "I have been here since yesterday", "tense"},
	}
	c := Default()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			m, ok := c.Match(tt.text)
			if !ok {
				t.Fatalf("expected a match for %q", tt.text)
			}
			if m.Rule.ID != tt.ruleID {
				t.Errorf("rule = %q, want %q", m.Rule.ID, tt.ruleID)
			}
			if m.Span != tt.span {
				t.Errorf("span = %q, want %q", m.Span, tt.span)
			}
			if m.Correction != tt.correction {
				t.Errorf("correction = %q, want %q", m.Correction, tt.correction)
			}
			if m.Rule.Category != tt.category {
				t.Errorf("category = %q, want %q", m.Rule.Category, tt.category)
			}
		})
	}
}

func TestMatch_FirstMatchWins(t *testing.T) {
	t.Parallel()

	c := Default()

	// Both kindly-do-the-needful and the shorter do-the-needful rule match;
	// the earlier, more specific one must win.
	m, ok := c.Match("kindly do the needful by today")
	if !ok || m.Rule.ID != "kindly-do-the-needful" {
		t.Errorf("got %+v, want kindly-do-the-needful", m.Rule)
	}
	m, ok = c.Match("just do the needful")
	if !ok || m.Rule.ID != "do-the-needful" {
		t.Errorf("got %+v, want do-the-needful", m.Rule)
	}

	// "I has" appears after "they is" in the text but earlier in the catalog.
	m, ok = c.Match("they is sure I has it")
	if !ok || m.Rule.ID != "i-has" {
		t.Errorf("got %+v, want i-has", m.Rule)
	}
}

func TestMatch_WordBoundaries(t *testing.T) {
	t.Parallel()

	c := Default()
	for _, text := range []string{
		"the preponement was odd",
		"Ihas no spaces",
		"ok",
		"",
		"   ",
		"my brother and me is going to the office tomorrow morning",
	} {
		if m, ok := c.Match(text); ok {
			t.Errorf("Match(%q) unexpectedly hit rule %q", text, m.Rule.ID)
		}
	}
}

func TestMatch_AdvisoryNotExpanded(t *testing.T) {
	t.Parallel()

	m, ok := Default().Match("yesterday I go to the market")
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Rule.Kind != grammar.KindAdvisory {
		t.Errorf("kind = %q, want advisory", m.Rule.Kind)
	}
	if m.Correction != "yesterday I went/ate/came/saw" {
		t.Errorf("correction = %q", m.Correction)
	}
}

func TestRuleExplanation_Fallback(t *testing.T) {
	t.Parallel()

	r, ok := Default().Lookup("i-has")
	if !ok {
		t.Fatal("i-has not found")
	}
	if got := r.Explanation("ta"); got != "'I' உடன் 'have' பயன்படுத்தவும், 'has' அல்ல" {
		t.Errorf("ta = %q", got)
	}
	if got := r.Explanation("kn"); got != r.Explanation("en") {
		t.Errorf("kn should fall back to en, got %q", got)
	}
	if len(r.Languages()) != 4 {
		t.Errorf("languages = %v, want 4", r.Languages())
	}
	if _, ok := Default().Lookup("no-such-rule"); ok {
		t.Error("Lookup of unknown id should fail")
	}
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	const bad = `
rules:
  - id: broken-regex
    pattern: '\b(unclosed'
    correction: x
    kind: literal
    category: tense
    explanations: {en: "x"}
  - id: bad-kind
    pattern: '\bfoo\b'
    correction: bar
    kind: rewrite
    category: tense
    explanations: {en: "x"}
  - id: bad-kind
    pattern: '\b(foo)\b'
    correction: $2 bar
    kind: literal
    category: ''
    explanations: {hi: "x"}
`
	_, err := Load(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{
		"compile pattern",
		`kind "rewrite"`,
		"duplicate id",
		"category is required",
		"explanations.en is required",
		"references $2",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestLoad_UnknownField(t *testing.T) {
	t.Parallel()

	const doc = `
rules:
  - id: x
    pattern: '\bx\b'
    correction: y
    kind: literal
    category: c
    severity: 3
    explanations: {en: "e"}
`
	if _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_Empty(t *testing.T) {
	t.Parallel()

	if _, err := Load(strings.NewReader("rules: []\n")); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}

func TestMustLoad_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		if err, ok := r.(error); !ok || !strings.Contains(err.Error(), "rules:") {
			t.Errorf("unexpected panic value %v", r)
		}
	}()
	MustLoad([]byte("rules:\n  - id: x\n    pattern: '('\n"))
}
