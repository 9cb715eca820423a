// Package rules loads the ordered grammar rule catalog and matches text
// against it.
//
// The built-in catalog is compiled from the embedded english.yaml. A catalog
// is immutable once loaded and safe for concurrent use.
package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vartalaap/vartalaap/internal/grammar"
)

//go:embed english.yaml
var embedded []byte

// fallbackLanguage is the explanation language every rule must provide.
const fallbackLanguage = "en"

// rawRule is the on-disk form of a rule.
type rawRule struct {
	ID           string            `yaml:"id"`
	Pattern      string            `yaml:"pattern"`
	Correction   string            `yaml:"correction"`
	Kind         string            `yaml:"kind"`
	Category     string            `yaml:"category"`
	Explanations map[string]string `yaml:"explanations"`
}

type rawCatalog struct {
	Rules []rawRule `yaml:"rules"`
}

// Rule is one compiled catalog entry.
type Rule struct {
	ID         string
	Pattern    *regexp.Regexp
	Correction string
	Kind       grammar.CorrectionKind
	Category   string

	explanations map[string]string
}

// Explanation returns the explanation for the given ISO 639-1 language code,
// falling back to English.
func (r *Rule) Explanation(code string) string {
	if s, ok := r.explanations[code]; ok {
		return s
	}
	return r.explanations[fallbackLanguage]
}

// Languages returns the language codes this rule has explanations for.
func (r *Rule) Languages() []string {
	out := make([]string, 0, len(r.explanations))
	for code := range r.explanations {
		out = append(out, code)
	}
	return out
}

// Match is a catalog hit.
type Match struct {
	Rule *Rule

	// Span is the literal matched substring of the input.
	Span string

	// Correction is the rule's correction with capture groups expanded for
	// literal rules, or the advisory text unchanged.
	Correction string
}

// Catalog is an ordered, immutable list of rules. The first matching rule wins.
type Catalog struct {
	rules []*Rule
}

// Load reads and compiles a catalog from r. Every invalid entry is reported;
// the returned error joins them all.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var raw rawCatalog
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("rules: decode catalog: %w", err)
	}
	return compile(raw)
}

// MustLoad is like Load but panics on error. It is intended for catalogs
// embedded in the binary, where an invalid entry is a programming error.
func MustLoad(data []byte) *Catalog {
	c, err := Load(bytes.NewReader(data))
	if err != nil {
		panic(err)
	}
	return c
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	return MustLoad(embedded)
})

// Default returns the built-in English catalog.
func Default() *Catalog { return defaultCatalog() }

// Len returns the number of rules.
func (c *Catalog) Len() int { return len(c.rules) }

// Rules returns the rules in match order. The returned slice must not be
// modified.
func (c *Catalog) Rules() []*Rule { return c.rules }

// Lookup returns the rule with the given id.
func (c *Catalog) Lookup(id string) (*Rule, bool) {
	for _, r := range c.rules {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Match returns the first rule whose pattern matches text. A miss is not an
// error.
func (c *Catalog) Match(text string) (Match, bool) {
	if strings.TrimSpace(text) == "" {
		return Match{}, false
	}
	for _, r := range c.rules {
		loc := r.Pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		m := Match{
			Rule:       r,
			Span:       text[loc[0]:loc[1]],
			Correction: r.Correction,
		}
		if r.Kind == grammar.KindLiteral && strings.Contains(r.Correction, "$") {
			m.Correction = string(r.Pattern.ExpandString(nil, r.Correction, text, loc))
		}
		return m, true
	}
	return Match{}, false
}

// groupRef finds $1 and ${1} style references in correction templates.
var groupRef = regexp.MustCompile(`\$\{?(\w+)\}?`)

func compile(raw rawCatalog) (*Catalog, error) {
	if len(raw.Rules) == 0 {
		return nil, errors.New("rules: catalog has no rules")
	}

	var errs []error
	seen := make(map[string]int, len(raw.Rules))
	c := &Catalog{rules: make([]*Rule, 0, len(raw.Rules))}

	for i, rr := range raw.Rules {
		where := fmt.Sprintf("rules[%d]", i)
		if rr.ID != "" {
			where = fmt.Sprintf("rules[%d] %q", i, rr.ID)
		}
		fail := func(format string, args ...any) {
			errs = append(errs, fmt.Errorf("rules: %s: %s", where, fmt.Sprintf(format, args...)))
		}

		if rr.ID == "" {
			fail("id is required")
		} else if prev, dup := seen[rr.ID]; dup {
			fail("duplicate id (first at rules[%d])", prev)
		} else {
			seen[rr.ID] = i
		}

		kind := grammar.CorrectionKind(rr.Kind)
		if !kind.Valid() {
			fail("kind %q must be %q or %q", rr.Kind, grammar.KindLiteral, grammar.KindAdvisory)
		}
		if rr.Category == "" {
			fail("category is required")
		}
		if rr.Explanations[fallbackLanguage] == "" {
			fail("explanations.%s is required", fallbackLanguage)
		}
		if kind == grammar.KindAdvisory && rr.Correction == "" {
			fail("advisory rules need correction text")
		}

		if rr.Pattern == "" {
			fail("pattern is required")
			continue
		}
		re, err := regexp.Compile("(?i)" + rr.Pattern)
		if err != nil {
			fail("compile pattern: %v", err)
			continue
		}

		if kind == grammar.KindLiteral {
			for _, ref := range groupRef.FindAllStringSubmatch(rr.Correction, -1) {
				n, err := strconv.Atoi(ref[1])
				if err != nil || n > re.NumSubexp() {
					fail("correction references %s but pattern has %d groups", ref[0], re.NumSubexp())
				}
			}
		}

		c.rules = append(c.rules, &Rule{
			ID:           rr.ID,
			Pattern:      re,
			Correction:   rr.Correction,
			Kind:         kind,
			Category:     rr.Category,
			explanations: rr.Explanations,
		})
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}
