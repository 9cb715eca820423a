package grammar

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Language identifies a learner's native language. Code is the ISO 639-1 code
// when known; Name is the English name used in prompts ("Hindi").
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Autonym returns the language's name in its own script (e.g. "हिन्दी"), or
// Name when no autonym is known.
func (l Language) Autonym() string {
	if l.Code == "" {
		return l.Name
	}
	tag, err := language.Parse(l.Code)
	if err != nil {
		return l.Name
	}
	if self := display.Self.Name(tag); self != "" {
		return self
	}
	return l.Name
}

// IsZero reports whether l is the zero Language.
func (l Language) IsZero() bool { return l.Code == "" && l.Name == "" }

// DefaultLanguage is used when a session does not specify a native language.
var DefaultLanguage = Language{Code: "hi", Name: "Hindi"}

// supported is the list of native languages offered to learners, in display
// order.
var supported = []Language{
	{Code: "hi", Name: "Hindi"},
	{Code: "ta", Name: "Tamil"},
	{Code: "te", Name: "Telugu"},
	{Code: "mr", Name: "Marathi"},
	{Code: "pa", Name: "Punjabi"},
	{Code: "bn", Name: "Bengali"},
	{Code: "gu", Name: "Gujarati"},
	{Code: "kn", Name: "Kannada"},
	{Code: "ml", Name: "Malayalam"},
}

// SupportedLanguages returns a copy of the native languages offered to learners.
func SupportedLanguages() []Language {
	out := make([]Language, len(supported))
	copy(out, supported)
	return out
}

// ResolveLanguage maps a language name ("tamil", "Tamil") or tag ("ta",
// "ta-IN") to a Language. Empty input yields DefaultLanguage. Unknown names are
// kept as title-cased names without a code so prompts can still mention them.
func ResolveLanguage(s string) Language {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultLanguage
	}
	for _, l := range supported {
		if strings.EqualFold(l.Name, s) || strings.EqualFold(l.Code, s) {
			return l
		}
	}

	if tag, err := language.Parse(s); err == nil {
		base, conf := tag.Base()
		if conf != language.No {
			for _, l := range supported {
				if l.Code == base.String() {
					return l
				}
			}
			if name := display.English.Languages().Name(base); name != "" {
				return Language{Code: base.String(), Name: name}
			}
		}
	}

	return Language{Name: cases.Title(language.English).String(strings.ToLower(s))}
}
