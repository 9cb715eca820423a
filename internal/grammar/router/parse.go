package router

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/vartalaap/vartalaap/internal/grammar"
)

// HeuristicCorrection is the corrected text reported when a reply could only
// be read heuristically; the reply itself becomes the explanation.
const HeuristicCorrection = "See explanation"

var (
	fence      = regexp.MustCompile("```[a-zA-Z]*")
	jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)
)

// heuristicKeywords flag a free-text reply as reporting an error. A reply
// that merely talks about errors ("there is no error here") is flagged too.
var heuristicKeywords = []string{"error", "incorrect", "mistake"}

// Parse normalizes a model reply into a [grammar.Detection] for text. The
// caller fills in Method and Latency.
//
// A structured JSON verdict is preferred. When none can be read, the reply is
// scanned for error keywords and, if one is present, reported as an advisory
// finding whose explanation is the reply itself.
func Parse(reply, text string, native grammar.Language) grammar.Detection {
	if d, ok := parseStructured(reply, text, native); ok {
		return d
	}
	return parseHeuristic(reply, text)
}

func parseStructured(reply, text string, native grammar.Language) (grammar.Detection, bool) {
	raw := jsonObject.FindString(fence.ReplaceAllString(reply, ""))
	if raw == "" {
		return grammar.Detection{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return grammar.Detection{}, false
	}
	var hasError bool
	v, ok := fields["hasError"]
	if !ok || json.Unmarshal(v, &hasError) != nil {
		return grammar.Detection{}, false
	}
	if !hasError {
		return grammar.Negative(text, ""), true
	}

	d := grammar.Detection{
		HasError:          true,
		Original:          stringField(fields, "originalText"),
		Corrected:         stringField(fields, "correctedText"),
		Category:          stringField(fields, "errorType"),
		Explanation:       stringField(fields, "explanation"),
		NativeExplanation: stringField(fields, "explanationNative"),
		Kind:              grammar.KindLiteral,
	}
	if d.Original == "" {
		d.Original = text
	}
	if d.NativeExplanation == "" && native.Name != "" {
		d.NativeExplanation = stringField(fields, "explanation_"+strings.ToLower(native.Name))
	}
	return d, true
}

// stringField returns fields[key] when it is a JSON string, else "".
func stringField(fields map[string]json.RawMessage, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func parseHeuristic(reply, text string) grammar.Detection {
	lower := strings.ToLower(reply)
	for _, kw := range heuristicKeywords {
		if strings.Contains(lower, kw) {
			explanation := strings.TrimSpace(reply)
			return grammar.Detection{
				HasError:          true,
				Original:          text,
				Corrected:         HeuristicCorrection,
				Category:          "grammar",
				Explanation:       explanation,
				NativeExplanation: explanation,
				Kind:              grammar.KindAdvisory,
			}
		}
	}
	return grammar.Negative(text, "")
}
