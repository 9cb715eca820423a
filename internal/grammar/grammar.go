// Package grammar defines the shared vocabulary of the error-detection
// pipeline: the [Detection] verdict produced for each utterance fragment, the
// per-call [Context], and native-language resolution.
//
// The pipeline itself lives in the sub-packages:
//
//   - rules: the ordered, immutable rule catalog and its pattern matcher
//   - filler: the filler-word scanner
//   - router: the ordered chain of model-backed detectors
//   - detector: the orchestrator combining the fast path and the router
//   - chunk: per-session tracking of findings across fragments
package grammar

import (
	"encoding/json"
	"time"
)

// MethodPattern is the detection method reported for rule-catalog verdicts and
// for the default negative result.
const MethodPattern = "pattern"

// CorrectionKind tells consumers how to treat a correction string.
type CorrectionKind string

const (
	// KindLiteral corrections are replacement text. An empty literal
	// correction means the matched span should be deleted.
	KindLiteral CorrectionKind = "literal"

	// KindAdvisory corrections are instructions for a human and must never be
	// substituted into the user's text.
	KindAdvisory CorrectionKind = "advisory"
)

// Valid reports whether k is a known correction kind.
func (k CorrectionKind) Valid() bool {
	return k == KindLiteral || k == KindAdvisory
}

// Detection is the verdict for one utterance fragment. When HasError is false
// the fix fields (Corrected, Category, Explanation, NativeExplanation, Kind,
// RuleID) are empty.
type Detection struct {
	HasError bool

	// Original is the span that was judged. For catalog hits this is the
	// literal matched span; otherwise the full input text.
	Original string

	Corrected         string
	Category          string
	Explanation       string
	NativeExplanation string
	Kind              CorrectionKind

	// RuleID names the catalog rule for pattern hits.
	RuleID string

	// Method is MethodPattern or the name of the router tier that decided.
	Method string

	// Latency is the time the deciding stage took.
	Latency time.Duration
}

// Negative returns the default no-error verdict for text.
func Negative(text, method string) Detection {
	return Detection{Original: text, Method: method}
}

// detectionJSON is the wire form shared by the REST API and the tutor socket.
type detectionJSON struct {
	HasError          bool           `json:"hasError"`
	OriginalText      string         `json:"originalText"`
	CorrectedText     string         `json:"correctedText,omitempty"`
	ErrorType         string         `json:"errorType,omitempty"`
	Explanation       string         `json:"explanation,omitempty"`
	ExplanationNative string         `json:"explanationNative,omitempty"`
	CorrectionKind    CorrectionKind `json:"correctionKind,omitempty"`
	RuleID            string         `json:"ruleId,omitempty"`
	DetectionMethod   string         `json:"detectionMethod"`
	LatencyMs         int64          `json:"latencyMs"`
}

// MarshalJSON implements json.Marshaler.
func (d Detection) MarshalJSON() ([]byte, error) {
	out := detectionJSON{
		HasError:        d.HasError,
		OriginalText:    d.Original,
		DetectionMethod: d.Method,
		LatencyMs:       d.Latency.Milliseconds(),
	}
	if d.HasError {
		out.CorrectedText = d.Corrected
		out.ErrorType = d.Category
		out.Explanation = d.Explanation
		out.ExplanationNative = d.NativeExplanation
		out.CorrectionKind = d.Kind
		out.RuleID = d.RuleID
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Detection) UnmarshalJSON(data []byte) error {
	var in detectionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*d = Detection{
		HasError:          in.HasError,
		Original:          in.OriginalText,
		Corrected:         in.CorrectedText,
		Category:          in.ErrorType,
		Explanation:       in.Explanation,
		NativeExplanation: in.ExplanationNative,
		Kind:              in.CorrectionKind,
		RuleID:            in.RuleID,
		Method:            in.DetectionMethod,
		Latency:           time.Duration(in.LatencyMs) * time.Millisecond,
	}
	return nil
}

// Context carries the per-call session facts the pipeline reads. It is passed
// by value and never mutated by the pipeline.
type Context struct {
	// Native is the learner's native language, used for native explanations.
	Native Language

	// Mode is the conversation mode of the session (e.g. "interview").
	Mode string
}
