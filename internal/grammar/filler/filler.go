// Package filler scans utterances for filler words and disfluencies.
package filler

import "strings"

// vocabulary is scanned in this order; Scan reports hits in the same order.
var vocabulary = []string{"umm", "uhh", "aah", "uh", "hmm", "like", "you know", "basically"}

// Vocabulary returns a copy of the filler tokens Scan looks for.
func Vocabulary() []string {
	out := make([]string, len(vocabulary))
	copy(out, vocabulary)
	return out
}

// Scan returns the distinct filler tokens contained in text, compared
// case-insensitively by substring, in vocabulary order. It returns nil when
// none are present.
//
// Matching is by substring, so "uhh" reports both "uhh" and "uh", and
// "likely" reports "like".
func Scan(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var found []string
	for _, f := range vocabulary {
		if strings.Contains(lower, f) {
			found = append(found, f)
		}
	}
	return found
}
