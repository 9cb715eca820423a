package grammar

import (
	"strings"
	"sync"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// chainPool holds reusable transformer chains; a Chain is stateful.
var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFKC, width.Fold)
	},
}

// apostrophes maps typographic quotes that STT engines and keyboards emit to
// their ASCII forms so catalog patterns such as "don't" match.
var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`)

// Normalize prepares transcript text for matching: invalid UTF-8 is dropped,
// the text is NFKC-normalized, full-width forms are folded, curly quotes
// become ASCII and whitespace runs collapse to single spaces. Case is kept.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		out = s
	}

	out = apostrophes.Replace(out)
	return strings.Join(strings.Fields(out), " ")
}
