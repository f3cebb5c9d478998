package narration

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Identity names the underlying work a content item narrates. Two items with
// the same canonical key share cached audio per language.
type Identity struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// CanonicalKey normalizes the identity so that spelling variants of the same
// work compare equal: compatibility decomposition, accents removed, case
// folded, punctuation collapsed to single spaces. It returns "" for a nil
// identity or one whose title normalizes to nothing.
func CanonicalKey(id *Identity) string {
	if id == nil {
		return ""
	}
	title := normalizePart(id.Title)
	if title == "" {
		return ""
	}
	return title + "|" + normalizePart(id.Author)
}

func normalizePart(s string) string {
	// Transformers and casers keep state and are not shared across calls.
	strip := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(strip, s)
	if err != nil {
		out = s
	}
	out = cases.Fold().String(out)

	var b strings.Builder
	gap := false
	for _, r := range out {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			gap = true
			continue
		}
		if gap && b.Len() > 0 {
			b.WriteByte(' ')
		}
		gap = false
		b.WriteRune(r)
	}
	return b.String()
}
