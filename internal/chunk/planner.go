// Package chunk splits long text into ordered, size-bounded segments that fit
// under a speech provider's per-call input limit.
package chunk

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Boundary records where a chunk was cut.
type Boundary string

const (
	BoundaryParagraph Boundary = "paragraph"
	BoundarySentence  Boundary = "sentence"
	BoundaryForced    Boundary = "forced"
)

const (
	// DefaultMaxChars leaves margin under the 5000 character provider cap.
	DefaultMaxChars = 4500

	paragraphSep = "\n\n"
	sentenceSep  = " "
)

var (
	// ErrEmptyText is returned when the input has no non-whitespace content.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrInvalidLimit is returned for a non-positive size limit.
	ErrInvalidLimit = errors.New("max chars must be positive")

	paragraphBreak = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)
)

// Chunk is one ordered segment of source text.
type Chunk struct {
	Index    int
	Text     string
	Boundary Boundary
}

// Len returns the chunk size in characters.
func (c Chunk) Len() int {
	return utf8.RuneCountInString(c.Text)
}

// Planner splits text into chunks no longer than MaxChars characters.
type Planner struct {
	MaxChars int
}

// NewPlanner returns a Planner with the given limit, or DefaultMaxChars when
// maxChars is not positive.
func NewPlanner(maxChars int) *Planner {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Planner{MaxChars: maxChars}
}

// Plan is shorthand for NewPlanner(maxChars).Plan(text) that rejects a
// non-positive limit instead of defaulting it.
func Plan(text string, maxChars int) ([]Chunk, error) {
	if maxChars <= 0 {
		return nil, ErrInvalidLimit
	}
	return (&Planner{MaxChars: maxChars}).Plan(text)
}

// Plan splits text at the best available boundary: paragraph, then sentence,
// then a fixed-size forced split. Every returned chunk is non-empty and at most
// MaxChars characters long.
func (p *Planner) Plan(text string) ([]Chunk, error) {
	if p.MaxChars <= 0 {
		return nil, ErrInvalidLimit
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	if utf8.RuneCountInString(text) <= p.MaxChars {
		return []Chunk{{Index: 0, Text: text, Boundary: BoundaryParagraph}}, nil
	}

	acc := &accumulator{max: p.MaxChars, sep: paragraphSep, boundary: BoundaryParagraph}
	for _, para := range splitParagraphs(text) {
		if utf8.RuneCountInString(para) <= p.MaxChars {
			acc.add(para)
			continue
		}
		acc.flush()
		p.planParagraph(acc, para)
	}
	acc.flush()

	for i := range acc.out {
		acc.out[i].Index = i
	}
	return acc.out, nil
}

// planParagraph re-splits an oversized paragraph at sentence boundaries and
// appends the result to acc.out.
func (p *Planner) planParagraph(acc *accumulator, para string) {
	sentences := &accumulator{max: p.MaxChars, sep: sentenceSep, boundary: BoundarySentence}
	for _, s := range splitSentences(para) {
		if utf8.RuneCountInString(s) <= p.MaxChars {
			sentences.add(s)
			continue
		}
		sentences.flush()
		for _, piece := range forceSplit(s, p.MaxChars) {
			sentences.out = append(sentences.out, Chunk{Text: piece, Boundary: BoundaryForced})
		}
	}
	sentences.flush()
	acc.out = append(acc.out, sentences.out...)
}

// accumulator greedily packs units into chunks, flushing when the next unit
// would overflow max.
type accumulator struct {
	max      int
	sep      string
	boundary Boundary

	cur    strings.Builder
	curLen int
	out    []Chunk
}

func (a *accumulator) add(unit string) {
	n := utf8.RuneCountInString(unit)
	if a.curLen > 0 && a.curLen+utf8.RuneCountInString(a.sep)+n > a.max {
		a.flush()
	}
	if a.curLen > 0 {
		a.cur.WriteString(a.sep)
		a.curLen += utf8.RuneCountInString(a.sep)
	}
	a.cur.WriteString(unit)
	a.curLen += n
}

func (a *accumulator) flush() {
	if a.curLen == 0 {
		return
	}
	a.out = append(a.out, Chunk{Text: a.cur.String(), Boundary: a.boundary})
	a.cur.Reset()
	a.curLen = 0
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences cuts after terminal punctuation (plus any closing quotes or
// brackets) that is followed by whitespace or the end of the text.
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && (isTerminal(runes[end]) || isCloser(runes[end])) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			i = end - 1
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', '»', ')', ']':
		return true
	}
	return false
}

// forceSplit cuts s into pieces of exactly size characters (the last may be
// shorter). Whitespace-only pieces are dropped.
func forceSplit(s string, size int) []string {
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}
