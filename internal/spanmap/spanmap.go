// Package spanmap aligns a timed word sequence to rune offsets in the
// original source text. Synthesizers normalize quotes and dashes, so matching
// runs over a normalized copy of both sides; reported spans index the
// original text's runes.
package spanmap

import (
	"strings"
	"unicode"

	"github.com/book-expert/logger"
	"github.com/book-expert/readalong-service/internal/core"
)

const (
	// DefaultWindowBack and DefaultWindowForward bound the local search
	// around the cursor before falling back to a whole-text scan.
	DefaultWindowBack    = 100
	DefaultWindowForward = 1000

	// DefaultWarnRatio is the mapped-word fraction below which the source
	// text has likely diverged from the synthesized sequence.
	DefaultWarnRatio = 0.95
)

// normalizer folds the quote and dash variants synthesizers emit into their
// ASCII forms. Every mapping is rune-for-rune, so normalized offsets equal
// original offsets.
var normalizer = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`,
	"‘", "'", "’", "'", "‚", "'",
	"—", "-", "–", "-",
)

// Mapper computes character spans for word-timing sequences.
type Mapper struct {
	log           *logger.Logger
	windowBack    int
	windowForward int
	warnRatio     float64
}

// New creates a Mapper with the default search windows and drift threshold.
func New(log *logger.Logger) *Mapper {
	return &Mapper{
		log:           log,
		windowBack:    DefaultWindowBack,
		windowForward: DefaultWindowForward,
		warnRatio:     DefaultWarnRatio,
	}
}

// WithWarnRatio overrides the mapped-fraction threshold for drift warnings.
func (m *Mapper) WithWarnRatio(ratio float64) *Mapper {
	if ratio > 0 {
		m.warnRatio = ratio
	}

	return m
}

// MapSpans locates each word in the text, processing words in order with a
// monotonically advancing cursor. A word that cannot be located keeps the
// unmapped span; mapping never fails as a whole.
//
// Each word is tried three ways: at the cursor, inside a bounded window
// around the cursor, and finally anywhere in the text. The global fallback
// deliberately does not advance the cursor, since its match may be out of
// sequence; downstream consumers filter out-of-order spans at extraction
// time.
func (m *Mapper) MapSpans(words []core.WordTiming, text string) []core.CharSpan {
	spans := make([]core.CharSpan, len(words))
	for i := range spans {
		spans[i] = core.CharSpan{Start: core.UnmappedChar, End: core.UnmappedChar}
	}

	if len(words) == 0 || text == "" {
		return spans
	}

	haystack := []rune(strings.ToLower(normalizer.Replace(text)))
	mapped := 0
	pos := 0

	for i := range words {
		needle := []rune(strings.ToLower(normalizer.Replace(words[i].Word)))
		if len(needle) == 0 {
			continue
		}

		span, advanced := m.locate(haystack, needle, pos)
		if span.Unmapped() {
			continue
		}

		spans[i] = span
		mapped++

		if advanced {
			pos = span.End
		}
	}

	ratio := float64(mapped) / float64(len(words))
	if ratio < m.warnRatio {
		m.log.Warn(
			"Mapped only %d of %d words (%.1f%%): source text likely diverged from synthesized sequence",
			mapped, len(words), ratio*100,
		)
	}

	return spans
}

// locate runs the three-stage search. The second return value reports whether
// the cursor may advance past the match.
func (m *Mapper) locate(haystack, needle []rune, pos int) (core.CharSpan, bool) {
	// Stage 1: the word continues the sequence at the cursor.
	if at := indexRunesFrom(haystack, needle, pos); at >= 0 {
		if onWordBoundary(haystack, at, at+len(needle)) {
			return core.CharSpan{Start: at, End: at + len(needle)}, true
		}
	}

	// Stage 2: scan a bounded window around the cursor, match by match,
	// until one sits on a word boundary.
	windowStart := max(0, pos-m.windowBack)
	windowEnd := min(len(haystack), pos+m.windowForward)

	if at := boundaryIndex(haystack, needle, windowStart, windowEnd); at >= 0 {
		return core.CharSpan{Start: at, End: at + len(needle)}, true
	}

	// Stage 3: whole-text scan. Recall over ordering: the match may lie
	// before the cursor, so the cursor must not follow it.
	if at := boundaryIndex(haystack, needle, 0, len(haystack)); at >= 0 {
		return core.CharSpan{Start: at, End: at + len(needle)}, false
	}

	return core.CharSpan{Start: core.UnmappedChar, End: core.UnmappedChar}, false
}

// boundaryIndex finds the first occurrence of needle starting in
// [from, limit) whose surrounding characters are word boundaries.
func boundaryIndex(haystack, needle []rune, from, limit int) int {
	for at := indexRunesFrom(haystack, needle, from); at >= 0 && at < limit; {
		if onWordBoundary(haystack, at, at+len(needle)) {
			return at
		}

		at = indexRunesFrom(haystack, needle, at+1)
	}

	return -1
}

// onWordBoundary reports whether the characters immediately surrounding
// [start, end) are absent or non-alphanumeric, preventing matches inside a
// longer word.
func onWordBoundary(haystack []rune, start, end int) bool {
	if start > 0 && isWordRune(haystack[start-1]) {
		return false
	}

	if end < len(haystack) && isWordRune(haystack[end]) {
		return false
	}

	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// indexRunesFrom returns the rune offset of the first occurrence of needle at
// or after from, or -1.
func indexRunesFrom(haystack, needle []rune, from int) int {
	if from < 0 {
		from = 0
	}

	last := len(haystack) - len(needle)
	for at := from; at <= last; at++ {
		if runesMatchAt(haystack, needle, at) {
			return at
		}
	}

	return -1
}

func runesMatchAt(haystack, needle []rune, at int) bool {
	for j, r := range needle {
		if haystack[at+j] != r {
			return false
		}
	}

	return true
}
