// Package segment extracts the source-text substring for a page and rebuilds
// the token stream that interleaves timed words with the punctuation and
// whitespace between them.
package segment

import (
	"unicode"

	"github.com/book-expert/readalong-service/internal/core"
)

const (
	// backwardScanLimit bounds how far before the first mapped word the
	// extractor looks for a preceding sentence end.
	backwardScanLimit = 200
	// forwardScanLimit bounds how far past the last mapped word the
	// extractor extends to finish the sentence.
	forwardScanLimit = 100
)

const sentenceTerminators = ".!?"

const softSeparators = ",:;-"

const closingRunes = `"')]}` + "”’»"

// Extent is the rune range of an extracted segment within the full text.
type Extent struct {
	Start int
	End   int
}

// Extract returns the text segment for the page bounds, extended outward to
// natural sentence boundaries. Pages whose words all failed to map yield an
// empty segment.
func Extract(
	spans []core.CharSpan,
	bounds core.PageBounds,
	text []rune,
) (string, Extent) {
	first, last := mappedEdges(spans, bounds)
	if first < 0 {
		return "", Extent{Start: 0, End: 0}
	}

	rawStart := clamp(spans[first].Start, 0, len(text))
	rawEnd := clamp(spans[last].End, 0, len(text))

	start := extendBackward(text, rawStart)
	end := extendForward(text, rawEnd)

	return string(text[start:end]), Extent{Start: start, End: end}
}

// mappedEdges finds the first and last word in range with a usable span.
func mappedEdges(spans []core.CharSpan, bounds core.PageBounds) (int, int) {
	first, last := -1, -1

	for i := bounds.Start; i < bounds.End && i < len(spans); i++ {
		if spans[i].Unmapped() {
			continue
		}

		if first < 0 {
			first = i
		}

		last = i
	}

	return first, last
}

// extendBackward scans up to backwardScanLimit runes before start for the
// nearest preceding sentence terminator; the natural start is just after it
// and any closers or spaces that follow it.
func extendBackward(text []rune, start int) int {
	limit := max(0, start-backwardScanLimit)

	for i := start - 1; i >= limit; i-- {
		if !isTerminator(text[i]) {
			continue
		}

		at := i + 1
		for at < start && (unicode.IsSpace(text[at]) || isClosingRune(text[at])) {
			at++
		}

		return at
	}

	// No terminator in range: take the text start when it is within reach,
	// otherwise stay at the first mapped word.
	if limit == 0 {
		return 0
	}

	return start
}

// extendForward completes the sentence after end: skip whitespace, extend
// through a terminator plus trailing closers and one space, continue through
// soft separators, and give up at the raw end when the next content is a
// plain word.
func extendForward(text []rune, end int) int {
	at := end
	committed := end
	budget := forwardScanLimit

	for at < len(text) && budget > 0 {
		for at < len(text) && budget > 0 && unicode.IsSpace(text[at]) {
			at++
			budget--
		}

		if at >= len(text) || budget <= 0 {
			break
		}

		r := text[at]

		switch {
		case isTerminator(r):
			at++
			for at < len(text) && isClosingRune(text[at]) {
				at++
			}

			if at < len(text) && text[at] == ' ' {
				at++
			}

			return at
		case isSoftSeparator(r):
			at++
			budget--
			committed = at
		default:
			return committed
		}
	}

	return committed
}

func isTerminator(r rune) bool {
	for _, t := range sentenceTerminators {
		if r == t {
			return true
		}
	}

	return false
}

func isSoftSeparator(r rune) bool {
	for _, s := range softSeparators {
		if r == s {
			return true
		}
	}

	return false
}

func isClosingRune(r rune) bool {
	for _, c := range closingRunes {
		if r == c {
			return true
		}
	}

	return false
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
