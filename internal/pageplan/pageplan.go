// Package pageplan partitions a word-timing sequence into pages of
// approximately the requested size, snapping page boundaries to sentence ends
// within a bounded search window.
package pageplan

import (
	"unicode"

	"github.com/book-expert/readalong-service/internal/core"
)

// Default window parameters. These are tuning knobs, not invariants; the
// service exposes them through configuration.
const (
	// DefaultSentenceMinWords is the floor preventing degenerate tiny
	// pages when a sentence end occurs very early in a page.
	DefaultSentenceMinWords = 10
	// DefaultSearchForward is how many words past the nominal page end the
	// planner looks for a sentence boundary.
	DefaultSearchForward = 50
	// DefaultSearchBack is how far back from the nominal page end the
	// planner settles for an earlier sentence boundary.
	DefaultSearchBack = 50
)

// sentenceTerminators end a sentence.
const sentenceTerminators = ".!?"

// closingRunes may sit between a word and its sentence terminator, or trail
// the terminator.
const closingRunes = `"')]}` + "”’»"

// Planner builds page plans over word sequences.
type Planner struct {
	minWords      int
	searchForward int
	searchBack    int
}

// New creates a Planner with the default window parameters.
func New() *Planner {
	return &Planner{
		minWords:      DefaultSentenceMinWords,
		searchForward: DefaultSearchForward,
		searchBack:    DefaultSearchBack,
	}
}

// WithWindows overrides the sentence search windows. Non-positive values keep
// the defaults.
func (p *Planner) WithWindows(minWords, forward, back int) *Planner {
	if minWords > 0 {
		p.minWords = minWords
	}

	if forward > 0 {
		p.searchForward = forward
	}

	if back > 0 {
		p.searchBack = back
	}

	return p
}

// Plan partitions [0, len(words)) into contiguous, non-overlapping pages.
// Every page except possibly the last holds at least the minimum word count
// and at most pageSize plus the forward search window.
func (p *Planner) Plan(
	words []core.WordTiming,
	spans []core.CharSpan,
	text string,
	pageSize int,
) core.PagePlan {
	plan := core.PagePlan{Pages: nil, TotalWords: len(words)}
	if len(words) == 0 || pageSize <= 0 {
		return plan
	}

	runes := []rune(text)

	for start := 0; start < len(words); {
		end := p.pageEnd(words, spans, runes, start, pageSize)
		plan.Pages = append(plan.Pages, core.PageBounds{Start: start, End: end + 1})
		start = end + 1
	}

	return plan
}

// pageEnd picks the inclusive last word index for a page starting at start.
func (p *Planner) pageEnd(
	words []core.WordTiming,
	spans []core.CharSpan,
	runes []rune,
	start, pageSize int,
) int {
	nominal := min(start+pageSize-1, len(words)-1)
	if nominal == len(words)-1 {
		return nominal
	}

	minEnd := min(nominal, start+p.minWords-1)

	// Forward: first sentence end at or after the nominal boundary.
	forwardLimit := min(nominal+p.searchForward, len(words)-1)
	for i := nominal; i <= forwardLimit; i++ {
		if i >= minEnd && p.isSentenceEnd(spans, runes, i) {
			return i
		}
	}

	// Backward: nearest earlier sentence end that keeps the page above the
	// minimum size.
	backLimit := max(start+p.minWords-1, nominal-p.searchBack)
	for i := nominal - 1; i >= backLimit; i-- {
		if i >= minEnd && p.isSentenceEnd(spans, runes, i) {
			return i
		}
	}

	// Hard cut at the nominal size.
	return nominal
}

// isSentenceEnd reports whether the word at index i ends a sentence: either
// its own mapped text ends with a terminator (optionally trailed by closers),
// or the next meaningful character after its span is a terminator.
// Words with unmapped spans are never sentence ends.
func (p *Planner) isSentenceEnd(spans []core.CharSpan, runes []rune, i int) bool {
	if i >= len(spans) || spans[i].Unmapped() {
		return false
	}

	end := spans[i].End
	if end > len(runes) {
		return false
	}

	// Terminator inside the span, as when the synthesized word carried its
	// punctuation ("ended.", `ended."`).
	at := end - 1
	for at > spans[i].Start && isClosingRune(runes[at]) {
		at--
	}

	if at >= spans[i].Start && isTerminator(runes[at]) {
		return true
	}

	// Terminator after the span, as when the timed word was synthesized
	// without punctuation.
	for at := end; at < len(runes); at++ {
		switch {
		case unicode.IsSpace(runes[at]) || isClosingRune(runes[at]):
			continue
		case isTerminator(runes[at]):
			return true
		default:
			return false
		}
	}

	return false
}

func isTerminator(r rune) bool {
	for _, t := range sentenceTerminators {
		if r == t {
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
