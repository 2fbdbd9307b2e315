package segment

import (
	"unicode"

	"github.com/book-expert/readalong-service/internal/core"
)

// gapWordDensity is the alphanumeric-density threshold above which a
// non-whitespace gap is treated as an unmapped word fragment rather than
// punctuation.
const gapWordDensity = 1.0 / 3.0

// Tokenize walks the page's words in order and rebuilds the token stream for
// the extracted segment: word tokens carry the original timed text, gap
// tokens cover the punctuation and whitespace between mapped spans.
//
// Spans are clamped to the segment extent and to a forward-only cursor so
// that out-of-order fallback matches cannot produce overlapping tokens.
// Words without a usable span are re-inserted verbatim from the timing data.
func Tokenize(
	words []core.WordTiming,
	spans []core.CharSpan,
	bounds core.PageBounds,
	text []rune,
	extent Extent,
) []core.Token {
	tokens := make([]core.Token, 0, bounds.Words()*2)
	cursor := extent.Start

	for i := bounds.Start; i < bounds.End && i < len(words); i++ {
		start, end, ok := clampSpan(spans, i, cursor, extent)
		if !ok {
			tokens = appendUnmappedWord(tokens, &words[i])

			continue
		}

		tokens = appendGap(tokens, text[cursor:start])
		tokens = append(tokens, core.Token{
			Kind:      core.TokenWord,
			Text:      words[i].Word,
			StartTime: words[i].StartTime,
			EndTime:   words[i].EndTime,
			WordIndex: words[i].WordIndex,
		})
		cursor = end
	}

	if cursor < extent.End {
		tokens = appendGap(tokens, text[cursor:extent.End])
	}

	return tokens
}

// clampSpan intersects the word's span with the segment extent and the
// forward-only cursor. A span that vanishes under clamping counts as
// unmapped.
func clampSpan(spans []core.CharSpan, i, cursor int, extent Extent) (int, int, bool) {
	if i >= len(spans) || spans[i].Unmapped() {
		return 0, 0, false
	}

	start := max(spans[i].Start, cursor)
	end := min(spans[i].End, extent.End)

	if start >= end {
		return 0, 0, false
	}

	return start, end, true
}

// appendUnmappedWord inserts a word that has no place in the segment text,
// separated from a preceding word token by a single space.
func appendUnmappedWord(tokens []core.Token, word *core.WordTiming) []core.Token {
	if len(tokens) > 0 && tokens[len(tokens)-1].Kind == core.TokenWord {
		tokens = append(tokens, spaceToken())
	}

	return append(tokens, core.Token{
		Kind:      core.TokenWord,
		Text:      word.Word,
		StartTime: word.StartTime,
		EndTime:   word.EndTime,
		WordIndex: word.WordIndex,
	})
}

// appendGap classifies the text between two mapped spans. A whitespace run
// collapses to one space token. Dense alphanumeric content is most likely a
// word the mapper missed, so it also collapses to a single space rather than
// being emitted as punctuation. Everything else splits into alternating
// whitespace and punctuation runs.
func appendGap(tokens []core.Token, gap []rune) []core.Token {
	if len(gap) == 0 {
		return tokens
	}

	if isAllSpace(gap) {
		return append(tokens, spaceToken())
	}

	if alnumDensity(gap) > gapWordDensity {
		return append(tokens, spaceToken())
	}

	for at := 0; at < len(gap); {
		runEnd := at + 1
		spaceRun := unicode.IsSpace(gap[at])

		for runEnd < len(gap) && unicode.IsSpace(gap[runEnd]) == spaceRun {
			runEnd++
		}

		if spaceRun {
			tokens = append(tokens, spaceToken())
		} else {
			tokens = append(tokens, core.Token{
				Kind: core.TokenPunct,
				Text: string(gap[at:runEnd]),
			})
		}

		at = runEnd
	}

	return tokens
}

func spaceToken() core.Token {
	return core.Token{Kind: core.TokenSpace, Text: " "}
}

func isAllSpace(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			return false
		}
	}

	return true
}

func alnumDensity(runes []rune) float64 {
	count := 0

	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			count++
		}
	}

	return float64(count) / float64(len(runes))
}
