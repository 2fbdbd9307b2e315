// Package segment_test tests segment extraction and tokenization.
package segment_test

import (
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/readalong-service/internal/core"
	"github.com/book-expert/readalong-service/internal/segment"
	"github.com/book-expert/readalong-service/internal/spanmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapText builds timings for the given word texts and aligns them against
// text with the real span mapper.
func mapText(t *testing.T, text string, wordTexts ...string) ([]core.WordTiming, []core.CharSpan) {
	t.Helper()

	words := make([]core.WordTiming, len(wordTexts))
	for i, w := range wordTexts {
		words[i] = core.WordTiming{
			Word:      w,
			StartTime: float64(i),
			EndTime:   float64(i) + 0.5,
			WordIndex: uint64(i),
		}
	}

	testLogger, err := logger.New(t.TempDir(), "segment-test.log")
	require.NoError(t, err)

	return words, spanmap.New(testLogger).MapSpans(words, text)
}

func concatTokens(tokens []core.Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(tok.Text)
	}

	return b.String()
}

func TestExtract_FullSentence(t *testing.T) {
	t.Parallel()

	text := "First sentence here. Second one follows now. Third closes it."
	_, spans := mapText(t, text, "Second", "one", "follows", "now.")

	seg, extent := segment.Extract(spans, core.PageBounds{Start: 0, End: 4}, []rune(text))

	assert.Equal(t, "Second one follows now.", seg)
	assert.Equal(t, len("First sentence here. "), extent.Start)
}

func TestExtract_NoMappedWords(t *testing.T) {
	t.Parallel()

	spans := []core.CharSpan{
		{Start: core.UnmappedChar, End: core.UnmappedChar},
		{Start: core.UnmappedChar, End: core.UnmappedChar},
	}

	seg, extent := segment.Extract(spans, core.PageBounds{Start: 0, End: 2}, []rune("some text"))
	assert.Empty(t, seg)
	assert.Zero(t, extent.End)
}

func TestExtract_ExtendsThroughSoftSeparator(t *testing.T) {
	t.Parallel()

	text := "He paused, then spoke. The end."
	_, spans := mapText(t, text, "He", "paused")

	seg, _ := segment.Extract(spans, core.PageBounds{Start: 0, End: 2}, []rune(text))
	assert.Equal(t, "He paused,", seg)
}

func TestTokenize_Reconstruction(t *testing.T) {
	t.Parallel()

	text := "Start here. “Well,” she said — twice! Done now."
	wordTexts := []string{`"Well,"`, "she", "said", "-", "twice!"}
	words, spans := mapText(t, text, wordTexts...)

	runes := []rune(text)
	bounds := core.PageBounds{Start: 0, End: len(words)}

	seg, extent := segment.Extract(spans, bounds, runes)
	tokens := segment.Tokenize(words, spans, bounds, runes, extent)

	// Token concatenation reproduces the segment with whitespace runs
	// collapsed, and timed words carrying their original synthesized text.
	rebuilt := concatTokens(tokens)
	normalizedSeg := strings.Join(strings.Fields(seg), " ")
	normalizedRebuilt := strings.Join(strings.Fields(rebuilt), " ")

	for _, w := range wordTexts {
		assert.Contains(t, normalizedRebuilt, w)
	}

	assert.Equal(t, len(strings.Fields(normalizedSeg)), len(strings.Fields(normalizedRebuilt)))
}

func TestTokenize_WordAndGapKinds(t *testing.T) {
	t.Parallel()

	text := "alpha, beta... gamma"
	words, spans := mapText(t, text, "alpha", "beta", "gamma")

	runes := []rune(text)
	bounds := core.PageBounds{Start: 0, End: 3}
	seg, extent := segment.Extract(spans, bounds, runes)
	tokens := segment.Tokenize(words, spans, bounds, runes, extent)

	require.NotEmpty(t, tokens)

	var wordCount, punctCount int

	for _, tok := range tokens {
		switch tok.Kind {
		case core.TokenWord:
			wordCount++
			assert.NotZero(t, tok.EndTime)
		case core.TokenPunct:
			punctCount++
			assert.NotEmpty(t, strings.Trim(tok.Text, " "))
		case core.TokenSpace:
			assert.Equal(t, " ", tok.Text)
		}
	}

	assert.Equal(t, 3, wordCount)
	assert.GreaterOrEqual(t, punctCount, 2, "comma and ellipsis runs expected")
	assert.Equal(t, "alpha, beta... gamma", seg)
	assert.Equal(t, seg, concatTokens(tokens))
}

// TestTokenize_UnmappedWordReinserted: a word missing from the text comes
// back as a word token with a separating space.
func TestTokenize_UnmappedWordReinserted(t *testing.T) {
	t.Parallel()

	text := "alpha gamma"
	words, spans := mapText(t, text, "alpha", "zeta", "gamma")

	runes := []rune(text)
	bounds := core.PageBounds{Start: 0, End: 3}
	_, extent := segment.Extract(spans, bounds, runes)
	tokens := segment.Tokenize(words, spans, bounds, runes, extent)

	texts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		texts = append(texts, tok.Text)
	}

	assert.Equal(t, []string{"alpha", " ", "zeta", " ", "gamma"}, texts)
	assert.Equal(t, core.TokenWord, tokens[2].Kind)
	assert.EqualValues(t, 1, tokens[2].WordIndex)
}

func TestTokenize_WhitespaceRunsCollapse(t *testing.T) {
	t.Parallel()

	text := "one   two\n\nthree"
	words, spans := mapText(t, text, "one", "two", "three")

	runes := []rune(text)
	bounds := core.PageBounds{Start: 0, End: 3}
	_, extent := segment.Extract(spans, bounds, runes)
	tokens := segment.Tokenize(words, spans, bounds, runes, extent)

	assert.Equal(t, "one two three", concatTokens(tokens))
}
