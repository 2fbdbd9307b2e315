// Package pageplan_test tests the sentence-aware page planner.
package pageplan_test

import (
	"strings"
	"testing"

	"github.com/book-expert/readalong-service/internal/core"
	"github.com/book-expert/readalong-service/internal/pageplan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSequence produces n timed words laid out as "w0 w1 w2 ..." with exact
// spans, appending a period to the words named in sentenceEnds.
func buildSequence(n int, sentenceEnds map[int]bool) ([]core.WordTiming, []core.CharSpan, string) {
	words := make([]core.WordTiming, n)
	spans := make([]core.CharSpan, n)

	var text strings.Builder

	offset := 0

	for i := range n {
		token := "word" + strings.Repeat("x", i%3)
		if sentenceEnds[i] {
			token += "."
		}

		if i > 0 {
			text.WriteByte(' ')
			offset++
		}

		text.WriteString(token)
		words[i] = core.WordTiming{
			Word:      token,
			StartTime: float64(i),
			EndTime:   float64(i) + 0.5,
			WordIndex: uint64(i),
		}
		spans[i] = core.CharSpan{Start: offset, End: offset + len(token)}
		offset += len(token)
	}

	return words, spans, text.String()
}

func assertCoverage(t *testing.T, plan core.PagePlan, n int) {
	t.Helper()

	require.NotEmpty(t, plan.Pages)
	assert.Equal(t, 0, plan.Pages[0].Start)
	assert.Equal(t, n, plan.Pages[len(plan.Pages)-1].End)

	for i := 1; i < len(plan.Pages); i++ {
		assert.Equal(t, plan.Pages[i-1].End, plan.Pages[i].Start,
			"pages must be contiguous")
	}
}

// TestPlan_HardCuts covers the no-punctuation scenario: 1200 words with no
// sentence ends and page size 500 must split at exactly the nominal bounds.
func TestPlan_HardCuts(t *testing.T) {
	t.Parallel()

	words, spans, text := buildSequence(1200, nil)
	plan := pageplan.New().Plan(words, spans, text, 500)

	require.Len(t, plan.Pages, 3)
	assert.Equal(t, core.PageBounds{Start: 0, End: 500}, plan.Pages[0])
	assert.Equal(t, core.PageBounds{Start: 500, End: 1000}, plan.Pages[1])
	assert.Equal(t, core.PageBounds{Start: 1000, End: 1200}, plan.Pages[2])
}

// TestPlan_SentenceSnapForward: a sentence ending at index 505 with page size
// 500 pulls the first page boundary forward to include it.
func TestPlan_SentenceSnapForward(t *testing.T) {
	t.Parallel()

	words, spans, text := buildSequence(520, map[int]bool{505: true})
	plan := pageplan.New().Plan(words, spans, text, 500)

	require.GreaterOrEqual(t, len(plan.Pages), 2)
	assert.Equal(t, core.PageBounds{Start: 0, End: 506}, plan.Pages[0])
	assert.Equal(t, 506, plan.Pages[1].Start)
	assertCoverage(t, plan, 520)
}

// TestPlan_SentenceSnapBackward: with no sentence end in the forward window,
// the planner settles for an earlier one within the backward window.
func TestPlan_SentenceSnapBackward(t *testing.T) {
	t.Parallel()

	words, spans, text := buildSequence(1000, map[int]bool{470: true})
	plan := pageplan.New().Plan(words, spans, text, 500)

	assert.Equal(t, core.PageBounds{Start: 0, End: 471}, plan.Pages[0])
	assertCoverage(t, plan, 1000)
}

// TestPlan_MinimumPageSize: a sentence end right at the start of a page must
// not produce a degenerate tiny page.
func TestPlan_MinimumPageSize(t *testing.T) {
	t.Parallel()

	ends := map[int]bool{2: true, 52: true, 102: true}
	words, spans, text := buildSequence(120, ends)
	plan := pageplan.New().Plan(words, spans, text, 50)

	assertCoverage(t, plan, 120)

	for i, page := range plan.Pages {
		if i < len(plan.Pages)-1 {
			assert.GreaterOrEqual(t, page.Words(), pageplan.DefaultSentenceMinWords,
				"page %d too small", i)
		}
	}
}

// TestPlan_CoverageProperty: regardless of word count and page size, pages
// partition [0, n) exactly.
func TestPlan_CoverageProperty(t *testing.T) {
	t.Parallel()

	planner := pageplan.New()

	for _, n := range []int{1, 9, 10, 11, 49, 250, 503} {
		for _, size := range []int{1, 10, 50, 500} {
			ends := map[int]bool{n / 2: true, n - 1: true}
			words, spans, text := buildSequence(n, ends)
			plan := planner.Plan(words, spans, text, size)

			assertCoverage(t, plan, n)
			assert.Equal(t, n, plan.TotalWords)

			for _, page := range plan.Pages {
				assert.LessOrEqual(t, page.Words(), size+pageplan.DefaultSearchForward)
			}
		}
	}
}

func TestPlan_EmptyInput(t *testing.T) {
	t.Parallel()

	plan := pageplan.New().Plan(nil, nil, "", 100)
	assert.Empty(t, plan.Pages)
	assert.Zero(t, plan.TotalWords)
}

func TestPlan_UnmappedWordsNeverSentenceEnds(t *testing.T) {
	t.Parallel()

	words, spans, text := buildSequence(60, map[int]bool{25: true})
	spans[25] = core.CharSpan{Start: core.UnmappedChar, End: core.UnmappedChar}

	plan := pageplan.New().Plan(words, spans, text, 20)
	assertCoverage(t, plan, 60)

	// The only candidate sentence end is unmapped, so the first page falls
	// back to a hard cut at the nominal size.
	assert.Equal(t, core.PageBounds{Start: 0, End: 20}, plan.Pages[0])
}
