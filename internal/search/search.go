// Package search implements word and phrase lookup over a timed word
// sequence, attributing each match to its page in the current page plan.
package search

import (
	"sort"
	"strings"
	"unicode"

	"github.com/book-expert/readalong-service/internal/core"
)

// Match scores, highest relevance first.
const (
	scorePhraseExact = 5
	scorePhraseFuzzy = 4
	scoreWordExact   = 3
	scoreWordPrefix  = 2
	scoreWordSubstr  = 1
)

// contextRadius is how many words of surrounding context a match carries.
const contextRadius = 3

// Match is one search hit. Results are ordered by descending relevance, ties
// broken by earliest position; the relevance score itself is internal.
type Match struct {
	WordIndex int     `json:"word_index"`
	Page      int     `json:"page"`
	Text      string  `json:"text"`
	Context   string  `json:"context"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`

	score int
}

// Engine runs queries against word sequences.
type Engine struct{}

// New creates a search Engine.
func New() *Engine {
	return &Engine{}
}

// Search matches the query against the sequence. A query containing a space
// is treated as a phrase and matched against every window of equal word
// count; otherwise every word is tested for a case-insensitive substring hit.
func (e *Engine) Search(
	words []core.WordTiming,
	plan core.PagePlan,
	query string,
) []Match {
	query = strings.TrimSpace(query)
	if query == "" || len(words) == 0 {
		return nil
	}

	pageOf := pageLookup(plan)

	var matches []Match
	if strings.Contains(query, " ") {
		matches = e.searchPhrase(words, pageOf, query)
	} else {
		matches = e.searchWord(words, pageOf, query)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}

		return matches[i].WordIndex < matches[j].WordIndex
	})

	return matches
}

func (e *Engine) searchPhrase(
	words []core.WordTiming,
	pageOf func(int) int,
	query string,
) []Match {
	loweredQuery := strings.ToLower(query)
	queryWords := strings.Fields(loweredQuery)
	window := len(queryWords)

	var matches []Match

	for i := 0; i+window <= len(words); i++ {
		text := joinWords(words, i, i+window)
		lowered := strings.ToLower(text)

		score := 0

		switch {
		case lowered == loweredQuery:
			score = scorePhraseExact
		case strings.Contains(foldPunct(lowered), foldPunct(loweredQuery)):
			score = scorePhraseFuzzy
		default:
			continue
		}

		matches = append(matches, Match{
			WordIndex: i,
			Page:      pageOf(i),
			Text:      text,
			Context:   contextAround(words, i, i+window-1),
			StartTime: words[i].StartTime,
			EndTime:   words[i+window-1].EndTime,
			score:     score,
		})
	}

	return matches
}

func (e *Engine) searchWord(
	words []core.WordTiming,
	pageOf func(int) int,
	query string,
) []Match {
	loweredQuery := strings.ToLower(query)

	var matches []Match

	for i := range words {
		lowered := strings.ToLower(words[i].Word)
		if !strings.Contains(lowered, loweredQuery) {
			continue
		}

		score := scoreWordSubstr

		switch {
		case lowered == loweredQuery:
			score = scoreWordExact
		case strings.HasPrefix(lowered, loweredQuery):
			score = scoreWordPrefix
		}

		matches = append(matches, Match{
			WordIndex: i,
			Page:      pageOf(i),
			Text:      words[i].Word,
			Context:   contextAround(words, i, i),
			StartTime: words[i].StartTime,
			EndTime:   words[i].EndTime,
			score:     score,
		})
	}

	return matches
}

// pageLookup precomputes word index to page index attribution from the plan.
func pageLookup(plan core.PagePlan) func(int) int {
	pages := make([]int, plan.TotalWords)
	for pageIndex, bounds := range plan.Pages {
		for i := bounds.Start; i < bounds.End && i < len(pages); i++ {
			pages[i] = pageIndex
		}
	}

	return func(wordIndex int) int {
		if wordIndex < 0 || wordIndex >= len(pages) {
			return -1
		}

		return pages[wordIndex]
	}
}

func joinWords(words []core.WordTiming, from, to int) string {
	parts := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		parts = append(parts, words[i].Word)
	}

	return strings.Join(parts, " ")
}

// contextAround returns the matched words plus up to contextRadius words on
// each side.
func contextAround(words []core.WordTiming, first, last int) string {
	from := max(0, first-contextRadius)
	to := min(len(words), last+1+contextRadius)

	return joinWords(words, from, to)
}

// foldPunct replaces every run of non-word, non-space characters with a
// single space and collapses the whitespace, so "hello, world" and
// "hello world" compare equal.
func foldPunct(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	inPunct := false

	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)

			inPunct = false

			continue
		}

		if !inPunct {
			b.WriteByte(' ')

			inPunct = true
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
