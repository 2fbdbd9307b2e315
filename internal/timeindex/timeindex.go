// Package timeindex maps playback timestamps onto word indices.
package timeindex

import (
	"sort"

	"github.com/book-expert/readalong-service/internal/core"
)

// DefaultTolerance pads word intervals when matching a timestamp, in seconds.
const DefaultTolerance = 0.25

// Reason explains which rule produced a resolved index.
type Reason string

const (
	// ReasonNoWords means the sequence was empty; the index is -1.
	ReasonNoWords Reason = "no_words"
	// ReasonBeforeStart means the timestamp precedes the first word.
	ReasonBeforeStart Reason = "before_start"
	// ReasonAfterEnd means the timestamp follows the last word.
	ReasonAfterEnd Reason = "after_end"
	// ReasonInside means the timestamp falls inside the word's padded
	// interval.
	ReasonInside Reason = "inside_or_padding"
	// ReasonBetweenPrev means the timestamp sits in a gap, close to the
	// preceding word.
	ReasonBetweenPrev Reason = "between_prev_close"
	// ReasonBetweenNext means the timestamp sits in a gap; the following
	// word is reported.
	ReasonBetweenNext Reason = "between_next"
)

// Resolve binary-searches the time-sorted sequence for the word index nearest
// to t. Tolerance widens the edges; non-positive values fall back to the
// default.
func Resolve(words []core.WordTiming, t, tolerance float64) (int, Reason) {
	if len(words) == 0 {
		return -1, ReasonNoWords
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	if t <= words[0].StartTime-tolerance {
		return 0, ReasonBeforeStart
	}

	last := len(words) - 1
	if t >= words[last].EndTime+tolerance {
		return last, ReasonAfterEnd
	}

	// Last word whose start does not exceed t.
	i := sort.Search(len(words), func(j int) bool {
		return words[j].StartTime > t
	}) - 1
	if i < 0 {
		i = 0
	}

	switch {
	case words[i].StartTime <= t && t < words[i].EndTime+tolerance:
		return i, ReasonInside
	case t-words[i].EndTime <= tolerance:
		return i, ReasonBetweenPrev
	default:
		return min(i+1, last), ReasonBetweenNext
	}
}
