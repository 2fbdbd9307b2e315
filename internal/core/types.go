// Package core defines the domain types and collaborator interfaces for the
// read-along service.
package core

// WordTiming is one synthesized word with its playback interval. The sequence
// for a (track, voice) pair is produced once by the TTS pipeline, persisted via
// the timing codec, and immutable thereafter.
type WordTiming struct {
	// Word is the text as synthesized; it may carry trailing punctuation.
	Word string
	// StartTime and EndTime are playback offsets in seconds.
	StartTime float64
	EndTime   float64
	// Duration is EndTime - StartTime unless explicitly supplied.
	Duration float64
	// WordIndex is the stable position in the full-track word sequence,
	// independent of paging.
	WordIndex uint64
	// SegmentIndex identifies the synthesis chunk that produced the word.
	SegmentIndex uint32
	// SegmentOffset is the word's start offset within its segment, in
	// seconds. Valid only when HasSegmentOffset is set.
	SegmentOffset    float64
	HasSegmentOffset bool
}

// UnmappedChar marks a span endpoint for a word that could not be located in
// the source text.
const UnmappedChar = -1

// CharSpan is a half-open rune-offset range into the full source text for one
// WordTiming. Both fields are UnmappedChar when the word is not locatable,
// e.g. after synthesizer normalization drift.
type CharSpan struct {
	Start int
	End   int
}

// Unmapped reports whether the span does not locate its word in the text.
func (s CharSpan) Unmapped() bool {
	return s.Start == UnmappedChar || s.End == UnmappedChar
}

// TokenKind discriminates the variants of a Token.
type TokenKind uint8

const (
	// TokenWord is a timed word from the synthesized sequence.
	TokenWord TokenKind = iota
	// TokenSpace is a collapsed run of whitespace between words.
	TokenSpace
	// TokenPunct is a run of punctuation between words, carried verbatim.
	TokenPunct
)

// Token is one unit of a rendered page: either a timed word or a
// punctuation/space gap reconstructed from the source text. Concatenating all
// token texts in order reproduces the extracted segment with internal
// whitespace runs collapsed to single spaces.
type Token struct {
	Kind TokenKind
	Text string
	// StartTime, EndTime and WordIndex are meaningful only for TokenWord.
	StartTime float64
	EndTime   float64
	WordIndex uint64
}

// PageBounds is a half-open range over the word-timing sequence.
type PageBounds struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Words returns the number of words the page covers.
func (b PageBounds) Words() int {
	return b.End - b.Start
}

// PagePlan is an ordered partition of [0, total words) into contiguous,
// non-overlapping pages. Keyed by (track, voice, page size) and recomputed
// whenever any key component changes.
type PagePlan struct {
	Pages      []PageBounds
	TotalWords int
}

// PageFor returns the page index containing the given word index, or -1 when
// the index is outside the plan.
func (p PagePlan) PageFor(wordIndex int) int {
	for i, b := range p.Pages {
		if wordIndex >= b.Start && wordIndex < b.End {
			return i
		}
	}

	return -1
}

// PageStatus is the terminal state of a page request.
type PageStatus string

const (
	// PageSuccess means the page was rendered.
	PageSuccess PageStatus = "success"
	// PageNoTimings means no word timings exist for the (track, voice) pair.
	PageNoTimings PageStatus = "no_timings"
	// PageOutOfRange means the requested page index is beyond the plan.
	PageOutOfRange PageStatus = "page_out_of_range"
)

// WordRange describes the word-index range a rendered page covers.
type WordRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Count int `json:"count"`
}

// TimeRange is the playback interval a rendered page covers, in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// PageResult is the full rendered form of one page.
type PageResult struct {
	Page              int
	PageSize          int
	TotalWords        int
	TotalPages        int
	SourceTextSegment string
	Tokens            []Token
	WordTimings       []WordTiming
	WordRange         WordRange
	TimeRange         TimeRange
	HasNext           bool
	HasPrev           bool
	Status            PageStatus
}
