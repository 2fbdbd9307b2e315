package worker

import (
	"github.com/book-expert/events"
	"github.com/book-expert/readalong-service/internal/core"
	"github.com/book-expert/readalong-service/internal/readalong"
	"github.com/book-expert/readalong-service/internal/search"
)

// Request payloads for the read-along subjects.

// PageRequest asks for one rendered page.
type PageRequest struct {
	TrackID  string `json:"track_id"`
	VoiceID  string `json:"voice_id"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// WordAtTimeRequest asks which word plays at a timestamp.
type WordAtTimeRequest struct {
	TrackID   string  `json:"track_id"`
	VoiceID   string  `json:"voice_id"`
	Time      float64 `json:"time"`
	Tolerance float64 `json:"tolerance"`
}

// TimeForWordRequest asks for the start time of a word index.
type TimeForWordRequest struct {
	TrackID   string `json:"track_id"`
	VoiceID   string `json:"voice_id"`
	WordIndex int    `json:"word_index"`
}

// PageInfoRequest locates a page either by word index or by time.
type PageInfoRequest struct {
	TrackID   string   `json:"track_id"`
	VoiceID   string   `json:"voice_id"`
	WordIndex *int     `json:"word_index,omitempty"`
	Time      *float64 `json:"time,omitempty"`
	PageSize  int      `json:"page_size"`
}

// SearchRequest runs a word or phrase query.
type SearchRequest struct {
	TrackID  string `json:"track_id"`
	VoiceID  string `json:"voice_id"`
	Query    string `json:"query"`
	PageSize int    `json:"page_size"`
}

// ErrorReply is sent when a request cannot be served.
type ErrorReply struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// TokenPayload is the wire form of a page token. Gap tokens carry null times.
type TokenPayload struct {
	Type      string   `json:"type"`
	Text      string   `json:"text"`
	StartTime *float64 `json:"start_time"`
	EndTime   *float64 `json:"end_time"`
	WordIndex *uint64  `json:"word_index"`
}

// WordTimingPayload is the wire form of one timed word.
type WordTimingPayload struct {
	Word          string   `json:"word"`
	StartTime     float64  `json:"start_time"`
	EndTime       float64  `json:"end_time"`
	Duration      float64  `json:"duration"`
	WordIndex     uint64   `json:"word_index"`
	SegmentIndex  uint32   `json:"segment_index"`
	SegmentOffset *float64 `json:"segment_offset,omitempty"`
}

// PageReply is the wire form of a rendered page.
type PageReply struct {
	Status            string              `json:"status"`
	Page              int                 `json:"page"`
	PageSize          int                 `json:"page_size"`
	TotalWords        int                 `json:"total_words"`
	TotalPages        int                 `json:"total_pages"`
	SourceTextSegment string              `json:"source_text_segment"`
	Tokens            []TokenPayload      `json:"tokens"`
	WordTimings       []WordTimingPayload `json:"word_timings"`
	WordRange         core.WordRange      `json:"word_range"`
	TimeRange         core.TimeRange      `json:"time_range"`
	HasNext           bool                `json:"has_next"`
	HasPrev           bool                `json:"has_prev"`
}

// SearchReply carries the ordered match list.
type SearchReply struct {
	Status  string         `json:"status"`
	Matches []search.Match `json:"matches"`
}

// TimingsCreatedEvent is consumed on the ingest subject: one synthesis
// segment's word timings, ready to be packed and stored.
type TimingsCreatedEvent struct {
	Header       events.EventHeader  `json:"header"`
	TrackID      string              `json:"track_id"`
	VoiceID      string              `json:"voice_id"`
	SegmentIndex uint32              `json:"segment_index"`
	Words        []WordTimingPayload `json:"words"`
}

// TimingsStoredEvent acknowledges a stored shard.
type TimingsStoredEvent struct {
	Header    events.EventHeader `json:"header"`
	TrackID   string             `json:"track_id"`
	VoiceID   string             `json:"voice_id"`
	ShardKey  string             `json:"shard_key"`
	WordCount int                `json:"word_count"`
}

func toPageReply(result core.PageResult) PageReply {
	return PageReply{
		Status:            string(result.Status),
		Page:              result.Page,
		PageSize:          result.PageSize,
		TotalWords:        result.TotalWords,
		TotalPages:        result.TotalPages,
		SourceTextSegment: result.SourceTextSegment,
		Tokens:            toTokenPayloads(result.Tokens),
		WordTimings:       toTimingPayloads(result.WordTimings),
		WordRange:         result.WordRange,
		TimeRange:         result.TimeRange,
		HasNext:           result.HasNext,
		HasPrev:           result.HasPrev,
	}
}

func toTokenPayloads(tokens []core.Token) []TokenPayload {
	payloads := make([]TokenPayload, len(tokens))

	for i, token := range tokens {
		payload := TokenPayload{
			Type: tokenTypeName(token.Kind),
			Text: token.Text,
		}

		if token.Kind == core.TokenWord {
			start, end, index := token.StartTime, token.EndTime, token.WordIndex
			payload.StartTime = &start
			payload.EndTime = &end
			payload.WordIndex = &index
		}

		payloads[i] = payload
	}

	return payloads
}

func tokenTypeName(kind core.TokenKind) string {
	switch kind {
	case core.TokenWord:
		return "word"
	case core.TokenSpace:
		return "space"
	case core.TokenPunct:
		return "punct"
	default:
		return "punct"
	}
}

func toTimingPayloads(words []core.WordTiming) []WordTimingPayload {
	payloads := make([]WordTimingPayload, len(words))

	for i := range words {
		word := &words[i]
		payloads[i] = WordTimingPayload{
			Word:         word.Word,
			StartTime:    word.StartTime,
			EndTime:      word.EndTime,
			Duration:     word.Duration,
			WordIndex:    word.WordIndex,
			SegmentIndex: word.SegmentIndex,
		}

		if word.HasSegmentOffset {
			offset := word.SegmentOffset
			payloads[i].SegmentOffset = &offset
		}
	}

	return payloads
}

func fromTimingPayloads(payloads []WordTimingPayload, segmentIndex uint32) []core.WordTiming {
	words := make([]core.WordTiming, len(payloads))

	for i, payload := range payloads {
		duration := payload.Duration
		if duration == 0 && payload.EndTime > payload.StartTime {
			duration = payload.EndTime - payload.StartTime
		}

		words[i] = core.WordTiming{
			Word:         payload.Word,
			StartTime:    payload.StartTime,
			EndTime:      payload.EndTime,
			Duration:     duration,
			WordIndex:    payload.WordIndex,
			SegmentIndex: segmentIndex,
		}

		if payload.SegmentOffset != nil {
			words[i].SegmentOffset = *payload.SegmentOffset
			words[i].HasSegmentOffset = true
		}
	}

	return words
}

func toLocator(req *PageInfoRequest) readalong.Locator {
	if req.Time != nil {
		return readalong.Locator{Time: *req.Time, ByTime: true}
	}

	if req.WordIndex != nil {
		return readalong.Locator{WordIndex: *req.WordIndex}
	}

	return readalong.Locator{}
}
