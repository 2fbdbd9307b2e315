// Package codec implements the versioned binary serialization of word-timing
// sequences. The format is the only bit-exact external artifact of the
// read-along engine; the header and record layouts must not change without
// bumping the format version.
//
// Layout (all integers little-endian):
//
//	header: format_version u8, word_count u32, first_start_time f64,
//	        last_end_time f64, reserved u32
//	record: word_byte_length u8, word_bytes (UTF-8, <=255),
//	        start_time_ms u64, duration_ms u64, segment_index u32, flags u8,
//	        [segment_offset_ms u32 when flags&0x1]
package codec

import (
	"bytes"
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/readalong-service/internal/core"
)

// FormatVersion is the only record layout this codec reads and writes.
const FormatVersion = 1

const (
	headerSize = 25
	// fixedRecordSize is the per-record size excluding the word bytes and
	// the optional segment offset.
	fixedRecordSize = 1 + 8 + 8 + 4 + 1

	maxWordBytes = 255

	flagSegmentOffset = 0x1

	msPerSecond = 1000.0
)

// truncationMarker is appended to word texts cut to fit the length prefix.
const truncationMarker = "..."

// Codec packs and unpacks word-timing sequences. Decoding is best-effort: a
// truncated or malformed buffer yields the longest valid prefix of records
// rather than an error.
type Codec struct {
	log *logger.Logger
}

// New creates a Codec. The logger records decode recovery events.
func New(log *logger.Logger) *Codec {
	return &Codec{log: log}
}

// Pack serializes the sequence. Packing an empty sequence is permitted and
// produces a header-only buffer with a zero word count.
func (c *Codec) Pack(words []core.WordTiming) []byte {
	var buf bytes.Buffer

	buf.Grow(headerSize + len(words)*(fixedRecordSize+16))

	firstStart, lastEnd := 0.0, 0.0
	if len(words) > 0 {
		firstStart = words[0].StartTime
		lastEnd = words[len(words)-1].EndTime
	}

	buf.WriteByte(FormatVersion)
	writeUint32(&buf, uint32(len(words)))
	writeFloat64(&buf, firstStart)
	writeFloat64(&buf, lastEnd)
	writeUint32(&buf, 0) // reserved

	for i := range words {
		c.packRecord(&buf, &words[i])
	}

	return buf.Bytes()
}

func (c *Codec) packRecord(buf *bytes.Buffer, word *core.WordTiming) {
	text := truncateWord(word.Word)

	duration := word.Duration
	if duration == 0 && word.EndTime > word.StartTime {
		duration = word.EndTime - word.StartTime
	}

	var flags byte
	if word.HasSegmentOffset {
		flags |= flagSegmentOffset
	}

	buf.WriteByte(byte(len(text)))
	buf.WriteString(text)
	writeUint64(buf, toMillis(word.StartTime))
	writeUint64(buf, toMillis(duration))
	writeUint32(buf, word.SegmentIndex)
	buf.WriteByte(flags)

	if word.HasSegmentOffset {
		writeUint32(buf, uint32(toMillis(word.SegmentOffset)))
	}
}

// Unpack deserializes as many complete records as the buffer holds. A buffer
// shorter than the header, or one carrying an unsupported format version,
// yields an empty sequence. A buffer cut mid-record yields the records before
// the cut.
func (c *Codec) Unpack(data []byte) []core.WordTiming {
	if len(data) < headerSize {
		return nil
	}

	if data[0] != FormatVersion {
		c.log.Warn("Rejecting timing data with unsupported format version %d", data[0])

		return nil
	}

	count := binary.LittleEndian.Uint32(data[1:5])
	words := make([]core.WordTiming, 0, count)

	offset := headerSize
	for uint32(len(words)) < count {
		word, next, ok := c.unpackRecord(data, offset)
		if !ok {
			c.log.Warn(
				"Timing data truncated at byte %d: recovered %d of %d records",
				offset, len(words), count,
			)

			break
		}

		word.WordIndex = uint64(len(words))
		words = append(words, word)
		offset = next
	}

	return words
}

func (c *Codec) unpackRecord(data []byte, offset int) (core.WordTiming, int, bool) {
	var word core.WordTiming

	if offset+1 > len(data) {
		return word, 0, false
	}

	wordLen := int(data[offset])
	offset++

	if offset+wordLen+fixedRecordSize-1 > len(data) {
		return word, 0, false
	}

	word.Word = string(data[offset : offset+wordLen])
	offset += wordLen

	word.StartTime = fromMillis(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	word.Duration = fromMillis(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	word.SegmentIndex = binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	flags := data[offset]
	offset++

	if flags&flagSegmentOffset != 0 {
		if offset+4 > len(data) {
			return word, 0, false
		}

		word.SegmentOffset = fromMillis(uint64(binary.LittleEndian.Uint32(data[offset:])))
		word.HasSegmentOffset = true
		offset += 4
	}

	word.EndTime = word.StartTime + word.Duration

	return word, offset, true
}

// truncateWord cuts the text to the 255-byte length-prefix limit at a rune
// boundary and appends the truncation marker.
func truncateWord(text string) string {
	if len(text) <= maxWordBytes {
		return text
	}

	cut := maxWordBytes - len(truncationMarker)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}

	return text[:cut] + truncationMarker
}

func toMillis(seconds float64) uint64 {
	if seconds <= 0 {
		return 0
	}

	return uint64(math.Round(seconds * msPerSecond))
}

func fromMillis(millis uint64) float64 {
	return float64(millis) / msPerSecond
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var scratch [4]byte

	binary.LittleEndian.PutUint32(scratch[:], v)
	buf.Write(scratch[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var scratch [8]byte

	binary.LittleEndian.PutUint64(scratch[:], v)
	buf.Write(scratch[:])
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	writeUint64(buf, math.Float64bits(v))
}
