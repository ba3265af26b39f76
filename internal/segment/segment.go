// Package segment implements the length-prefixed framing used to persist
// a stream's closed byte range to cold storage (spec component B).
//
// A segment's payload is a concatenation of records: a 4-byte
// big-endian unsigned length prefix followed by that many payload
// bytes. Zero-length records are permitted and retained.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// LengthPrefixSize is the size, in bytes, of each record's length prefix.
const LengthPrefixSize = 4

// MaxRecordSize is the maximum payload size of a single record.
// Exceeding it fails the segment (spec §4.B, §6).
const MaxRecordSize = 64 * 1024 * 1024

// ErrRecordTooLarge is returned by Encode/Append when a record exceeds
// MaxRecordSize.
var ErrRecordTooLarge = errors.New("segment: record exceeds 64MiB maximum")

// Encode concatenates records into a single length-prefixed cold segment
// blob.
func Encode(records [][]byte) ([]byte, error) {
	total := 0
	for _, r := range records {
		if len(r) > MaxRecordSize {
			return nil, ErrRecordTooLarge
		}
		total += LengthPrefixSize + len(r)
	}
	buf := make([]byte, 0, total)
	var lenBuf [LengthPrefixSize]byte
	for _, r := range records {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(r)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, r...)
	}
	return buf, nil
}

// Decode parses a segment blob into its constituent records. If the blob
// ends mid-record (a length prefix that exceeds the remaining bytes, or
// a partial payload), Decode returns the fully-decoded prefix along with
// truncated=true rather than failing outright — cold reads can still
// serve whatever was durably written.
func Decode(blob []byte) (records [][]byte, truncated bool, err error) {
	pos := 0
	for pos < len(blob) {
		if pos+LengthPrefixSize > len(blob) {
			return records, true, nil
		}
		length := binary.BigEndian.Uint32(blob[pos : pos+LengthPrefixSize])
		if length > MaxRecordSize {
			return records, false, fmt.Errorf("segment: corrupt length prefix %d at offset %d", length, pos)
		}
		pos += LengthPrefixSize
		if pos+int(length) > len(blob) {
			return records, true, nil
		}
		rec := make([]byte, length)
		copy(rec, blob[pos:pos+int(length)])
		records = append(records, rec)
		pos += int(length)
	}
	return records, false, nil
}

// Select returns the window of already-decoded messages visible to a
// reader at offset, bounded by maxChunkBytes, along with the starting
// offset of the first returned message (outputStart).
//
// Skipping is content-strategy-bound per spec §4.B: for JSON streams,
// offset counts messages, so the skip index is (offset - segmentStart);
// for non-JSON streams, offset counts bytes, so skipping walks message
// byte ranges until one extends past offset. The collector always
// returns at least the first qualifying message even if maxChunkBytes
// is already exhausted, and returns zero messages only when there is
// nothing left to return.
func Select(messages [][]byte, offset, segmentStart uint64, maxChunkBytes int, isJSON bool) (out [][]byte, outputStart uint64) {
	if isJSON {
		idx := int(offset - segmentStart)
		if idx < 0 || idx >= len(messages) {
			return nil, offset
		}
		outputStart = offset
		budget := maxChunkBytes
		for i := idx; i < len(messages); i++ {
			if len(out) > 0 && budget <= 0 {
				break
			}
			out = append(out, messages[i])
			budget -= len(messages[i])
		}
		return out, outputStart
	}

	// Non-JSON: offset is a byte cursor. Walk messages accumulating byte
	// ranges until we find the one whose range extends past offset.
	var cursor uint64 = segmentStart
	startIdx := -1
	for i, m := range messages {
		end := cursor + uint64(len(m))
		if end > offset {
			startIdx = i
			outputStart = cursor
			break
		}
		cursor = end
	}
	if startIdx == -1 {
		return nil, offset
	}
	budget := maxChunkBytes
	for i := startIdx; i < len(messages); i++ {
		if len(out) > 0 && budget <= 0 {
			break
		}
		out = append(out, messages[i])
		budget -= len(messages[i])
	}
	return out, outputStart
}
