// Package position converts between a scroll percentage through chapter text
// and an audio chunk plus intra-chunk timestamp, using the global character
// offset as the pivot coordinate. All functions are pure; timestamps are
// estimated by linear interpolation over a chunk's character span, not
// measured word alignment.
package position

import (
	"math"

	"github.com/readaloudapp/readaloud-server/internal/domain"
)

// AudioPosition locates a point inside a chapter's narration.
type AudioPosition struct {
	ChunkID          string  `json:"chunk_id"`
	TimestampSeconds float64 `json:"timestamp_seconds"`
	CharPosition     int     `json:"char_position"`
}

// ScrollToCharPosition converts a scroll percentage (0-100) through
// chapterText to a global character offset relative to chapterStart.
func ScrollToCharPosition(percent float64, chapterText string, chapterStart int) int {
	if len(chapterText) == 0 {
		return chapterStart
	}
	return chapterStart + int(math.Floor(percent/100*float64(len(chapterText))))
}

// CharPositionToScroll converts a global character offset back to a scroll
// percentage, clamped to [0, 100]. An empty chapter maps to 0.
func CharPositionToScroll(pos int, chapterText string, chapterStart int) float64 {
	if len(chapterText) == 0 {
		return 0
	}
	percent := float64(pos-chapterStart) / float64(len(chapterText)) * 100
	if percent < 0 {
		return 0
	}
	return math.Min(100, percent)
}

// FindChunkByCharPosition scans records for the one whose half-open range
// covers pos. A position at or past the last record's end clamps to the last
// record, absorbing trailing-boundary rounding. Positions that no record
// covers (chunks not yet generated) report ok=false.
func FindChunkByCharPosition(pos int, records []domain.BoundaryRecord) (domain.BoundaryRecord, bool) {
	for _, r := range records {
		if r.Contains(pos) {
			return r, true
		}
	}

	if n := len(records); n > 0 && pos >= records[n-1].EndPosition {
		return records[n-1], true
	}

	return domain.BoundaryRecord{}, false
}

// CharPositionToTimestamp interpolates pos into a timestamp within the
// record's audio. An empty character span maps to 0.
func CharPositionToTimestamp(pos int, record domain.BoundaryRecord) float64 {
	span := record.Span()
	if span <= 0 {
		return 0
	}
	return float64(pos-record.StartPosition) / float64(span) * record.DurationSeconds
}

// TimestampToCharPosition interpolates a timestamp within the record's audio
// back to a global character offset. A zero duration maps to the record
// start.
func TimestampToCharPosition(t float64, record domain.BoundaryRecord) int {
	if record.DurationSeconds <= 0 {
		return record.StartPosition
	}
	// The epsilon absorbs float rounding so that mapping a position to a
	// timestamp and back lands on the original position exactly.
	offset := math.Floor(t/record.DurationSeconds*float64(record.Span()) + 1e-9)
	return record.StartPosition + int(offset)
}

// ReadingToAudio converts a scroll percentage into the chunk and timestamp
// to resume listening at. ok is false when no chunk covers the computed
// character position; the caller stays in reading mode.
func ReadingToAudio(scrollPercent float64, chapterText string, chapterStart int, records []domain.BoundaryRecord) (AudioPosition, bool) {
	pos := ScrollToCharPosition(scrollPercent, chapterText, chapterStart)

	record, ok := FindChunkByCharPosition(pos, records)
	if !ok {
		return AudioPosition{}, false
	}

	// Clamp into the record's span so trailing-boundary positions do not
	// interpolate past the audio's end.
	if pos >= record.EndPosition {
		pos = record.EndPosition - 1
	}
	if pos < record.StartPosition {
		pos = record.StartPosition
	}

	return AudioPosition{
		ChunkID:          record.ID,
		TimestampSeconds: CharPositionToTimestamp(pos, record),
		CharPosition:     pos,
	}, true
}

// AudioToReading converts a chunk and timestamp into the scroll percentage
// to resume reading at. An unknown chunk id maps to 0.
func AudioToReading(chunkID string, timestamp float64, chapterText string, chapterStart int, records []domain.BoundaryRecord) float64 {
	for _, r := range records {
		if r.ID == chunkID {
			pos := TimestampToCharPosition(timestamp, r)
			return CharPositionToScroll(pos, chapterText, chapterStart)
		}
	}
	return 0
}
