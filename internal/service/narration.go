package service

import (
	"context"
	"log/slog"
	"slices"

	"github.com/readaloudapp/readaloud-server/internal/chunker"
	"github.com/readaloudapp/readaloud-server/internal/domain"
	"github.com/readaloudapp/readaloud-server/internal/errors"
	"github.com/readaloudapp/readaloud-server/internal/position"
	"github.com/readaloudapp/readaloud-server/internal/store"
)

// NarrationService composes chunking, the audio cache, and position mapping
// into the operations the reading surface calls when the reader switches
// between reading and listening.
type NarrationService struct {
	chunker *chunker.Chunker
	cache   *AudioCacheService
	store   *store.Store
	logger  *slog.Logger
}

// NewNarrationService creates a narration service.
func NewNarrationService(
	ch *chunker.Chunker,
	cache *AudioCacheService,
	st *store.Store,
	logger *slog.Logger,
) *NarrationService {
	return &NarrationService{
		chunker: ch,
		cache:   cache,
		store:   st,
		logger:  logger,
	}
}

// ChapterChunks splits chapter text into synthesis-sized chunks. Pure
// computation; nothing is persisted.
func (s *NarrationService) ChapterChunks(text string, globalStart int) []domain.Chunk {
	return s.chunker.Split(text, globalStart)
}

// Boundaries returns the position-mapping records for a chapter's generated
// audio, ordered by start position. Chunks not yet synthesized have no
// record.
func (s *NarrationService) Boundaries(ctx context.Context, chapterID string) ([]domain.BoundaryRecord, error) {
	entries, err := s.store.ListEntriesByChapter(ctx, chapterID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "list chapter entries")
	}

	records := make([]domain.BoundaryRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, entry.Boundary())
	}
	slices.SortFunc(records, func(a, b domain.BoundaryRecord) int {
		return a.StartPosition - b.StartPosition
	})
	return records, nil
}

// SwitchToListening converts a reading position (scroll percent) into the
// audio position to resume listening at. If the covering chunk has not been
// synthesized yet it is generated on demand first. ok is false only when
// the position maps to no chunk at all (empty chapter).
func (s *NarrationService) SwitchToListening(
	ctx context.Context,
	chapterID, chapterText string,
	chapterStart int,
	scrollPercent float64,
	voiceID string,
	settings domain.SynthesisSettings,
) (position.AudioPosition, bool, error) {
	records, err := s.Boundaries(ctx, chapterID)
	if err != nil {
		return position.AudioPosition{}, false, err
	}

	if pos, ok := position.ReadingToAudio(scrollPercent, chapterText, chapterStart, records); ok {
		return pos, true, nil
	}

	// No record covers the position: synthesize the covering chunk now.
	charPos := position.ScrollToCharPosition(scrollPercent, chapterText, chapterStart)
	chunk, ok := chunkAt(s.chunker.Split(chapterText, chapterStart), charPos)
	if !ok {
		return position.AudioPosition{}, false, nil
	}

	entry, err := s.cache.GenerateChunkOnDemand(ctx, chapterID, chunk, voiceID, settings)
	if err != nil {
		return position.AudioPosition{}, false, err
	}

	record := entry.Boundary()
	if charPos >= record.EndPosition {
		charPos = record.EndPosition - 1
	}
	if charPos < record.StartPosition {
		charPos = record.StartPosition
	}

	return position.AudioPosition{
		ChunkID:          record.ID,
		TimestampSeconds: position.CharPositionToTimestamp(charPos, record),
		CharPosition:     charPos,
	}, true, nil
}

// SwitchToReading converts an audio position into the scroll percentage to
// resume reading at. An unknown chunk id maps to scroll 0.
func (s *NarrationService) SwitchToReading(
	ctx context.Context,
	chapterID, chapterText string,
	chapterStart int,
	chunkID string,
	timestampSeconds float64,
) (float64, error) {
	records, err := s.Boundaries(ctx, chapterID)
	if err != nil {
		return 0, err
	}
	return position.AudioToReading(chunkID, timestampSeconds, chapterText, chapterStart, records), nil
}

// chunkAt finds the chunk covering pos. A position at or past the last
// chunk's end clamps to the last chunk.
func chunkAt(chunks []domain.Chunk, pos int) (domain.Chunk, bool) {
	for _, c := range chunks {
		if pos >= c.StartPosition && pos < c.EndPosition {
			return c, true
		}
	}
	if n := len(chunks); n > 0 && pos >= chunks[n-1].EndPosition {
		return chunks[n-1], true
	}
	return domain.Chunk{}, false
}
