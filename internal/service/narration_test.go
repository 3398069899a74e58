package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readaloudapp/readaloud-server/internal/chunker"
	"github.com/readaloudapp/readaloud-server/internal/domain"
	"github.com/readaloudapp/readaloud-server/internal/synthesis"
)

func setupNarrationService(t *testing.T, params chunker.Params, mock *synthesis.Mock) (*NarrationService, *cacheFixture) {
	t.Helper()

	fx := setupCacheService(t, 1<<30, mock)

	ch, err := chunker.New(params)
	require.NoError(t, err)

	svc := NewNarrationService(ch, fx.svc, fx.store, slog.New(slog.DiscardHandler))
	return svc, fx
}

func smallParams() chunker.Params {
	// Small enough that each short paragraph becomes its own chunk.
	return chunker.Params{TargetSize: 8, MaxSize: 40, MinSize: 0}
}

func TestChapterChunks(t *testing.T) {
	svc, _ := setupNarrationService(t, smallParams(), &synthesis.Mock{})

	chunks := svc.ChapterChunks("First.\n\nSecond.\n\nThird.", 0)
	require.Len(t, chunks, 3)
	assert.Equal(t, "First.", chunks[0].Text)
	assert.Equal(t, "Second.", chunks[1].Text)
	assert.Equal(t, "Third.", chunks[2].Text)
}

func TestBoundaries_OrderedByStart(t *testing.T) {
	svc, fx := setupNarrationService(t, smallParams(), &synthesis.Mock{DurationSeconds: 3.0})
	ctx := context.Background()

	chunks := svc.ChapterChunks("First.\n\nSecond.\n\nThird.", 0)

	// Generate out of order.
	for _, i := range []int{2, 0, 1} {
		_, err := fx.svc.GenerateChunkOnDemand(ctx, "chap-1", chunks[i], "", domain.SynthesisSettings{})
		require.NoError(t, err)
	}

	records, err := svc.Boundaries(ctx, "chap-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i := 1; i < len(records); i++ {
		assert.Greater(t, records[i].StartPosition, records[i-1].StartPosition)
	}
	assert.Equal(t, chunks[0].StartPosition, records[0].StartPosition)
	assert.Equal(t, chunks[2].EndPosition, records[2].EndPosition)
}

func TestBoundaries_EmptyChapter(t *testing.T) {
	svc, _ := setupNarrationService(t, smallParams(), &synthesis.Mock{})

	records, err := svc.Boundaries(context.Background(), "chap-none")
	require.NoError(t, err)
	assert.Empty(t, records)
}

// A reader 50% through a three-paragraph chapter switches to listening and
// lands mid-narration, then switches back and lands near 50% again.
func TestModeSwitch_RoundTrip(t *testing.T) {
	text := "First.\n\nSecond.\n\nThird."
	svc, fx := setupNarrationService(t, smallParams(), &synthesis.Mock{DurationSeconds: 3.0})
	ctx := context.Background()

	chunks := svc.ChapterChunks(text, 0)
	_, err := fx.svc.GenerateChapterAudio(ctx, "chap-1", chunks, "", domain.SynthesisSettings{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		records, err := svc.Boundaries(ctx, "chap-1")
		return err == nil && len(records) == len(chunks)
	}, 5*time.Second, 10*time.Millisecond)

	pos, ok, err := svc.SwitchToListening(ctx, "chap-1", text, 0, 50, "", domain.SynthesisSettings{})
	require.NoError(t, err)
	require.True(t, ok)

	// 50% of 23 characters lands in the middle chunk, roughly halfway
	// through the chapter's 9 seconds of audio.
	records, err := svc.Boundaries(ctx, "chap-1")
	require.NoError(t, err)
	assert.Equal(t, records[1].ID, pos.ChunkID)
	assert.InDelta(t, 1.5, pos.TimestampSeconds, 1.5)

	percent, err := svc.SwitchToReading(ctx, "chap-1", text, 0, pos.ChunkID, pos.TimestampSeconds)
	require.NoError(t, err)
	assert.InDelta(t, 50, percent, 5)
}

func TestSwitchToListening_GeneratesOnDemand(t *testing.T) {
	text := "First.\n\nSecond.\n\nThird."
	svc, fx := setupNarrationService(t, smallParams(), &synthesis.Mock{DurationSeconds: 3.0})
	ctx := context.Background()

	// Nothing generated yet. Switching must synthesize the covering chunk.
	pos, ok, err := svc.SwitchToListening(ctx, "chap-1", text, 0, 50, "", domain.SynthesisSettings{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), fx.mock.Calls(), "only the covering chunk is synthesized")

	records, err := svc.Boundaries(ctx, "chap-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, records[0].ID, pos.ChunkID)
	assert.GreaterOrEqual(t, pos.CharPosition, records[0].StartPosition)
	assert.Less(t, pos.CharPosition, records[0].EndPosition)
}

func TestSwitchToListening_EmptyChapter(t *testing.T) {
	svc, _ := setupNarrationService(t, smallParams(), &synthesis.Mock{})

	_, ok, err := svc.SwitchToListening(context.Background(), "chap-1", "", 0, 50, "", domain.SynthesisSettings{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSwitchToReading_UnknownChunk(t *testing.T) {
	svc, _ := setupNarrationService(t, smallParams(), &synthesis.Mock{})

	percent, err := svc.SwitchToReading(context.Background(), "chap-1", "some text", 0, "unknown", 1.0)
	require.NoError(t, err)
	assert.Zero(t, percent)
}

func TestSwitchToListening_NonZeroChapterStart(t *testing.T) {
	text := "First.\n\nSecond.\n\nThird."
	svc, fx := setupNarrationService(t, smallParams(), &synthesis.Mock{DurationSeconds: 3.0})
	ctx := context.Background()

	chunks := svc.ChapterChunks(text, 5000)
	require.Len(t, chunks, 3)
	assert.Equal(t, 5000, chunks[0].StartPosition)

	for _, c := range chunks {
		_, err := fx.svc.GenerateChunkOnDemand(ctx, "chap-2", c, "", domain.SynthesisSettings{})
		require.NoError(t, err)
	}

	pos, ok, err := svc.SwitchToListening(ctx, "chap-2", text, 5000, 50, "", domain.SynthesisSettings{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.GreaterOrEqual(t, pos.CharPosition, 5000)

	percent, err := svc.SwitchToReading(ctx, "chap-2", text, 5000, pos.ChunkID, pos.TimestampSeconds)
	require.NoError(t, err)
	assert.InDelta(t, 50, percent, 5)
}
