package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readaloudapp/readaloud-server/internal/config"
	"github.com/readaloudapp/readaloud-server/internal/domain"
	"github.com/readaloudapp/readaloud-server/internal/errors"
	"github.com/readaloudapp/readaloud-server/internal/media/audio"
	"github.com/readaloudapp/readaloud-server/internal/store"
	"github.com/readaloudapp/readaloud-server/internal/synthesis"
)

type cacheFixture struct {
	svc   *AudioCacheService
	store *store.Store
	audio *audio.Storage
	mock  *synthesis.Mock
}

func setupCacheService(t *testing.T, maxBytes int64, mock *synthesis.Mock) *cacheFixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	st, err := store.New(filepath.Join(t.TempDir(), "meta"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	audioStorage, err := audio.NewStorage(t.TempDir())
	require.NoError(t, err)

	svc := NewAudioCacheService(st, audioStorage, mock, config.CacheConfig{MaxBytes: maxBytes}, 2, logger)
	t.Cleanup(svc.Stop)

	return &cacheFixture{svc: svc, store: st, audio: audioStorage, mock: mock}
}

func TestGetOrGenerate_MissThenHit(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{BytesPerCall: 1000, DurationSeconds: 3.0})
	ctx := context.Background()

	entry, err := fx.svc.GetOrGenerate(ctx, "Once upon a time.", "af_bella", domain.SynthesisSettings{}, ChapterContext{ChapterID: "chap-1", EndPosition: 17})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.AccessCount)
	assert.Equal(t, int64(1000), entry.SizeBytes)
	assert.Equal(t, 3.0, entry.DurationSeconds)
	assert.Equal(t, "chap-1", entry.ChapterID)
	assert.True(t, fx.audio.Exists(entry.ID))

	again, err := fx.svc.GetOrGenerate(ctx, "Once upon a time.", "af_bella", domain.SynthesisSettings{}, ChapterContext{ChapterID: "chap-1", EndPosition: 17})
	require.NoError(t, err)
	assert.Equal(t, entry.ID, again.ID)
	assert.Equal(t, int64(2), again.AccessCount)

	assert.Equal(t, int64(1), fx.mock.Calls(), "cache hit must not synthesize")
}

func TestGetOrGenerate_DefaultEquivalence(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{})
	ctx := context.Background()

	implicit, err := fx.svc.GetOrGenerate(ctx, "hello", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)

	explicit, err := fx.svc.GetOrGenerate(ctx, "hello", domain.DefaultVoiceID, domain.SynthesisSettings{
		Speed:       domain.DefaultSpeed,
		Temperature: domain.DefaultTemperature,
	}, ChapterContext{})
	require.NoError(t, err)

	assert.Equal(t, implicit.ID, explicit.ID)
	assert.Equal(t, int64(1), fx.mock.Calls())
}

func TestGetOrGenerate_EmptyText(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{})

	_, err := fx.svc.GetOrGenerate(context.Background(), "", "", domain.SynthesisSettings{}, ChapterContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestGetOrGenerate_SynthesisFailure(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{Err: errors.SynthesisFailed("engine down")})
	ctx := context.Background()

	_, err := fx.svc.GetOrGenerate(ctx, "hello", "", domain.SynthesisSettings{}, ChapterContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSynthesisFailed))

	// Nothing cached for a failed generation.
	count, err := fx.store.EntryCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetOrGenerate_IntegrityViolation(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{})
	ctx := context.Background()

	entry, err := fx.svc.GetOrGenerate(ctx, "hello", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)

	// Bytes removed behind the cache's back.
	require.NoError(t, fx.audio.Delete(entry.ID))

	_, err = fx.svc.GetOrGenerate(ctx, "hello", "", domain.SynthesisSettings{}, ChapterContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCacheIntegrity), "missing bytes must not be treated as a miss")
	assert.Equal(t, int64(1), fx.mock.Calls(), "integrity violation must not re-synthesize")
}

func TestGetOrGenerate_IntegrityViolationKeepsLRUPosition(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{})
	ctx := context.Background()

	entry, err := fx.svc.GetOrGenerate(ctx, "hello", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)
	require.NoError(t, fx.audio.Delete(entry.ID))

	before, err := fx.store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)

	// Failed accesses must not bump the corrupt entry's bookkeeping, or it
	// would outlive healthy entries in the eviction order.
	for range 3 {
		_, err = fx.svc.GetOrGenerate(ctx, "hello", "", domain.SynthesisSettings{}, ChapterContext{})
		require.Error(t, err)
	}

	after, err := fx.store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, before.AccessCount, after.AccessCount)
	assert.Equal(t, before.LastAccessedAt, after.LastAccessedAt)
}

func TestGetOrGenerate_SingleflightDedup(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{Delay: 50 * time.Millisecond})
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	errs := make([]error, 10)

	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := fx.svc.GetOrGenerate(ctx, "same text", "", domain.SynthesisSettings{}, ChapterContext{})
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = entry.ID
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	assert.Equal(t, int64(1), fx.mock.Calls(), "concurrent callers must share one synthesis")

	count, err := fx.store.EntryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEviction(t *testing.T) {
	// Budget fits two 1000-byte entries.
	fx := setupCacheService(t, 2500, &synthesis.Mock{BytesPerCall: 1000})
	ctx := context.Background()

	first, err := fx.svc.GetOrGenerate(ctx, "first chunk", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	second, err := fx.svc.GetOrGenerate(ctx, "second chunk", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	// Third insert pushes the total to 3000; the least recently accessed
	// entry goes.
	third, err := fx.svc.GetOrGenerate(ctx, "third chunk", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)

	_, err = fx.store.GetEntry(ctx, first.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound), "oldest entry should be evicted")
	assert.False(t, fx.audio.Exists(first.ID))

	_, err = fx.store.GetEntry(ctx, second.ID)
	assert.NoError(t, err)
	_, err = fx.store.GetEntry(ctx, third.ID)
	assert.NoError(t, err)

	total, err := fx.store.TotalAudioBytes(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, total, int64(2500))
}

func TestEviction_RecentAccessSurvives(t *testing.T) {
	fx := setupCacheService(t, 2500, &synthesis.Mock{BytesPerCall: 1000})
	ctx := context.Background()

	a, err := fx.svc.GetOrGenerate(ctx, "entry a", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	b, err := fx.svc.GetOrGenerate(ctx, "entry b", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	// Touch a so b becomes the eviction candidate.
	_, err = fx.svc.GetOrGenerate(ctx, "entry a", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	_, err = fx.svc.GetOrGenerate(ctx, "entry c", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)

	_, err = fx.store.GetEntry(ctx, a.ID)
	assert.NoError(t, err, "recently accessed entry must survive eviction")
	_, err = fx.store.GetEntry(ctx, b.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStreamAudio(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{BytesPerCall: 1000, DurationSeconds: 3.0})
	ctx := context.Background()

	entry, err := fx.svc.GetOrGenerate(ctx, "hello", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)

	result, err := fx.svc.StreamAudio(ctx, entry.ID)
	require.NoError(t, err)
	assert.Len(t, result.AudioBytes, 1000)
	assert.Equal(t, "wav", result.Format)
	assert.Equal(t, 3.0, result.DurationSeconds)

	// Streaming counts as an access.
	updated, err := fx.store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.AccessCount)
}

func TestStreamAudio_NotFound(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{})

	_, err := fx.svc.StreamAudio(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStreamAudio_IntegrityViolation(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{})
	ctx := context.Background()

	entry, err := fx.svc.GetOrGenerate(ctx, "hello", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)
	require.NoError(t, fx.audio.Delete(entry.ID))

	_, err = fx.svc.StreamAudio(ctx, entry.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCacheIntegrity))
	assert.False(t, errors.Is(err, errors.ErrNotFound))
}

func TestGenerateChapterAudio(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{DurationSeconds: 3.0})
	ctx := context.Background()

	chunks := []domain.Chunk{
		{Index: 0, Text: "First paragraph.", StartPosition: 0, EndPosition: 16},
		{Index: 1, Text: "Second paragraph.", StartPosition: 18, EndPosition: 35},
		{Index: 2, Text: "Third paragraph.", StartPosition: 37, EndPosition: 53},
	}

	entries, err := fx.svc.GenerateChapterAudio(ctx, "chap-1", chunks, "", domain.SynthesisSettings{})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, 0, entries[0].StartPosition)
	assert.Equal(t, 16, entries[0].EndPosition)

	// Background workers fill in the rest.
	assert.Eventually(t, func() bool {
		count, err := fx.store.EntryCount(ctx)
		return err == nil && count == len(chunks)
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(len(chunks)), fx.mock.Calls())

	// A repeat run synthesizes nothing and reports every entry.
	entries, err = fx.svc.GenerateChapterAudio(ctx, "chap-1", chunks, "", domain.SynthesisSettings{})
	require.NoError(t, err)
	assert.Len(t, entries, len(chunks))
	assert.Equal(t, int64(len(chunks)), fx.mock.Calls())
}

func TestGenerateChapterAudio_Empty(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{})

	entries, err := fx.svc.GenerateChapterAudio(context.Background(), "chap-1", nil, "", domain.SynthesisSettings{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStats(t *testing.T) {
	fx := setupCacheService(t, 10000, &synthesis.Mock{BytesPerCall: 1000})
	ctx := context.Background()

	_, err := fx.svc.GetOrGenerate(ctx, "one", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)
	_, err = fx.svc.GetOrGenerate(ctx, "two", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)

	stats, err := fx.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntryCount)
	assert.Equal(t, int64(2000), stats.TotalBytes)
	assert.Equal(t, int64(10000), stats.MaxBytes)
	assert.InDelta(t, 20.0, stats.UtilizationPercent, 0.01)
	assert.Equal(t, 2, stats.RecentEntryCount)
}

func TestClear(t *testing.T) {
	fx := setupCacheService(t, 1<<30, &synthesis.Mock{})
	ctx := context.Background()

	a, err := fx.svc.GetOrGenerate(ctx, "one", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)
	b, err := fx.svc.GetOrGenerate(ctx, "two", "", domain.SynthesisSettings{}, ChapterContext{})
	require.NoError(t, err)

	removed, err := fx.svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := fx.store.EntryCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.False(t, fx.audio.Exists(a.ID))
	assert.False(t, fx.audio.Exists(b.ID))
}
