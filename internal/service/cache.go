package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/readaloudapp/readaloud-server/internal/config"
	"github.com/readaloudapp/readaloud-server/internal/domain"
	"github.com/readaloudapp/readaloud-server/internal/errors"
	"github.com/readaloudapp/readaloud-server/internal/fingerprint"
	"github.com/readaloudapp/readaloud-server/internal/media/audio"
	"github.com/readaloudapp/readaloud-server/internal/store"
	"github.com/readaloudapp/readaloud-server/internal/synthesis"
)

// ChapterContext ties a generated audio unit to its place in a chapter.
type ChapterContext struct {
	ChapterID     string
	StartPosition int
	EndPosition   int
}

// StreamResult is the payload returned for an audio streaming request.
type StreamResult struct {
	AudioBytes      []byte
	Format          string
	DurationSeconds float64
	SizeBytes       int64
}

// AudioCacheService owns the synthesized-audio cache: content-addressed
// lookup, generation on miss, byte budget enforcement via LRU eviction.
// All cache mutation flows through this service.
type AudioCacheService struct {
	store    *store.Store
	audio    *audio.Storage
	synth    synthesis.Synthesizer
	logger   *slog.Logger
	maxBytes int64

	// group collapses concurrent generations of the same fingerprint into
	// a single synthesis call.
	group singleflight.Group

	// evictMu serializes the eviction scan against concurrent inserts so
	// two inserts cannot both read a stale total and under-evict.
	evictMu sync.Mutex

	// Background generation workers.
	ctx    context.Context //nolint:containedctx // Context needed for worker lifecycle management
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sem    chan struct{}
}

// NewAudioCacheService creates the cache service. workers bounds concurrent
// background chapter generation.
func NewAudioCacheService(
	st *store.Store,
	audioStorage *audio.Storage,
	synth synthesis.Synthesizer,
	cfg config.CacheConfig,
	workers int,
	logger *slog.Logger,
) *AudioCacheService {
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &AudioCacheService{
		store:    st,
		audio:    audioStorage,
		synth:    synth,
		logger:   logger,
		maxBytes: cfg.MaxBytes,
		ctx:      ctx,
		cancel:   cancel,
		sem:      make(chan struct{}, workers),
	}
}

// Stop cancels background generation and waits for in-flight work.
func (s *AudioCacheService) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("audio cache service stopped")
}

// GetOrGenerate returns the cache entry for {text, voice, settings},
// synthesizing and caching the audio on a miss. Concurrent callers for the
// same fingerprint share one generation. A hit whose audio bytes have gone
// missing is reported as a cache integrity violation, never as a miss.
func (s *AudioCacheService) GetOrGenerate(
	ctx context.Context,
	text, voiceID string,
	settings domain.SynthesisSettings,
	chapterCtx ChapterContext,
) (*domain.CacheEntry, error) {
	if text == "" {
		return nil, errors.Validation("text cannot be empty")
	}
	if voiceID == "" {
		voiceID = domain.DefaultVoiceID
	}
	settings = settings.WithDefaults()

	fp := fingerprint.Compute(text, voiceID, settings)

	v, err, _ := s.group.Do(fp, func() (any, error) {
		return s.getOrGenerateOne(ctx, fp, text, voiceID, settings, chapterCtx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.CacheEntry), nil
}

func (s *AudioCacheService) getOrGenerateOne(
	ctx context.Context,
	fp, text, voiceID string,
	settings domain.SynthesisSettings,
	chapterCtx ChapterContext,
) (*domain.CacheEntry, error) {
	entry, err := s.store.GetEntry(ctx, fp)
	if err == nil {
		// Bytes are verified before the access bump so a corrupted entry
		// keeps its LRU position instead of freshening on every failed hit.
		if !s.audio.Exists(fp) {
			return nil, errors.CacheIntegrityf("audio bytes missing for cached entry %s", fp)
		}
		entry, err = s.store.TouchEntry(ctx, fp, time.Now())
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "cache access bookkeeping failed")
		}
		s.logger.Debug("cache hit", "fingerprint", fp, "access_count", entry.AccessCount)
		return entry, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrap(err, errors.CodeInternal, "cache lookup failed")
	}

	result, err := s.synth.Synthesize(ctx, text, voiceID, settings)
	if err != nil {
		return nil, err
	}

	// Bytes land before metadata so a crash between the two leaves an
	// orphaned file, never an entry pointing at nothing.
	if err := s.audio.Save(fp, result.AudioBytes); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "save audio bytes")
	}

	now := time.Now()
	entry = &domain.CacheEntry{
		ID:              fp,
		AudioPath:       s.audio.Path(fp),
		Format:          result.Format,
		SampleRate:      result.SampleRate,
		SizeBytes:       int64(len(result.AudioBytes)),
		DurationSeconds: result.DurationSeconds,
		SourceText:      text,
		VoiceID:         voiceID,
		Settings:        settings,
		StartPosition:   chapterCtx.StartPosition,
		EndPosition:     chapterCtx.EndPosition,
		ChapterID:       chapterCtx.ChapterID,
		AccessCount:     1,
		LastAccessedAt:  now,
		CreatedAt:       now,
	}

	if err := s.store.PutEntry(ctx, entry); err != nil {
		// Roll the bytes back so no unreferenced audio accumulates.
		if delErr := s.audio.Delete(fp); delErr != nil {
			s.logger.Error("rollback of audio bytes failed", "fingerprint", fp, "error", delErr)
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "persist cache entry")
	}

	s.logger.Info("audio generated",
		"fingerprint", fp,
		"chapter_id", chapterCtx.ChapterID,
		"size_bytes", entry.SizeBytes,
		"duration_s", entry.DurationSeconds,
	)

	s.evict(ctx)

	return entry, nil
}

// GenerateChapterAudio synthesizes a chapter's chunks. The first chunk is
// generated synchronously so playback can start immediately; the rest are
// handed to the background worker pool. Returns the entries that exist when
// the call completes: the first chunk's entry plus any siblings already
// cached. Background failures are logged and do not affect other chunks.
func (s *AudioCacheService) GenerateChapterAudio(
	ctx context.Context,
	chapterID string,
	chunks []domain.Chunk,
	voiceID string,
	settings domain.SynthesisSettings,
) ([]*domain.CacheEntry, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	first := chunks[0]
	firstEntry, err := s.GetOrGenerate(ctx, first.Text, voiceID, settings, ChapterContext{
		ChapterID:     chapterID,
		StartPosition: first.StartPosition,
		EndPosition:   first.EndPosition,
	})
	if err != nil {
		return nil, err
	}

	entries := []*domain.CacheEntry{firstEntry}

	for _, chunk := range chunks[1:] {
		if existing, err := s.store.GetEntry(ctx, s.fingerprintFor(chunk.Text, voiceID, settings)); err == nil {
			entries = append(entries, existing)
			continue
		}

		s.wg.Add(1)
		go func(c domain.Chunk) {
			defer s.wg.Done()

			select {
			case s.sem <- struct{}{}:
				defer func() { <-s.sem }()
			case <-s.ctx.Done():
				return
			}

			// Detached from the request context: chapter generation
			// outlives the HTTP call that started it.
			if _, err := s.GetOrGenerate(s.ctx, c.Text, voiceID, settings, ChapterContext{
				ChapterID:     chapterID,
				StartPosition: c.StartPosition,
				EndPosition:   c.EndPosition,
			}); err != nil {
				s.logger.Error("background chunk generation failed",
					"chapter_id", chapterID,
					"chunk_index", c.Index,
					"error", err,
				)
			}
		}(chunk)
	}

	return entries, nil
}

// GenerateChunkOnDemand synthesizes a single chunk synchronously, for the
// case where the listener seeks into a part of the chapter that background
// generation has not reached yet.
func (s *AudioCacheService) GenerateChunkOnDemand(
	ctx context.Context,
	chapterID string,
	chunk domain.Chunk,
	voiceID string,
	settings domain.SynthesisSettings,
) (*domain.CacheEntry, error) {
	return s.GetOrGenerate(ctx, chunk.Text, voiceID, settings, ChapterContext{
		ChapterID:     chapterID,
		StartPosition: chunk.StartPosition,
		EndPosition:   chunk.EndPosition,
	})
}

// StreamAudio returns the audio bytes for a cache entry, bumping its access
// bookkeeping. A missing entry is NotFound; an entry whose bytes are gone is
// a cache integrity violation.
func (s *AudioCacheService) StreamAudio(ctx context.Context, entryID string) (*StreamResult, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.NotFoundf("no cached audio for %s", entryID)
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "cache lookup failed")
	}

	data, err := s.audio.Get(entry.ID)
	if err != nil {
		return nil, errors.CacheIntegrityf("audio bytes unreadable for cached entry %s", entry.ID).WithCause(err)
	}

	if _, err := s.store.TouchEntry(ctx, entry.ID, time.Now()); err != nil {
		s.logger.Warn("access bump failed", "fingerprint", entry.ID, "error", err)
	}

	return &StreamResult{
		AudioBytes:      data,
		Format:          entry.Format,
		DurationSeconds: entry.DurationSeconds,
		SizeBytes:       entry.SizeBytes,
	}, nil
}

// Stats reports cache occupancy. Recent means accessed within the last hour.
func (s *AudioCacheService) Stats(ctx context.Context) (*domain.CacheStats, error) {
	count, err := s.store.EntryCount(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "count entries")
	}

	total, err := s.store.TotalAudioBytes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "sum audio bytes")
	}

	recent, err := s.store.CountEntriesAccessedSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "count recent entries")
	}

	stats := &domain.CacheStats{
		EntryCount:       count,
		TotalBytes:       total,
		MaxBytes:         s.maxBytes,
		RecentEntryCount: recent,
	}
	if s.maxBytes > 0 {
		stats.UtilizationPercent = float64(total) / float64(s.maxBytes) * 100
	}
	return stats, nil
}

// Clear removes every cache entry and its audio bytes. Byte deletion
// failures are logged and do not stop the clear. Returns the number of
// metadata entries removed.
func (s *AudioCacheService) Clear(ctx context.Context) (int, error) {
	entries, err := s.store.ListAllEntries(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeInternal, "list entries")
	}

	for _, entry := range entries {
		if err := s.audio.Delete(entry.ID); err != nil {
			s.logger.Warn("audio delete failed during clear", "fingerprint", entry.ID, "error", err)
		}
	}

	removed, err := s.store.ClearEntries(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeInternal, "clear entries")
	}

	s.logger.Info("cache cleared", "entries_removed", removed)
	return removed, nil
}

// evict deletes least-recently-accessed entries until the total audio size
// fits the byte budget. A failed delete is logged and skipped; eviction
// moves on to the next candidate.
func (s *AudioCacheService) evict(ctx context.Context) {
	s.evictMu.Lock()
	defer s.evictMu.Unlock()

	total, err := s.store.TotalAudioBytes(ctx)
	if err != nil {
		s.logger.Error("eviction scan failed", "error", err)
		return
	}
	if total <= s.maxBytes {
		return
	}

	candidates, err := s.store.ListEntriesByLastAccessed(ctx)
	if err != nil {
		s.logger.Error("eviction scan failed", "error", err)
		return
	}

	for _, entry := range candidates {
		if total <= s.maxBytes {
			break
		}

		if err := s.audio.Delete(entry.ID); err != nil {
			s.logger.Warn("eviction skipped entry", "fingerprint", entry.ID, "error", err)
			continue
		}
		if err := s.store.DeleteEntry(ctx, entry.ID); err != nil {
			s.logger.Warn("eviction skipped entry", "fingerprint", entry.ID, "error", err)
			continue
		}

		total -= entry.SizeBytes
		s.logger.Info("evicted cache entry",
			"fingerprint", entry.ID,
			"size_bytes", entry.SizeBytes,
			"last_accessed", entry.LastAccessedAt,
		)
	}

	if total > s.maxBytes {
		s.logger.Warn("cache still over budget after eviction",
			"total_bytes", total,
			"max_bytes", s.maxBytes,
		)
	}
}

func (s *AudioCacheService) fingerprintFor(text, voiceID string, settings domain.SynthesisSettings) string {
	if voiceID == "" {
		voiceID = domain.DefaultVoiceID
	}
	return fingerprint.Compute(text, voiceID, settings.WithDefaults())
}
