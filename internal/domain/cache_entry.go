package domain

import "time"

// CacheEntry is the persisted record for one synthesized audio unit, keyed by
// its content fingerprint. Entries are created once, mutated only for
// access-time bookkeeping, and destroyed only by eviction or cache clear.
type CacheEntry struct {
	// ID is the content fingerprint over {text, voice, settings}.
	// Exactly one entry exists per fingerprint.
	ID string `json:"id"`

	// AudioPath is the opaque handle to the durable audio bytes.
	AudioPath string `json:"audio_path"`

	// Audio metadata returned by the synthesis backend.
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`

	// Source material, kept for diagnostics. Not part of the cache key
	// beyond its contribution to the fingerprint.
	SourceText string            `json:"source_text"`
	VoiceID    string            `json:"voice_id"`
	Settings   SynthesisSettings `json:"settings"`

	// Global character range this audio covers, used for position mapping.
	StartPosition int `json:"start_position"`
	EndPosition   int `json:"end_position"`

	// ChapterID groups entries belonging to one chapter's narration.
	ChapterID string `json:"chapter_id,omitempty"`

	// LRU bookkeeping, updated on every cache hit.
	AccessCount    int64     `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`

	CreatedAt time.Time `json:"created_at"`
}

// Touch records a cache hit.
func (e *CacheEntry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessedAt = now
}

// Boundary returns the position-mapping view of this entry.
func (e *CacheEntry) Boundary() BoundaryRecord {
	return BoundaryRecord{
		ID:              e.ID,
		StartPosition:   e.StartPosition,
		EndPosition:     e.EndPosition,
		DurationSeconds: e.DurationSeconds,
	}
}

// CacheStats reports cache occupancy for the stats endpoint.
type CacheStats struct {
	EntryCount         int     `json:"entry_count"`
	TotalBytes         int64   `json:"total_bytes"`
	MaxBytes           int64   `json:"max_bytes"`
	UtilizationPercent float64 `json:"utilization_percent"`
	RecentEntryCount   int     `json:"recent_entry_count"`
}
