package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/readaloudapp/readaloud-server/internal/domain"
)

// PutEntry writes a cache entry, overwriting any existing entry for the same
// fingerprint. Overwrite is idempotent so duplicate generations racing from
// separate processes converge on one entry. Indexes are kept consistent with
// the stored value inside a single transaction.
func (s *Store) PutEntry(ctx context.Context, entry *domain.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := entryKey(entry.ID)

		// Drop stale indexes if an entry already exists for this fingerprint.
		item, err := txn.Get(key)
		if err == nil {
			var old domain.CacheEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &old)
			}); err != nil {
				return fmt.Errorf("unmarshal existing entry: %w", err)
			}
			if err := deleteEntryIndexes(txn, &old); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check existing entry: %w", err)
		}

		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set entry: %w", err)
		}
		return setEntryIndexes(txn, entry)
	})
}

// GetEntry retrieves a cache entry by fingerprint.
func (s *Store) GetEntry(ctx context.Context, fingerprint string) (*domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry domain.CacheEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(fingerprint))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})

	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// TouchEntry bumps access bookkeeping for a cache hit and moves the entry's
// last-accessed index key. Returns the updated entry.
func (s *Store) TouchEntry(ctx context.Context, fingerprint string, now time.Time) (*domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry domain.CacheEntry
	err := s.db.Update(func(txn *badger.Txn) error {
		key := entryKey(fingerprint)

		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		if err := txn.Delete(accessedIndexKey(entry.LastAccessedAt, entry.ID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete old accessed index: %w", err)
		}

		entry.Touch(now)

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set entry: %w", err)
		}
		return txn.Set(accessedIndexKey(entry.LastAccessedAt, entry.ID), []byte(entry.ID))
	})

	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteEntry removes a cache entry and its indexes. Deleting a missing
// entry is not an error.
func (s *Store) DeleteEntry(ctx context.Context, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := entryKey(fingerprint)

		var entry domain.CacheEntry
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil // Idempotent
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		if err := deleteEntryIndexes(txn, &entry); err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// ListEntriesByLastAccessed returns all entries in strict ascending
// last-accessed order. This is the eviction scan: the least recently used
// entry comes first. Ties cannot occur at nanosecond key granularity for one
// fingerprint; across fingerprints ordering falls back to fingerprint bytes,
// which is deterministic.
func (s *Store) ListEntriesByLastAccessed(ctx context.Context) ([]*domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var fingerprints []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(accessedPrefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(accessedPrefix)); it.ValidForPrefix([]byte(accessedPrefix)); it.Next() {
			fp, err := fingerprintFromAccessedKey(it.Item().Key())
			if err != nil {
				return err
			}
			fingerprints = append(fingerprints, fp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*domain.CacheEntry, 0, len(fingerprints))
	for _, fp := range fingerprints {
		entry, err := s.GetEntry(ctx, fp)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListEntriesByChapter returns the entries covering one chapter, ordered by
// start position. These become the chapter's boundary records.
func (s *Store) ListEntriesByChapter(ctx context.Context, chapterID string) ([]*domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indexPrefix := []byte(chapterPrefix + chapterID + ":")

	var fingerprints []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = indexPrefix
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(indexPrefix); it.ValidForPrefix(indexPrefix); it.Next() {
			var fp string
			if err := it.Item().Value(func(val []byte) error {
				fp = string(val)
				return nil
			}); err != nil {
				return err
			}
			fingerprints = append(fingerprints, fp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*domain.CacheEntry, 0, len(fingerprints))
	for _, fp := range fingerprints {
		entry, err := s.GetEntry(ctx, fp)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, entry)
	}

	slices.SortFunc(entries, func(a, b *domain.CacheEntry) int {
		return a.StartPosition - b.StartPosition
	})
	return entries, nil
}

// TotalAudioBytes sums the audio size across all entries.
func (s *Store) TotalAudioBytes(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var total int64
	err := s.forEachEntry(func(entry *domain.CacheEntry) error {
		total += entry.SizeBytes
		return nil
	})
	return total, err
}

// EntryCount returns the number of cache entries.
func (s *Store) EntryCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.forEachEntry(func(*domain.CacheEntry) error {
		count++
		return nil
	})
	return count, err
}

// CountEntriesAccessedSince counts entries whose last access is at or after
// the cutoff. Used for the stats endpoint's recent-entry figure.
func (s *Store) CountEntriesAccessedSince(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.forEachEntry(func(entry *domain.CacheEntry) error {
		if !entry.LastAccessedAt.Before(cutoff) {
			count++
		}
		return nil
	})
	return count, err
}

// ListAllEntries returns every cache entry, in fingerprint order.
func (s *Store) ListAllEntries(ctx context.Context) ([]*domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []*domain.CacheEntry
	err := s.forEachEntry(func(entry *domain.CacheEntry) error {
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

// ClearEntries deletes every entry and index. Returns the number of entries
// removed.
func (s *Store) ClearEntries(ctx context.Context) (int, error) {
	entries, err := s.ListAllEntries(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if err := s.DeleteEntry(ctx, entry.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// forEachEntry iterates the primary entry keys, skipping index keys.
func (s *Store) forEachEntry(fn func(*domain.CacheEntry) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		indexPrefix := []byte(entryPrefix + "idx:")
		for it.Seek([]byte(entryPrefix)); it.ValidForPrefix([]byte(entryPrefix)); it.Next() {
			key := it.Item().Key()
			if len(key) >= len(indexPrefix) && string(key[:len(indexPrefix)]) == string(indexPrefix) {
				continue
			}

			var entry domain.CacheEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			if err := fn(&entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Index management helpers

func setEntryIndexes(txn *badger.Txn, entry *domain.CacheEntry) error {
	if err := txn.Set(accessedIndexKey(entry.LastAccessedAt, entry.ID), []byte(entry.ID)); err != nil {
		return fmt.Errorf("set accessed index: %w", err)
	}

	if entry.ChapterID != "" {
		if err := txn.Set(chapterIndexKey(entry.ChapterID, entry.ID), []byte(entry.ID)); err != nil {
			return fmt.Errorf("set chapter index: %w", err)
		}
	}
	return nil
}

func deleteEntryIndexes(txn *badger.Txn, entry *domain.CacheEntry) error {
	if err := txn.Delete(accessedIndexKey(entry.LastAccessedAt, entry.ID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete accessed index: %w", err)
	}

	if entry.ChapterID != "" {
		if err := txn.Delete(chapterIndexKey(entry.ChapterID, entry.ID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete chapter index: %w", err)
		}
	}
	return nil
}
