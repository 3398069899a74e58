// Package store persists audio cache metadata in a Badger key/value
// database. Entries are keyed by content fingerprint; secondary indexes
// support the eviction scan (ordered by last access time) and per-chapter
// boundary lookups.
package store

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// New opens the metadata database at path.
func New(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Sync writes to disk to prevent corruption on crashes
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	if logger != nil {
		logger.Info("metadata database opened", "path", path)
	}

	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	if s.logger != nil {
		s.logger.Info("closing metadata database")
	}
	return s.db.Close()
}
