// Package audio provides durable filesystem storage for synthesized audio
// bytes. Files are addressed by content fingerprint; all metadata lives in
// the store, never here.
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage manages audio filesystem operations.
// Thread-safe for concurrent operations.
type Storage struct {
	basePath string
	mu       sync.RWMutex // Protects file operations
}

// NewStorage creates a Storage rooted at {basePath}/audio.
func NewStorage(basePath string) (*Storage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	storagePath := filepath.Join(basePath, "audio")

	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}

	return &Storage{
		basePath: storagePath,
	}, nil
}

// Save stores audio bytes for a fingerprint.
// Filename format: {fingerprint}.wav.
func (s *Storage) Save(fingerprint string, audio []byte) error {
	if fingerprint == "" {
		return fmt.Errorf("fingerprint cannot be empty")
	}
	if len(audio) == 0 {
		return fmt.Errorf("audio data cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.Path(fingerprint), audio, 0644); err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	return nil
}

// Get retrieves audio bytes for a fingerprint. Missing files surface as
// os.IsNotExist-compatible errors so callers can tell integrity violations
// from read failures.
func (s *Storage) Get(fingerprint string) ([]byte, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("fingerprint cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path(fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("audio not found for %s: %w", fingerprint, err)
		}
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	return data, nil
}

// Exists checks whether audio bytes exist for a fingerprint.
func (s *Storage) Exists(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.Path(fingerprint))
	return err == nil
}

// Delete removes audio bytes for a fingerprint. Deleting a missing file is
// not an error.
func (s *Storage) Delete(fingerprint string) error {
	if fingerprint == "" {
		return fmt.Errorf("fingerprint cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(fingerprint)); err != nil {
		if os.IsNotExist(err) {
			// Already deleted, not an error.
			return nil
		}
		return fmt.Errorf("failed to delete audio file: %w", err)
	}
	return nil
}

// Path returns the full filesystem path for a fingerprint's audio.
func (s *Storage) Path(fingerprint string) string {
	return filepath.Join(s.basePath, fmt.Sprintf("%s.wav", fingerprint))
}
