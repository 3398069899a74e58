package store

import (
	"fmt"
	"strings"
	"time"
)

const (
	entryPrefix    = "entry:"
	accessedPrefix = "entry:idx:accessed:"
	chapterPrefix  = "entry:idx:chapter:"
)

// entryKey builds the primary key for a fingerprint.
func entryKey(fingerprint string) []byte {
	return []byte(entryPrefix + fingerprint)
}

// accessedIndexKey creates the last-accessed index key with a sortable
// timestamp. Zero-padded nanoseconds keep lexicographic ordering identical
// to chronological ordering, which is what the eviction scan iterates.
// Format: entry:idx:accessed:{YYYY-MM-DDTHH:MM:SS.NNNNNNNNNZ}:{fingerprint}.
func accessedIndexKey(accessedAt time.Time, fingerprint string) []byte {
	return fmt.Appendf(nil, "%s%s:%s", accessedPrefix, sortableTimestamp(accessedAt), fingerprint)
}

// chapterIndexKey creates the per-chapter index key.
func chapterIndexKey(chapterID, fingerprint string) []byte {
	return fmt.Appendf(nil, "%s%s:%s", chapterPrefix, chapterID, fingerprint)
}

// sortableTimestamp renders a timestamp with fixed-width nanoseconds (always
// 9 digits) so keys sort correctly as bytes.
func sortableTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05") + fmt.Sprintf(".%09d", t.Nanosecond()) + "Z"
}

// fingerprintFromAccessedKey extracts the fingerprint from a last-accessed
// index key.
func fingerprintFromAccessedKey(key []byte) (string, error) {
	keyStr := string(key)
	if !strings.HasPrefix(keyStr, accessedPrefix) {
		return "", fmt.Errorf("invalid accessed index key: missing prefix in %s", keyStr)
	}

	remainder := strings.TrimPrefix(keyStr, accessedPrefix)

	// The timestamp is fixed width: 2006-01-02T15:04:05.NNNNNNNNNZ = 30
	// characters, followed by a colon and the fingerprint.
	const timestampLen = 30
	if len(remainder) < timestampLen+2 {
		return "", fmt.Errorf("invalid accessed index key format: %s", keyStr)
	}

	return remainder[timestampLen+1:], nil
}
