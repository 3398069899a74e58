// Package fingerprint derives deterministic cache keys for synthesized
// audio. Two requests with identical text, voice, and settings always map to
// the same key, independent of process, time, or chunk index.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/readaloudapp/readaloud-server/internal/domain"
)

// Compute returns the cache key for one synthesis unit: a sha256 digest over
// a canonical serialization of {text, voice, settings}. Settings are
// defaulted before hashing, so omitting a field and passing its documented
// default produce the same key.
func Compute(text, voiceID string, settings domain.SynthesisSettings) string {
	settings = settings.WithDefaults()

	// Field lengths are encoded alongside the values so that no two distinct
	// triples serialize to the same byte stream.
	canonical := fmt.Sprintf("text:%d:%s|voice:%d:%s|speed:%s|temperature:%s",
		len(text), text,
		len(voiceID), voiceID,
		formatSetting(settings.Speed),
		formatSetting(settings.Temperature),
	)

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// formatSetting renders a float with the shortest exact representation, so
// 1.0 and 1 hash identically.
func formatSetting(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
