// Package id generates prefixed NanoID identifiers.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Well-known prefixes. Cache entries are addressed by content fingerprint
// and never get a generated ID.
const (
	PrefixChapter = "chap"
	PrefixJob     = "job"
)

// Generate creates a prefixed unique ID using NanoID.
// Format: prefix-nanoid (e.g., "chap-V1StGXR8_Z5jdHi6B-myT").
//
// Returns an error if the system has insufficient entropy for secure random generation.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
// Use only during initialization, where failure should crash the program.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}
