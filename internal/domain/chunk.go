// Package domain contains the core types for the ReadAloud narration server.
package domain

// Chunk is a contiguous slice of one chapter's text selected for independent
// speech synthesis. Chunks are a derived view: they are recomputed from
// chapter text plus chunking parameters every time a chapter's chunk list is
// requested and are never persisted.
type Chunk struct {
	// Index is the 0-based position within the chapter's chunk sequence.
	Index int `json:"index"`

	// Text is the slice content. Chunk boundaries never split inside a word.
	Text string `json:"text"`

	// StartPosition and EndPosition are character offsets in the global
	// document coordinate space spanning all chapters. They are assigned
	// relative to the global starting offset handed to the chunker by the
	// ingestion pipeline.
	StartPosition int `json:"start_position"`
	EndPosition   int `json:"end_position"`

	// WordCount is the whitespace-delimited word count of Text.
	WordCount int `json:"word_count"`

	// Hash is a short deterministic digest of Text, used for internal chunk
	// identity only. Cache addressing uses the full fingerprint instead.
	Hash string `json:"hash"`
}

// Length returns the character length of the chunk text.
func (c *Chunk) Length() int {
	return len(c.Text)
}
