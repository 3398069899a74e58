// Package chunker splits chapter text into bounded-size chunks suitable for
// speech synthesis while preserving natural paragraph and sentence
// boundaries. Splitting is pure computation with no I/O and is safe for any
// number of concurrent callers.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/readaloudapp/readaloud-server/internal/domain"
)

// Default chunking parameters, in characters.
const (
	DefaultTargetSize = 800
	DefaultMaxSize    = 1200
	DefaultMinSize    = 400
)

// paragraphSep matches blank-line boundaries. The `\s*` between the newlines
// also swallows the carriage returns of Windows line endings.
var paragraphSep = regexp.MustCompile(`\n\s*\n`)

// sentenceEnd matches a sentence terminator followed by whitespace.
var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// Params controls chunk sizing.
type Params struct {
	// TargetSize is the preferred chunk length. Paragraphs are accumulated
	// greedily until adding the next one would exceed it.
	TargetSize int

	// MaxSize is the hard ceiling. Paragraphs longer than MaxSize are split
	// on sentence boundaries; only a single run-on sentence longer than
	// MaxSize may produce an oversized chunk.
	MaxSize int

	// MinSize is an informational floor. Chunks shorter than MinSize are
	// allowed (a chapter's trailing paragraph often is).
	MinSize int
}

// DefaultParams returns the standard chunk sizing.
func DefaultParams() Params {
	return Params{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
		MinSize:    DefaultMinSize,
	}
}

// Validate rejects unusable sizings. A MaxSize smaller than a single word
// cannot be honored at runtime, so bounds are checked at construction.
func (p Params) Validate() error {
	if p.TargetSize <= 0 {
		return fmt.Errorf("target size must be positive, got %d", p.TargetSize)
	}
	if p.MaxSize <= 0 {
		return fmt.Errorf("max size must be positive, got %d", p.MaxSize)
	}
	if p.MinSize < 0 {
		return fmt.Errorf("min size must not be negative, got %d", p.MinSize)
	}
	if p.MaxSize < p.TargetSize {
		return fmt.Errorf("max size %d must be >= target size %d", p.MaxSize, p.TargetSize)
	}
	if p.MinSize > p.TargetSize {
		return fmt.Errorf("min size %d must be <= target size %d", p.MinSize, p.TargetSize)
	}
	return nil
}

// Chunker splits chapter text using a fixed set of params.
type Chunker struct {
	params Params
}

// New creates a Chunker, validating params up front.
func New(params Params) (*Chunker, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunking params: %w", err)
	}
	return &Chunker{params: params}, nil
}

// Params returns the chunker's sizing parameters.
func (c *Chunker) Params() Params {
	return c.params
}

// Split produces an ordered, gap-free, non-overlapping sequence of chunks
// covering text. globalStart is the chapter's starting offset in the global
// document coordinate space; every chunk records global offsets relative to
// it. Empty input yields an empty list.
//
// Every chunk is an exact substring of text: for any chunk,
// text[StartPosition-globalStart : EndPosition-globalStart] == Text. Position
// mapping pivots on these offsets, so they are taken from real indices into
// the input rather than reconstructed from joined paragraph lengths.
func (c *Chunker) Split(text string, globalStart int) []domain.Chunk {
	if text == "" {
		return nil
	}

	var chunks []domain.Chunk

	emit := func(sp span) {
		chunks = append(chunks, c.makeChunk(len(chunks), text[sp.start:sp.end], globalStart+sp.start))
	}

	// pending is the span of paragraphs accumulated for the current chunk,
	// including whatever separator characters sit between them.
	pending := span{-1, -1}

	flush := func() {
		if pending.start < 0 {
			return
		}
		emit(pending)
		pending = span{-1, -1}
	}

	for _, para := range paragraphSpans(text) {
		if para.end-para.start > c.params.MaxSize {
			// Oversized paragraph: close the pending chunk and pack the
			// paragraph's sentences under the MaxSize ceiling.
			flush()
			for _, piece := range packSentenceSpans(text, para, c.params.MaxSize) {
				emit(piece)
			}
			continue
		}

		if pending.start >= 0 && para.end-pending.start > c.params.TargetSize {
			flush()
		}
		if pending.start < 0 {
			pending.start = para.start
		}
		pending.end = para.end
	}
	flush()

	return chunks
}

// makeChunk fills in derived fields for one emitted chunk.
func (c *Chunker) makeChunk(index int, text string, start int) domain.Chunk {
	return domain.Chunk{
		Index:         index,
		Text:          text,
		StartPosition: start,
		EndPosition:   start + len(text),
		WordCount:     countWords(text),
		Hash:          HashText(text),
	}
}

// span is a half-open [start, end) byte range into the input text.
type span struct {
	start, end int
}

// paragraphSpans locates paragraphs as trimmed index ranges between
// blank-line boundaries, dropping empty ones. Text with no blank lines is
// one paragraph.
func paragraphSpans(text string) []span {
	seps := paragraphSep.FindAllStringIndex(text, -1)

	spans := make([]span, 0, len(seps)+1)
	start := 0
	for _, sep := range seps {
		spans = appendTrimmed(spans, text, start, sep[0])
		start = sep[1]
	}
	return appendTrimmed(spans, text, start, len(text))
}

// packSentenceSpans splits an oversized paragraph on sentence boundaries and
// greedily packs the sentences into pieces no longer than maxSize. A single
// sentence longer than maxSize becomes its own oversized piece rather than
// being dropped.
func packSentenceSpans(text string, para span, maxSize int) []span {
	sentences := sentenceSpans(text, para)

	var pieces []span
	current := span{-1, -1}

	for _, s := range sentences {
		if current.start >= 0 && s.end-current.start > maxSize {
			pieces = append(pieces, current)
			current = span{-1, -1}
		}
		if current.start < 0 {
			current.start = s.start
		}
		current.end = s.end
	}
	if current.start >= 0 {
		pieces = append(pieces, current)
	}

	return pieces
}

// sentenceSpans breaks a paragraph into trimmed index ranges on `. ! ?`
// boundaries, keeping the terminator with its sentence.
func sentenceSpans(text string, para span) []span {
	seg := text[para.start:para.end]
	marks := sentenceEnd.FindAllStringSubmatchIndex(seg, -1)

	spans := make([]span, 0, len(marks)+1)
	start := para.start
	for _, m := range marks {
		// m[3] ends the terminator capture; m[1] ends the trailing whitespace.
		spans = appendTrimmed(spans, text, start, para.start+m[3])
		start = para.start + m[1]
	}
	return appendTrimmed(spans, text, start, para.end)
}

// appendTrimmed narrows [start, end) past surrounding whitespace and appends
// it unless nothing remains.
func appendTrimmed(spans []span, text string, start, end int) []span {
	seg := text[start:end]
	start += len(seg) - len(strings.TrimLeftFunc(seg, unicode.IsSpace))
	end -= len(seg) - len(strings.TrimRightFunc(seg, unicode.IsSpace))
	if end > start {
		spans = append(spans, span{start, end})
	}
	return spans
}

// countWords counts non-empty whitespace-delimited tokens.
func countWords(text string) int {
	return len(strings.Fields(text))
}

// HashText returns a short deterministic digest of chunk text, used for
// chunk identity. 12 hex characters is plenty for intra-chapter uniqueness.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:12]
}
