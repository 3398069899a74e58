package synthesis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/readaloudapp/readaloud-server/internal/domain"
)

// Mock is an in-memory Synthesizer for tests. It fabricates audio whose byte
// length and duration scale with the input text, and counts calls so tests
// can assert that cache hits trigger no synthesis.
type Mock struct {
	// DurationSeconds is returned for every call when non-zero; otherwise
	// duration is derived from the text length.
	DurationSeconds float64

	// BytesPerCall fixes the audio size when non-zero.
	BytesPerCall int

	// Err, when set, is returned by every Synthesize call.
	Err error

	// Delay makes every Synthesize call block, to widen race windows in
	// concurrency tests.
	Delay time.Duration

	calls atomic.Int64

	mu    sync.Mutex
	texts []string
}

// Synthesize implements Synthesizer.
func (m *Mock) Synthesize(_ context.Context, text, _ string, _ domain.SynthesisSettings) (*Result, error) {
	m.calls.Add(1)

	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	if m.Err != nil {
		return nil, m.Err
	}

	size := m.BytesPerCall
	if size == 0 {
		size = len(text) * 100
	}

	duration := m.DurationSeconds
	if duration == 0 {
		duration = float64(len(text)) / 20.0
	}

	return &Result{
		AudioBytes:      make([]byte, size),
		DurationSeconds: duration,
		Format:          "wav",
		SampleRate:      24000,
	}, nil
}

// Voices implements Synthesizer.
func (m *Mock) Voices(context.Context) ([]string, error) {
	return domain.KokoroVoices, nil
}

// Calls returns how many Synthesize calls were made.
func (m *Mock) Calls() int64 {
	return m.calls.Load()
}

// Texts returns the texts synthesized so far, in call order.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}
