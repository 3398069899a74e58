// Package synthesis provides the client for the Kokoro TTS backend.
// The backend is treated as an opaque service: it accepts text plus voice
// and settings and returns audio bytes with a measured duration.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/readaloudapp/readaloud-server/internal/domain"
	"github.com/readaloudapp/readaloud-server/internal/errors"
)

// Response headers set by the Kokoro service.
const (
	headerAudioDuration = "X-Audio-Duration"
	headerSampleRate    = "X-Sample-Rate"
)

// Result is the outcome of one synthesis call.
type Result struct {
	AudioBytes      []byte
	DurationSeconds float64
	Format          string
	SampleRate      int
}

// Synthesizer is the interface the audio cache depends on. The HTTP client
// implements it against the Kokoro backend; tests substitute a mock.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, settings domain.SynthesisSettings) (*Result, error)
	Voices(ctx context.Context) ([]string, error)
}

// Client talks to the Kokoro TTS HTTP service.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// Options configures the client.
type Options struct {
	// BaseURL of the Kokoro service, e.g. http://localhost:5000.
	BaseURL string

	// Timeout per synthesis request. Synthesis of a full chunk can take
	// several seconds on CPU-only hosts.
	Timeout time.Duration

	// RequestsPerSecond caps the request rate against the backend. Zero
	// disables rate limiting.
	RequestsPerSecond float64
}

// NewClient creates a Kokoro TTS client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 2)
	}

	return &Client{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		rateLimiter: limiter,
		logger:      logger,
	}
}

// synthesizeRequest is the JSON body for POST /synthesize.
type synthesizeRequest struct {
	Text        string  `json:"text"`
	Voice       string  `json:"voice"`
	Speed       float64 `json:"speed"`
	Temperature float64 `json:"temperature"`
}

// errorResponse is the backend's JSON error shape.
type errorResponse struct {
	Error string `json:"error"`
}

// Synthesize sends text to the backend and returns WAV bytes plus the
// measured duration. Failures surface as SYNTHESIS_FAILED domain errors.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string, settings domain.SynthesisSettings) (*Result, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CodeSynthesisFailed, "rate limit wait")
	}

	settings = settings.WithDefaults()
	if voiceID == "" {
		voiceID = domain.DefaultVoiceID
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:        text,
		Voice:       voiceID,
		Speed:       settings.Speed,
		Temperature: settings.Temperature,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSynthesisFailed, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSynthesisFailed, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSynthesisFailed, "synthesis backend unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if decodeErr := json.UnmarshalRead(resp.Body, &errResp); decodeErr == nil && errResp.Error != "" {
			return nil, errors.SynthesisFailedf("backend rejected request: %s", errResp.Error)
		}
		return nil, errors.SynthesisFailedf("backend returned status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSynthesisFailed, "read audio body")
	}
	if len(audio) == 0 {
		return nil, errors.SynthesisFailed("backend returned empty audio")
	}

	duration, err := strconv.ParseFloat(resp.Header.Get(headerAudioDuration), 64)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeSynthesisFailed,
			"invalid %s header %q", headerAudioDuration, resp.Header.Get(headerAudioDuration))
	}

	sampleRate := 0
	if sr := resp.Header.Get(headerSampleRate); sr != "" {
		sampleRate, _ = strconv.Atoi(sr)
	}

	c.logger.Debug("synthesized audio",
		"voice", voiceID,
		"text_len", len(text),
		"audio_bytes", len(audio),
		"duration_s", duration,
		"elapsed", time.Since(start),
	)

	return &Result{
		AudioBytes:      audio,
		DurationSeconds: duration,
		Format:          "wav",
		SampleRate:      sampleRate,
	}, nil
}

// voicesResponse is the JSON body of GET /voices.
type voicesResponse struct {
	Voices  []string `json:"voices"`
	Default string   `json:"default"`
}

// Voices returns the voice ids offered by the backend. When the backend is
// unreachable the static Kokoro voice list is returned so the reading
// surface can still present choices.
func (c *Client) Voices(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("voices endpoint unreachable, using static list", "error", err)
		return domain.KokoroVoices, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("voices endpoint returned error, using static list", "status", resp.StatusCode)
		return domain.KokoroVoices, nil
	}

	var vr voicesResponse
	if err := json.UnmarshalRead(resp.Body, &vr); err != nil {
		return nil, fmt.Errorf("parse voices response: %w", err)
	}
	return vr.Voices, nil
}

// Healthy probes the backend's health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
