package api

import (
	"bytes"
	"encoding/json/v2"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/readaloudapp/readaloud-server/internal/domain"
	"github.com/readaloudapp/readaloud-server/internal/http/response"
	"github.com/readaloudapp/readaloud-server/internal/id"
)

// ChunkChapterRequest represents the request body for chunking a chapter.
type ChunkChapterRequest struct {
	Text        string `json:"text" validate:"required"`
	GlobalStart int    `json:"global_start" validate:"gte=0"`
}

// GenerateChapterRequest represents the request body for chapter audio generation.
type GenerateChapterRequest struct {
	Text        string  `json:"text" validate:"required"`
	GlobalStart int     `json:"global_start" validate:"gte=0"`
	Voice       string  `json:"voice" validate:"voice"`
	Speed       float64 `json:"speed" validate:"gte=0,lte=3"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
}

// GenerateChunkRequest represents the request body for on-demand chunk generation.
type GenerateChunkRequest struct {
	ChapterID     string  `json:"chapter_id" validate:"required"`
	Text          string  `json:"text" validate:"required"`
	StartPosition int     `json:"start_position" validate:"gte=0"`
	EndPosition   int     `json:"end_position" validate:"gtfield=StartPosition"`
	Voice         string  `json:"voice" validate:"voice"`
	Speed         float64 `json:"speed" validate:"gte=0,lte=3"`
	Temperature   float64 `json:"temperature" validate:"gte=0,lte=2"`
}

// ToAudioPositionRequest converts a reading position to an audio position.
type ToAudioPositionRequest struct {
	ChapterID     string  `json:"chapter_id" validate:"required"`
	Text          string  `json:"text" validate:"required"`
	ChapterStart  int     `json:"chapter_start" validate:"gte=0"`
	ScrollPercent float64 `json:"scroll_percent" validate:"gte=0,lte=100"`
	Voice         string  `json:"voice" validate:"voice"`
	Speed         float64 `json:"speed" validate:"gte=0,lte=3"`
	Temperature   float64 `json:"temperature" validate:"gte=0,lte=2"`
}

// ToReadingPositionRequest converts an audio position to a reading position.
type ToReadingPositionRequest struct {
	ChapterID        string  `json:"chapter_id" validate:"required"`
	Text             string  `json:"text" validate:"required"`
	ChapterStart     int     `json:"chapter_start" validate:"gte=0"`
	ChunkID          string  `json:"chunk_id" validate:"required"`
	TimestampSeconds float64 `json:"timestamp_seconds" validate:"gte=0"`
}

// EntryResponse is the wire shape of a cache entry.
type EntryResponse struct {
	ID              string  `json:"id"`
	Format          string  `json:"format"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	StartPosition   int     `json:"start_position"`
	EndPosition     int     `json:"end_position"`
	ChapterID       string  `json:"chapter_id,omitempty"`
	AccessCount     int64   `json:"access_count"`
}

func entryResponse(e *domain.CacheEntry) EntryResponse {
	return EntryResponse{
		ID:              e.ID,
		Format:          e.Format,
		SizeBytes:       e.SizeBytes,
		DurationSeconds: e.DurationSeconds,
		StartPosition:   e.StartPosition,
		EndPosition:     e.EndPosition,
		ChapterID:       e.ChapterID,
		AccessCount:     e.AccessCount,
	}
}

// handleChunkChapter splits chapter text into synthesis-sized chunks without
// generating any audio.
func (s *Server) handleChunkChapter(w http.ResponseWriter, r *http.Request) {
	var req ChunkChapterRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}
	if err := s.validator.Validate(req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	chunks := s.narration.ChapterChunks(req.Text, req.GlobalStart)

	response.Success(w, map[string]any{
		"chunks": chunks,
		"count":  len(chunks),
	}, s.logger)
}

// handleGenerateChapter kicks off audio generation for a whole chapter. The
// first chunk is ready when the response returns; the rest are generated in
// the background.
func (s *Server) handleGenerateChapter(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterID")
	if chapterID == "" {
		response.BadRequest(w, "Chapter ID is required", s.logger)
		return
	}
	jobID := id.MustGenerate(id.PrefixJob)

	var req GenerateChapterRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}
	if err := s.validator.Validate(req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	chunks := s.narration.ChapterChunks(req.Text, req.GlobalStart)
	settings := domain.SynthesisSettings{Speed: req.Speed, Temperature: req.Temperature}

	s.logger.Info("chapter generation requested",
		"job_id", jobID, "chapter_id", chapterID, "chunks", len(chunks))

	entries, err := s.cache.GenerateChapterAudio(r.Context(), chapterID, chunks, req.Voice, settings)
	if err != nil {
		s.logger.Error("chapter generation failed",
			"job_id", jobID, "chapter_id", chapterID, "error", err)
		response.HandleError(w, err, s.logger)
		return
	}

	ready := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		ready = append(ready, entryResponse(e))
	}

	response.Accepted(w, map[string]any{
		"job_id":      jobID,
		"chapter_id":  chapterID,
		"chunk_count": len(chunks),
		"ready":       ready,
	}, s.logger)
}

// handleGenerateChunk synthesizes one chunk synchronously.
func (s *Server) handleGenerateChunk(w http.ResponseWriter, r *http.Request) {
	var req GenerateChunkRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}
	if err := s.validator.Validate(req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	chunk := domain.Chunk{
		Text:          req.Text,
		StartPosition: req.StartPosition,
		EndPosition:   req.EndPosition,
	}
	settings := domain.SynthesisSettings{Speed: req.Speed, Temperature: req.Temperature}

	entry, err := s.cache.GenerateChunkOnDemand(r.Context(), req.ChapterID, chunk, req.Voice, settings)
	if err != nil {
		s.logger.Error("chunk generation failed", "chapter_id", req.ChapterID, "error", err)
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, entryResponse(entry), s.logger)
}

// handleStreamAudio serves the audio bytes for a cache entry.
func (s *Server) handleStreamAudio(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")
	if entryID == "" {
		response.BadRequest(w, "Entry ID is required", s.logger)
		return
	}

	result, err := s.cache.StreamAudio(r.Context(), entryID)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Audio-Duration", fmt.Sprintf("%g", result.DurationSeconds))
	w.Header().Set("Cache-Control", "private, max-age=3600")

	http.ServeContent(w, r, entryID+".wav", time.Time{}, bytes.NewReader(result.AudioBytes))
}

// handleToAudioPosition maps a scroll percentage to the chunk and timestamp
// to resume listening at, generating the covering chunk if needed.
func (s *Server) handleToAudioPosition(w http.ResponseWriter, r *http.Request) {
	var req ToAudioPositionRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}
	if err := s.validator.Validate(req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	settings := domain.SynthesisSettings{Speed: req.Speed, Temperature: req.Temperature}

	pos, ok, err := s.narration.SwitchToListening(r.Context(), req.ChapterID, req.Text, req.ChapterStart, req.ScrollPercent, req.Voice, settings)
	if err != nil {
		s.logger.Error("position mapping failed", "chapter_id", req.ChapterID, "error", err)
		response.HandleError(w, err, s.logger)
		return
	}

	if !ok {
		response.Success(w, map[string]any{"matched": false}, s.logger)
		return
	}

	response.Success(w, map[string]any{
		"matched":  true,
		"position": pos,
	}, s.logger)
}

// handleToReadingPosition maps an audio position back to a scroll percentage.
func (s *Server) handleToReadingPosition(w http.ResponseWriter, r *http.Request) {
	var req ToReadingPositionRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}
	if err := s.validator.Validate(req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	percent, err := s.narration.SwitchToReading(r.Context(), req.ChapterID, req.Text, req.ChapterStart, req.ChunkID, req.TimestampSeconds)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, map[string]any{
		"scroll_percent": percent,
	}, s.logger)
}

// handleListVoices returns the synthesis voices, falling back to the static
// list when the engine does not answer.
func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.synth.Voices(r.Context())
	if err != nil || len(voices) == 0 {
		voices = domain.KokoroVoices
	}

	response.Success(w, map[string]any{
		"voices":  voices,
		"default": domain.DefaultVoiceID,
	}, s.logger)
}
