package api

import (
	"bytes"
	"encoding/json/v2"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readaloudapp/readaloud-server/internal/chunker"
	"github.com/readaloudapp/readaloud-server/internal/config"
	"github.com/readaloudapp/readaloud-server/internal/http/response"
	"github.com/readaloudapp/readaloud-server/internal/media/audio"
	"github.com/readaloudapp/readaloud-server/internal/service"
	"github.com/readaloudapp/readaloud-server/internal/store"
	"github.com/readaloudapp/readaloud-server/internal/synthesis"
	"github.com/readaloudapp/readaloud-server/internal/validation"
)

func setupTestServer(t *testing.T, mock *synthesis.Mock) *Server {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	st, err := store.New(filepath.Join(t.TempDir(), "meta"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	audioStorage, err := audio.NewStorage(t.TempDir())
	require.NoError(t, err)

	cache := service.NewAudioCacheService(st, audioStorage, mock, config.CacheConfig{MaxBytes: 1 << 30}, 2, logger)
	t.Cleanup(cache.Stop)

	ch, err := chunker.New(chunker.Params{TargetSize: 8, MaxSize: 40, MinSize: 0})
	require.NoError(t, err)

	narration := service.NewNarrationService(ch, cache, st, logger)

	return NewServer(st, cache, narration, mock, validation.New(), logger)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))

	data, ok := env.Data.(map[string]any)
	require.True(t, ok, "data should be an object: %s", rec.Body.String())
	return data
}

func TestHealthCheck(t *testing.T) {
	srv := setupTestServer(t, &synthesis.Mock{})

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, "healthy", data["status"])
}

func TestListVoices(t *testing.T) {
	srv := setupTestServer(t, &synthesis.Mock{})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/voices", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, "af_bella", data["default"])
	voices, ok := data["voices"].([]any)
	require.True(t, ok)
	assert.Contains(t, voices, "af_bella")
}

func TestChunkChapter(t *testing.T) {
	srv := setupTestServer(t, &synthesis.Mock{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/narration/chunks", map[string]any{
		"text": "First.\n\nSecond.\n\nThird.",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.EqualValues(t, 3, data["count"])
}

func TestChunkChapter_MissingText(t *testing.T) {
	srv := setupTestServer(t, &synthesis.Mock{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/narration/chunks", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION", env.Error.Code)
}

func TestGenerateChunkAndStream(t *testing.T) {
	srv := setupTestServer(t, &synthesis.Mock{BytesPerCall: 1000, DurationSeconds: 3.0})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/narration/chunk", map[string]any{
		"chapter_id":     "chap-1",
		"text":           "Hello there.",
		"start_position": 0,
		"end_position":   12,
		"voice":          "af_bella",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	entryID, ok := data["id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, entryID)
	assert.EqualValues(t, 1000, data["size_bytes"])

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/narration/audio/"+entryID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "3", rec.Header().Get("X-Audio-Duration"))
	assert.Len(t, rec.Body.Bytes(), 1000)
}

func TestStreamAudio_NotFound(t *testing.T) {
	srv := setupTestServer(t, &synthesis.Mock{})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/narration/audio/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestGenerateChunk_UnknownVoice(t *testing.T) {
	srv := setupTestServer(t, &synthesis.Mock{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/narration/chunk", map[string]any{
		"chapter_id":     "chap-1",
		"text":           "Hello.",
		"start_position": 0,
		"end_position":   6,
		"voice":          "robot_9000",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateChapter(t *testing.T) {
	srv := setupTestServer(t, &synthesis.Mock{DurationSeconds: 3.0})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/narration/chapters/chap-1", map[string]any{
		"text": "First.\n\nSecond.\n\nThird.",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, "chap-1", data["chapter_id"])
	assert.EqualValues(t, 3, data["chunk_count"])
	assert.Contains(t, data["job_id"], "job-")

	ready, ok := data["ready"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, ready)
}

func TestPositionRoundTripOverHTTP(t *testing.T) {
	srv := setupTestServer(t, &synthesis.Mock{DurationSeconds: 3.0})
	text := "First.\n\nSecond.\n\nThird."

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/narration/position/to-audio", map[string]any{
		"chapter_id":     "chap-1",
		"text":           text,
		"scroll_percent": 50,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	require.Equal(t, true, data["matched"])

	pos, ok := data["position"].(map[string]any)
	require.True(t, ok)
	chunkID, _ := pos["chunk_id"].(string)
	require.NotEmpty(t, chunkID)
	timestamp, _ := pos["timestamp_seconds"].(float64)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/narration/position/to-reading", map[string]any{
		"chapter_id":        "chap-1",
		"text":              text,
		"chunk_id":          chunkID,
		"timestamp_seconds": timestamp,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data = decodeData(t, rec)
	percent, ok := data["scroll_percent"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 50, percent, 5)
}

func TestToAudioPosition_EmptyChapterNoMatch(t *testing.T) {
	srv := setupTestServer(t, &synthesis.Mock{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/narration/position/to-audio", map[string]any{
		"chapter_id":     "chap-1",
		"text":           " ",
		"scroll_percent": 50,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, false, data["matched"])
}

func TestCacheStatsAndClear(t *testing.T) {
	srv := setupTestServer(t, &synthesis.Mock{BytesPerCall: 1000})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/narration/chunk", map[string]any{
		"chapter_id":     "chap-1",
		"text":           "Hello.",
		"start_position": 0,
		"end_position":   6,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.EqualValues(t, 1, data["entry_count"])
	assert.EqualValues(t, 1000, data["total_bytes"])

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/cache/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.EqualValues(t, 1, data["removed"])

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/cache/stats", nil)
	data = decodeData(t, rec)
	assert.EqualValues(t, 0, data["entry_count"])
}
