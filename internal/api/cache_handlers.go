package api

import (
	"net/http"

	"github.com/readaloudapp/readaloud-server/internal/http/response"
)

// handleCacheStats reports cache occupancy.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		s.logger.Error("cache stats failed", "error", err)
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, stats, s.logger)
}

// handleClearCache removes every cached entry and its audio bytes.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	removed, err := s.cache.Clear(r.Context())
	if err != nil {
		s.logger.Error("cache clear failed", "error", err)
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, map[string]int{"removed": removed}, s.logger)
}
