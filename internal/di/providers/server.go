package providers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/readaloudapp/readaloud-server/internal/api"
	"github.com/readaloudapp/readaloud-server/internal/config"
	"github.com/readaloudapp/readaloud-server/internal/service"
	"github.com/readaloudapp/readaloud-server/internal/synthesis"
	"github.com/readaloudapp/readaloud-server/internal/validation"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	cacheHandle := do.MustInvoke[*CacheServiceHandle](i)
	narration := do.MustInvoke[*service.NarrationService](i)
	synth := do.MustInvoke[synthesis.Synthesizer](i)
	validator := do.MustInvoke[*validation.Validator](i)

	handler := api.NewServer(
		storeHandle.Store,
		cacheHandle.AudioCacheService,
		narration,
		synth,
		validator,
		log,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
