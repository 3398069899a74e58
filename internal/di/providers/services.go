package providers

import (
	"log/slog"
	"time"

	"github.com/samber/do/v2"

	"github.com/readaloudapp/readaloud-server/internal/chunker"
	"github.com/readaloudapp/readaloud-server/internal/config"
	"github.com/readaloudapp/readaloud-server/internal/media/audio"
	"github.com/readaloudapp/readaloud-server/internal/service"
	"github.com/readaloudapp/readaloud-server/internal/synthesis"
	"github.com/readaloudapp/readaloud-server/internal/validation"
)

// ProvideChunker provides the text chunker.
func ProvideChunker(i do.Injector) (*chunker.Chunker, error) {
	cfg := do.MustInvoke[*config.Config](i)

	return chunker.New(chunker.Params{
		TargetSize: cfg.Chunking.TargetSize,
		MaxSize:    cfg.Chunking.MaxSize,
		MinSize:    cfg.Chunking.MinSize,
	})
}

// ProvideSynthesizer provides the Kokoro synthesis client.
func ProvideSynthesizer(i do.Injector) (synthesis.Synthesizer, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)

	client := synthesis.NewClient(synthesis.Options{
		BaseURL:           cfg.Synthesis.EngineURL,
		Timeout:           cfg.Synthesis.Timeout,
		RequestsPerSecond: cfg.Synthesis.RequestsPerSecond,
	}, log)

	return client, nil
}

// ProvideValidator provides the request validator.
func ProvideValidator(i do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// CacheServiceHandle wraps the cache service for worker lifecycle management.
type CacheServiceHandle struct {
	*service.AudioCacheService
}

// Shutdown implements do.Shutdownable.
func (h *CacheServiceHandle) Shutdown() error {
	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(shutdownTimeout):
		return nil
	}
}

// ProvideCacheService provides the audio cache service.
func ProvideCacheService(i do.Injector) (*CacheServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	audioStorage := do.MustInvoke[*audio.Storage](i)
	synth := do.MustInvoke[synthesis.Synthesizer](i)

	svc := service.NewAudioCacheService(
		storeHandle.Store,
		audioStorage,
		synth,
		cfg.Cache,
		cfg.Synthesis.Workers,
		log,
	)

	log.Info("Audio cache service ready",
		"max_bytes", cfg.Cache.MaxBytes,
		"workers", cfg.Synthesis.Workers,
	)

	return &CacheServiceHandle{AudioCacheService: svc}, nil
}

// ProvideNarrationService provides the narration composition service.
func ProvideNarrationService(i do.Injector) (*service.NarrationService, error) {
	log := do.MustInvoke[*slog.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	cacheHandle := do.MustInvoke[*CacheServiceHandle](i)
	ch := do.MustInvoke[*chunker.Chunker](i)

	return service.NewNarrationService(ch, cacheHandle.AudioCacheService, storeHandle.Store, log), nil
}
