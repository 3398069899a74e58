package providers

import (
	"log/slog"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/readaloudapp/readaloud-server/internal/config"
	"github.com/readaloudapp/readaloud-server/internal/media/audio"
	"github.com/readaloudapp/readaloud-server/internal/store"
)

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the cache metadata store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)

	dbPath := filepath.Join(cfg.Storage.BasePath, "db")
	db, err := store.New(dbPath, log)
	if err != nil {
		return nil, err
	}

	log.Info("Metadata database initialized", "path", dbPath)

	return &StoreHandle{Store: db}, nil
}

// ProvideAudioStorage provides the durable audio byte storage.
func ProvideAudioStorage(i do.Injector) (*audio.Storage, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)

	storage, err := audio.NewStorage(cfg.Storage.BasePath)
	if err != nil {
		return nil, err
	}

	log.Info("Audio storage initialized", "path", cfg.Storage.BasePath)

	return storage, nil
}
