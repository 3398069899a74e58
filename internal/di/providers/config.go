// Package providers contains dependency injection providers for the ReadAloud server.
package providers

import (
	"log/slog"
	"time"

	"github.com/samber/do/v2"

	"github.com/readaloudapp/readaloud-server/internal/config"
	"github.com/readaloudapp/readaloud-server/internal/logger"
)

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown of services.
	shutdownTimeout = 30 * time.Second
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*slog.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting ReadAloud Server",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"storage_path", cfg.Storage.BasePath,
	)

	return log, nil
}
