// Package di provides dependency injection configuration for the ReadAloud server.
package di

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/readaloudapp/readaloud-server/internal/chunker"
	"github.com/readaloudapp/readaloud-server/internal/config"
	"github.com/readaloudapp/readaloud-server/internal/di/providers"
	"github.com/readaloudapp/readaloud-server/internal/media/audio"
	"github.com/readaloudapp/readaloud-server/internal/service"
	"github.com/readaloudapp/readaloud-server/internal/synthesis"
	"github.com/readaloudapp/readaloud-server/internal/validation"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideAudioStorage)

	// Domain components
	do.Provide(injector, providers.ProvideChunker)
	do.Provide(injector, providers.ProvideSynthesizer)
	do.Provide(injector, providers.ProvideValidator)

	// Business services
	do.Provide(injector, providers.ProvideCacheService)
	do.Provide(injector, providers.ProvideNarrationService)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle
// management. This triggers lazy initialization of every provider.
func Bootstrap(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*slog.Logger](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*audio.Storage](injector)
	_ = do.MustInvoke[*chunker.Chunker](injector)
	_ = do.MustInvoke[synthesis.Synthesizer](injector)
	_ = do.MustInvoke[*validation.Validator](injector)
	_ = do.MustInvoke[*providers.CacheServiceHandle](injector)
	_ = do.MustInvoke[*service.NarrationService](injector)
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}
