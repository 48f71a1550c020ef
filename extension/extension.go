// Package extension provides the Forge extension adapter for Barre.
//
// It implements the forge.Extension interface to integrate the studio
// ledger and accounting sync engine into a Forge application with DI
// registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.barre" or "barre" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/barre"
	"github.com/xraph/barre/store"
	"github.com/xraph/barre/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "barre"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Dance studio ledger with accounting sync"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Barre as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *barre.Engine
	store      store.Store
	engineOpts []barre.Option
}

// New creates a new Barre Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *barre.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.Logger().Warn("barre: no store configured, using in-memory store")
		e.store = memory.New()
	}

	e.engine = barre.New(e.store, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*barre.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("barre: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("barre: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs barre.Option values from the resolved config.
// Pass-through options come last so they win over config values.
func (e *Extension) buildEngineOpts() []barre.Option {
	opts := make([]barre.Option, 0, len(e.engineOpts)+6)

	opts = append(opts,
		barre.WithCurrency(e.config.Currency),
		barre.WithSyncWorkers(e.config.SyncWorkers),
		barre.WithProviderTimeout(e.config.ProviderTimeout),
		barre.WithPendingLease(e.config.PendingLease),
		barre.WithMaxRetries(e.config.MaxRetries),
	)
	if e.config.DisableMigrate {
		opts = append(opts, barre.WithoutMigrate())
	}

	return append(opts, e.engineOpts...)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("barre: configuration is required but not found in config files; " +
				"ensure 'extensions.barre' or 'barre' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("barre: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("currency", e.config.Currency),
		forge.F("sync_workers", e.config.SyncWorkers),
		forge.F("provider_timeout", e.config.ProviderTimeout),
		forge.F("pending_lease", e.config.PendingLease),
		forge.F("max_retries", e.config.MaxRetries),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.barre", "barre"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("barre: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("barre: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.SyncWorkers <= 0 {
		cfg.SyncWorkers = defaults.SyncWorkers
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaults.ProviderTimeout
	}
	if cfg.PendingLease <= 0 {
		cfg.PendingLease = defaults.PendingLease
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if yamlConfig.Currency == "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}
	if yamlConfig.SyncWorkers == 0 {
		yamlConfig.SyncWorkers = programmaticConfig.SyncWorkers
	}
	if yamlConfig.ProviderTimeout == 0 {
		yamlConfig.ProviderTimeout = programmaticConfig.ProviderTimeout
	}
	if yamlConfig.PendingLease == 0 {
		yamlConfig.PendingLease = programmaticConfig.PendingLease
	}
	if yamlConfig.MaxRetries == 0 {
		yamlConfig.MaxRetries = programmaticConfig.MaxRetries
	}
	return mergeWithDefaults(yamlConfig)
}
