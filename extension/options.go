package extension

import (
	"time"

	"github.com/xraph/barre"
	"github.com/xraph/barre/plugin"
	"github.com/xraph/barre/provider"
	"github.com/xraph/barre/store"
)

// Option configures the Barre Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a barre.Option through to the underlying engine.
func WithEngineOption(opt barre.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a barre plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, barre.WithPlugin(p))
	}
}

// WithProvider registers an accounting provider.
func WithProvider(p provider.Provider) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, barre.WithProvider(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithCurrency sets the studio billing currency.
func WithCurrency(currency string) Option {
	return func(e *Extension) { e.config.Currency = currency }
}

// WithSyncWorkers sets the sync run concurrency.
func WithSyncWorkers(n int) Option {
	return func(e *Extension) { e.config.SyncWorkers = n }
}

// WithProviderTimeout sets the per-call provider deadline.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.ProviderTimeout = d }
}

// WithPendingLease sets how long a claimed sync record stays owned.
func WithPendingLease(d time.Duration) Option {
	return func(e *Extension) { e.config.PendingLease = d }
}

// WithMaxRetries caps automatic retries of failed sync records.
func WithMaxRetries(n int) Option {
	return func(e *Extension) { e.config.MaxRetries = n }
}
