package extension

import "time"

// Config holds the Barre extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.barre" or "barre" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Currency is the studio billing currency (default: "usd").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// SyncWorkers bounds how many transactions one sync run pushes at once
	// (default: 4).
	SyncWorkers int `json:"sync_workers" mapstructure:"sync_workers" yaml:"sync_workers"`

	// ProviderTimeout is the per-call deadline for accounting provider
	// requests (default: 30s).
	ProviderTimeout time.Duration `json:"provider_timeout" mapstructure:"provider_timeout" yaml:"provider_timeout"`

	// PendingLease is how long a claimed sync record belongs to the run that
	// claimed it before another run may take it over (default: 15m).
	PendingLease time.Duration `json:"pending_lease" mapstructure:"pending_lease" yaml:"pending_lease"`

	// MaxRetries caps automatic retries of failed sync records (default: 5).
	MaxRetries int `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Currency:        "usd",
		SyncWorkers:     4,
		ProviderTimeout: 30 * time.Second,
		PendingLease:    15 * time.Minute,
		MaxRetries:      5,
	}
}
