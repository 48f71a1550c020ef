package extension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{SyncWorkers: 8, Currency: "EUR"})

	assert.Equal(t, 8, cfg.SyncWorkers)
	assert.Equal(t, "EUR", cfg.Currency)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 15*time.Minute, cfg.PendingLease)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestMergeConfigurations(t *testing.T) {
	file := Config{Currency: "CAD", PendingLease: time.Hour}
	prog := Config{Currency: "USD", SyncWorkers: 2, DisableMigrate: true}

	cfg := mergeConfigurations(file, prog)

	assert.Equal(t, "CAD", cfg.Currency, "file value wins")
	assert.Equal(t, 2, cfg.SyncWorkers, "programmatic value fills the gap")
	assert.Equal(t, time.Hour, cfg.PendingLease)
	assert.True(t, cfg.DisableMigrate)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
}

func TestBuildEngineOpts(t *testing.T) {
	e := New(WithCurrency("EUR"), WithDisableMigrate())
	e.config = mergeWithDefaults(e.config)

	opts := e.buildEngineOpts()
	assert.Len(t, opts, 6)
}
