package barre

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/barre/plugin"
	"github.com/xraph/barre/provider"
	"github.com/xraph/barre/store"
	"github.com/xraph/barre/types"
)

// Defaults for the sync engine and ledger writes.
const (
	DefaultSyncWorkers     = 4
	DefaultProviderTimeout = 30 * time.Second
	DefaultPendingLease    = 15 * time.Minute
	DefaultMaxRetries      = 5
	DefaultAppendRetries   = 8
	DefaultSyncLimit       = 100
)

// Engine is the studio ledger and accounting sync core.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   func() time.Time

	mu         sync.RWMutex
	providers  map[string]provider.Provider
	authorizer provider.Authorizer

	// Configuration
	currency        string
	syncWorkers     int
	providerTimeout time.Duration
	pendingLease    time.Duration
	maxRetries      int
	appendRetries   uint
	skipMigrate     bool
}

// New creates a new Engine over s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		tracer:          otel.Tracer("barre/sync"),
		clock:           func() time.Time { return time.Now().UTC() },
		providers:       make(map[string]provider.Provider),
		currency:        types.DefaultCurrency,
		syncWorkers:     DefaultSyncWorkers,
		providerTimeout: DefaultProviderTimeout,
		pendingLease:    DefaultPendingLease,
		maxRetries:      DefaultMaxRetries,
		appendRetries:   DefaultAppendRetries,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithProvider registers an accounting provider under its Name.
func WithProvider(p provider.Provider) Option {
	return func(e *Engine) { e.providers[strings.ToLower(p.Name())] = p }
}

// WithAuthorizer sets the OAuth collaborator used by Connect.
func WithAuthorizer(a provider.Authorizer) Option {
	return func(e *Engine) { e.authorizer = a }
}

// WithCurrency sets the studio billing currency.
func WithCurrency(currency string) Option {
	return func(e *Engine) { e.currency = types.Zero(currency).Currency }
}

// WithSyncWorkers bounds how many transactions one sync run pushes at once.
func WithSyncWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.syncWorkers = n
		}
	}
}

// WithProviderTimeout sets the default per-call provider timeout.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.providerTimeout = d
		}
	}
}

// WithPendingLease sets how long a pending sync record is owned by the run
// that claimed it before another run may reclaim it.
func WithPendingLease(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pendingLease = d
		}
	}
}

// WithMaxRetries caps automatic retries of failed sync records.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithAppendRetries caps retries of a ledger write that lost a race.
func WithAppendRetries(n uint) Option {
	return func(e *Engine) {
		if n > 0 {
			e.appendRetries = n
		}
	}
}

// WithoutMigrate makes Start leave the store schema alone.
func WithoutMigrate() Option {
	return func(e *Engine) { e.skipMigrate = true }
}

// WithTracer sets the tracer used for sync spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// Start migrates the store, picks up provider plugins and initializes
// plugins. The engine runs no background work.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("barre: migrate: %w", err)
		}
	}

	e.mu.Lock()
	for _, p := range e.plugins.AccountingProviders() {
		prov := p.Provider()
		name := strings.ToLower(prov.Name())
		if _, exists := e.providers[name]; !exists {
			e.providers[name] = prov
		}
	}
	e.mu.Unlock()

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("barre started",
		"currency", e.currency,
		"providers", e.ProviderNames(),
		"sync_workers", e.syncWorkers,
		"provider_timeout", e.providerTimeout,
		"pending_lease", e.pendingLease,
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Currency returns the engine's billing currency.
func (e *Engine) Currency() string { return e.currency }

// RegisterProvider adds or replaces an accounting provider at runtime.
func (e *Engine) RegisterProvider(p provider.Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providers[strings.ToLower(p.Name())] = p
}

// ProviderNames lists registered providers in name order.
func (e *Engine) ProviderNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.providers))
	for name := range e.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) provider(name string) (provider.Provider, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

func (e *Engine) now() time.Time { return e.clock().UTC() }
