package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/types"
)

// hookTimeout bounds every plugin call.
const hookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                   []OnInit
	onShutdown               []OnShutdown
	onChargeCreated          []OnChargeCreated
	onChargeUpdated          []OnChargeUpdated
	onEventBilled            []OnEventBilled
	onPaymentRecorded        []OnPaymentRecorded
	onConnectionActivated    []OnConnectionActivated
	onConnectionDisconnected []OnConnectionDisconnected
	onTransactionSynced      []OnTransactionSynced
	onSyncFailed             []OnSyncFailed
	onSyncSkipped            []OnSyncSkipped
	onSyncRunCompleted       []OnSyncRunCompleted
	accountingProviders      []AccountingProviderPlugin
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnChargeCreated); ok {
		r.onChargeCreated = append(r.onChargeCreated, v)
	}
	if v, ok := p.(OnChargeUpdated); ok {
		r.onChargeUpdated = append(r.onChargeUpdated, v)
	}
	if v, ok := p.(OnEventBilled); ok {
		r.onEventBilled = append(r.onEventBilled, v)
	}
	if v, ok := p.(OnPaymentRecorded); ok {
		r.onPaymentRecorded = append(r.onPaymentRecorded, v)
	}
	if v, ok := p.(OnConnectionActivated); ok {
		r.onConnectionActivated = append(r.onConnectionActivated, v)
	}
	if v, ok := p.(OnConnectionDisconnected); ok {
		r.onConnectionDisconnected = append(r.onConnectionDisconnected, v)
	}
	if v, ok := p.(OnTransactionSynced); ok {
		r.onTransactionSynced = append(r.onTransactionSynced, v)
	}
	if v, ok := p.(OnSyncFailed); ok {
		r.onSyncFailed = append(r.onSyncFailed, v)
	}
	if v, ok := p.(OnSyncSkipped); ok {
		r.onSyncSkipped = append(r.onSyncSkipped, v)
	}
	if v, ok := p.(OnSyncRunCompleted); ok {
		r.onSyncRunCompleted = append(r.onSyncRunCompleted, v)
	}
	if v, ok := p.(AccountingProviderPlugin); ok {
		r.accountingProviders = append(r.accountingProviders, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

// implementedInterfaces returns the hook names a plugin implements.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	check := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	check(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	check(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	check(reflect.TypeOf((*OnChargeCreated)(nil)).Elem(), "OnChargeCreated")
	check(reflect.TypeOf((*OnChargeUpdated)(nil)).Elem(), "OnChargeUpdated")
	check(reflect.TypeOf((*OnEventBilled)(nil)).Elem(), "OnEventBilled")
	check(reflect.TypeOf((*OnPaymentRecorded)(nil)).Elem(), "OnPaymentRecorded")
	check(reflect.TypeOf((*OnConnectionActivated)(nil)).Elem(), "OnConnectionActivated")
	check(reflect.TypeOf((*OnConnectionDisconnected)(nil)).Elem(), "OnConnectionDisconnected")
	check(reflect.TypeOf((*OnTransactionSynced)(nil)).Elem(), "OnTransactionSynced")
	check(reflect.TypeOf((*OnSyncFailed)(nil)).Elem(), "OnSyncFailed")
	check(reflect.TypeOf((*OnSyncSkipped)(nil)).Elem(), "OnSyncSkipped")
	check(reflect.TypeOf((*OnSyncRunCompleted)(nil)).Elem(), "OnSyncRunCompleted")
	check(reflect.TypeOf((*AccountingProviderPlugin)(nil)).Elem(), "AccountingProvider")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// AccountingProviders returns all registered provider plugins.
func (r *Registry) AccountingProviders() []AccountingProviderPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]AccountingProviderPlugin, len(r.accountingProviders))
	copy(result, r.accountingProviders)
	return result
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in hooks. Failures are logged, never
// returned: a plugin can not fail a ledger write.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, fn func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitChargeCreated notifies plugins that a charge was booked.
func (r *Registry) EmitChargeCreated(ctx context.Context, c *charge.Charge) {
	emit(ctx, r, "OnChargeCreated", snapshot(r, &r.onChargeCreated), func(p OnChargeCreated) error {
		return p.OnChargeCreated(ctx, c)
	})
}

// EmitChargeUpdated notifies plugins that a charge was corrected.
func (r *Registry) EmitChargeUpdated(ctx context.Context, oldCharge, newCharge *charge.Charge) {
	emit(ctx, r, "OnChargeUpdated", snapshot(r, &r.onChargeUpdated), func(p OnChargeUpdated) error {
		return p.OnChargeUpdated(ctx, oldCharge, newCharge)
	})
}

// EmitEventBilled notifies plugins that an event fee was billed.
func (r *Registry) EmitEventBilled(ctx context.Context, c *charge.Charge) {
	emit(ctx, r, "OnEventBilled", snapshot(r, &r.onEventBilled), func(p OnEventBilled) error {
		return p.OnEventBilled(ctx, c)
	})
}

// EmitPaymentRecorded notifies plugins that a payment was booked.
func (r *Registry) EmitPaymentRecorded(ctx context.Context, pay *payment.Payment, credit types.Money) {
	emit(ctx, r, "OnPaymentRecorded", snapshot(r, &r.onPaymentRecorded), func(p OnPaymentRecorded) error {
		return p.OnPaymentRecorded(ctx, pay, credit)
	})
}

// EmitConnectionActivated notifies plugins of a new active connection.
func (r *Registry) EmitConnectionActivated(ctx context.Context, c *connection.Connection) {
	emit(ctx, r, "OnConnectionActivated", snapshot(r, &r.onConnectionActivated), func(p OnConnectionActivated) error {
		return p.OnConnectionActivated(ctx, c)
	})
}

// EmitConnectionDisconnected notifies plugins that a connection went away.
func (r *Registry) EmitConnectionDisconnected(ctx context.Context, c *connection.Connection) {
	emit(ctx, r, "OnConnectionDisconnected", snapshot(r, &r.onConnectionDisconnected), func(p OnConnectionDisconnected) error {
		return p.OnConnectionDisconnected(ctx, c)
	})
}

// EmitTransactionSynced notifies plugins of a confirmed push.
func (r *Registry) EmitTransactionSynced(ctx context.Context, rec *syncrecord.Record) {
	emit(ctx, r, "OnTransactionSynced", snapshot(r, &r.onTransactionSynced), func(p OnTransactionSynced) error {
		return p.OnTransactionSynced(ctx, rec)
	})
}

// EmitSyncFailed notifies plugins of a transient push failure.
func (r *Registry) EmitSyncFailed(ctx context.Context, rec *syncrecord.Record, err error) {
	emit(ctx, r, "OnSyncFailed", snapshot(r, &r.onSyncFailed), func(p OnSyncFailed) error {
		return p.OnSyncFailed(ctx, rec, err)
	})
}

// EmitSyncSkipped notifies plugins of a definitive rejection.
func (r *Registry) EmitSyncSkipped(ctx context.Context, rec *syncrecord.Record, reason string) {
	emit(ctx, r, "OnSyncSkipped", snapshot(r, &r.onSyncSkipped), func(p OnSyncSkipped) error {
		return p.OnSyncSkipped(ctx, rec, reason)
	})
}

// EmitSyncRunCompleted notifies plugins that a sync run finished.
func (r *Registry) EmitSyncRunCompleted(ctx context.Context, run SyncRun) {
	emit(ctx, r, "OnSyncRunCompleted", snapshot(r, &r.onSyncRunCompleted), func(p OnSyncRunCompleted) error {
		return p.OnSyncRunCompleted(ctx, run)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the ledger or sync pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(hookTimeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
