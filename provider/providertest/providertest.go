// Package providertest provides scriptable in-memory providers and
// authorizers for exercising the sync engine without a network.
package providertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/provider"
)

// ErrUnavailable is the default transient failure.
var ErrUnavailable = errors.New("providertest: service unavailable")

type behavior struct {
	reject string
	err    error
	hang   bool
	delay  time.Duration
}

// Provider records every push and answers from a per-transaction script.
// Unscripted transactions succeed. Like a real provider it is idempotent:
// a repeated idempotency key returns the object created the first time.
type Provider struct {
	name string

	mu      sync.Mutex
	script  map[string]behavior
	calls   []provider.PushRequest
	objects map[string]string
	seq     int
}

var _ provider.Provider = (*Provider)(nil)

// New returns a fake provider registered under name.
func New(name string) *Provider {
	return &Provider{
		name:    name,
		script:  make(map[string]behavior),
		objects: make(map[string]string),
	}
}

func (p *Provider) Name() string { return p.name }

// Reject makes pushes of transactionID fail definitively.
func (p *Provider) Reject(transactionID, reason string) {
	p.set(transactionID, behavior{reject: reason})
}

// Fail makes pushes of transactionID fail with err, or ErrUnavailable.
func (p *Provider) Fail(transactionID string, err error) {
	if err == nil {
		err = ErrUnavailable
	}
	p.set(transactionID, behavior{err: err})
}

// Hang makes pushes of transactionID block until the context ends.
func (p *Provider) Hang(transactionID string) {
	p.set(transactionID, behavior{hang: true})
}

// Delay makes pushes of transactionID wait d before succeeding.
func (p *Provider) Delay(transactionID string, d time.Duration) {
	p.set(transactionID, behavior{delay: d})
}

// Clear removes any script for transactionID.
func (p *Provider) Clear(transactionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.script, transactionID)
}

func (p *Provider) set(transactionID string, b behavior) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script[transactionID] = b
}

func (p *Provider) Push(ctx context.Context, req *provider.PushRequest) (*provider.PushResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, *req)
	b := p.script[req.TransactionID]
	p.mu.Unlock()

	switch {
	case b.hang:
		<-ctx.Done()
		return nil, ctx.Err()
	case b.delay > 0:
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.reject != "" {
		return nil, provider.Reject("test", "%s", b.reject)
	}
	if b.err != nil {
		return nil, b.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Update() {
		return &provider.PushResult{ExternalObjectID: req.ExternalObjectID}, nil
	}
	if ext, ok := p.objects[req.IdempotencyKey]; ok {
		return &provider.PushResult{ExternalObjectID: ext}, nil
	}
	p.seq++
	ext := fmt.Sprintf("%s-%s-%04d", p.name, req.ObjectType, p.seq)
	p.objects[req.IdempotencyKey] = ext
	return &provider.PushResult{ExternalObjectID: ext}, nil
}

// Calls returns a copy of every push received, in arrival order.
func (p *Provider) Calls() []provider.PushRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.PushRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of pushes received.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// CallsFor returns the pushes received for one transaction.
func (p *Provider) CallsFor(transactionID string) []provider.PushRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []provider.PushRequest
	for _, c := range p.calls {
		if c.TransactionID == transactionID {
			out = append(out, c)
		}
	}
	return out
}

// Objects returns the number of distinct remote objects created.
func (p *Provider) Objects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

// Authorizer is a fake OAuth collaborator.
type Authorizer struct {
	mu    sync.Mutex
	state connection.TokenState
	err   error
	calls int
}

var _ provider.Authorizer = (*Authorizer)(nil)

// NewAuthorizer returns an authorizer that grants both tokens for an hour.
func NewAuthorizer() *Authorizer {
	exp := time.Now().UTC().Add(time.Hour)
	return &Authorizer{state: connection.TokenState{
		HasAccessToken:       true,
		HasRefreshToken:      true,
		AccessTokenExpiresAt: &exp,
		ExternalTenantID:     "tenant-test",
	}}
}

// Fail makes later Authorize calls return err. Nil restores success.
func (a *Authorizer) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *Authorizer) Authorize(_ context.Context, _, _ string) (*connection.TokenState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	st := a.state
	return &st, nil
}

// Calls returns the number of Authorize calls.
func (a *Authorizer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
