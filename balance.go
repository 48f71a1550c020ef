package barre

import (
	"context"
	"fmt"

	"github.com/xraph/barre/balance"
	"github.com/xraph/barre/eventfee"
	"github.com/xraph/barre/id"
)

// ComputeLedger returns a dancer's statement with running balances.
//
// It fails with ErrDancerNotFound only when the dancer record is missing
// and no transactions exist; a dancer with no activity gets an empty
// ledger and a zero balance.
func (e *Engine) ComputeLedger(ctx context.Context, dancerID id.DancerID) (*balance.Ledger, error) {
	charges, payments, err := e.store.ListDancerTransactions(ctx, dancerID)
	if err != nil {
		return nil, fmt.Errorf("barre: compute ledger: %w", err)
	}
	if len(charges) == 0 && len(payments) == 0 {
		if _, err := e.store.GetDancer(ctx, dancerID); err != nil {
			return nil, err
		}
	}
	return balance.ComputeLedger(dancerID, e.currency, charges, payments), nil
}

// Allocation replays a dancer's ledger and returns how every payment was
// applied.
func (e *Engine) Allocation(ctx context.Context, dancerID id.DancerID) (*balance.Allocation, error) {
	charges, payments, err := e.store.ListDancerTransactions(ctx, dancerID)
	if err != nil {
		return nil, fmt.Errorf("barre: allocation: %w", err)
	}
	return balance.Allocate(e.currency, charges, payments), nil
}

// ListEventFees returns every event fee billed to a dancer with its
// current balance and status.
func (e *Engine) ListEventFees(ctx context.Context, dancerID id.DancerID) ([]eventfee.EventFee, error) {
	alloc, err := e.Allocation(ctx, dancerID)
	if err != nil {
		return nil, err
	}
	return alloc.EventFees(), nil
}

// GetEventFee returns one event fee.
func (e *Engine) GetEventFee(ctx context.Context, feeID id.EventFeeID) (*eventfee.EventFee, error) {
	c, err := e.store.GetChargeByEventFee(ctx, feeID)
	if err != nil {
		return nil, err
	}
	alloc, err := e.Allocation(ctx, c.DancerID)
	if err != nil {
		return nil, err
	}
	f, ok := alloc.EventFee(feeID)
	if !ok {
		return nil, ErrEventFeeNotFound
	}
	return &f, nil
}

// ListEventRoster returns the fee of every dancer billed for one event.
func (e *Engine) ListEventRoster(ctx context.Context, eventID id.EventID) ([]eventfee.EventFee, error) {
	if _, err := e.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	charges, err := e.store.ListEventCharges(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("barre: event roster: %w", err)
	}

	fees := make([]eventfee.EventFee, 0, len(charges))
	for _, c := range charges {
		alloc, err := e.Allocation(ctx, c.DancerID)
		if err != nil {
			return nil, err
		}
		if f, ok := alloc.EventFee(c.EventFeeID); ok {
			fees = append(fees, f)
		}
	}
	return fees, nil
}

// EventFeeStatus reports a dancer's fee status for one event, or unbilled
// when no fee exists for the pair.
func (e *Engine) EventFeeStatus(ctx context.Context, dancerID id.DancerID, eventID id.EventID) (eventfee.Status, error) {
	fees, err := e.ListEventFees(ctx, dancerID)
	if err != nil {
		return "", err
	}
	for _, f := range fees {
		if f.EventID == eventID {
			return f.Status, nil
		}
	}
	return eventfee.StatusUnbilled, nil
}
