package barre

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/barre/balance"
	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/dancer"
	"github.com/xraph/barre/event"
	"github.com/xraph/barre/eventfee"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/types"
)

// ──────────────────────────────────────────────────
// Dancers
// ──────────────────────────────────────────────────

// DancerInput creates a dancer account.
type DancerInput struct {
	StudioKey string            `json:"studio_key" validate:"required,max=128"`
	Name      string            `json:"name" validate:"required,max=200"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CreateDancer registers an account holder.
func (e *Engine) CreateDancer(ctx context.Context, in DancerInput) (*dancer.Dancer, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	d := &dancer.Dancer{
		Entity:    types.NewEntityAt(e.now()),
		ID:        id.NewDancerID(),
		StudioKey: in.StudioKey,
		Name:      in.Name,
		Active:    true,
		Metadata:  in.Metadata,
	}
	if err := e.store.CreateDancer(ctx, d); err != nil {
		return nil, fmt.Errorf("barre: create dancer: %w", err)
	}
	return d, nil
}

// GetDancer retrieves a dancer by ID.
func (e *Engine) GetDancer(ctx context.Context, dancerID id.DancerID) (*dancer.Dancer, error) {
	return e.store.GetDancer(ctx, dancerID)
}

// ListDancers lists a studio's dancers.
func (e *Engine) ListDancers(ctx context.Context, studioKey string, opts dancer.ListOpts) ([]*dancer.Dancer, error) {
	return e.store.ListDancers(ctx, studioKey, opts)
}

// SetDancerActive marks a dancer active or inactive. Inactive dancers keep
// their ledger.
func (e *Engine) SetDancerActive(ctx context.Context, dancerID id.DancerID, active bool) (*dancer.Dancer, error) {
	d, err := e.store.GetDancer(ctx, dancerID)
	if err != nil {
		return nil, err
	}
	d.Active = active
	d.UpdatedAt = e.now()
	if err := e.store.UpdateDancer(ctx, d); err != nil {
		return nil, fmt.Errorf("barre: update dancer: %w", err)
	}
	return d, nil
}

// ──────────────────────────────────────────────────
// Finance events
// ──────────────────────────────────────────────────

// EventInput creates a finance event.
type EventInput struct {
	StudioKey string            `json:"studio_key" validate:"required,max=128"`
	Name      string            `json:"name" validate:"required,max=200"`
	Kind      event.Kind        `json:"kind" validate:"required,oneof=competition recital showcase other"`
	Fee       types.Money       `json:"fee"`
	Date      time.Time         `json:"date" validate:"required"`
	DueDate   *time.Time        `json:"due_date,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CreateEvent creates a finance event.
func (e *Engine) CreateEvent(ctx context.Context, in EventInput) (*event.Event, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	fee, err := e.normalizeAmount(in.Fee, true)
	if err != nil {
		return nil, err
	}
	ev := &event.Event{
		Entity:    types.NewEntityAt(e.now()),
		ID:        id.NewEventID(),
		StudioKey: in.StudioKey,
		Name:      in.Name,
		Kind:      in.Kind,
		Fee:       fee,
		Date:      in.Date,
		DueDate:   in.DueDate,
		Metadata:  in.Metadata,
	}
	if err := e.store.CreateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("barre: create event: %w", err)
	}
	return ev, nil
}

// EventUpdate changes an event's defaults. Fees already billed keep their
// amounts; nil fields are left unchanged.
type EventUpdate struct {
	ID      id.EventID
	Name    *string
	Fee     *types.Money
	Date    *time.Time
	DueDate *time.Time
}

// UpdateEvent applies u to an event.
func (e *Engine) UpdateEvent(ctx context.Context, u EventUpdate) (*event.Event, error) {
	ev, err := e.store.GetEvent(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		if *u.Name == "" {
			return nil, ValidationError{Field: "name", Message: "is required"}
		}
		ev.Name = *u.Name
	}
	if u.Fee != nil {
		fee, err := e.normalizeAmount(*u.Fee, true)
		if err != nil {
			return nil, err
		}
		ev.Fee = fee
	}
	if u.Date != nil {
		ev.Date = *u.Date
	}
	if u.DueDate != nil {
		due := *u.DueDate
		ev.DueDate = &due
	}
	ev.UpdatedAt = e.now()
	if err := e.store.UpdateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("barre: update event: %w", err)
	}
	return ev, nil
}

// GetEvent retrieves a finance event by ID.
func (e *Engine) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	return e.store.GetEvent(ctx, eventID)
}

// ListEvents lists a studio's finance events by date.
func (e *Engine) ListEvents(ctx context.Context, studioKey string, opts event.ListOpts) ([]*event.Event, error) {
	return e.store.ListEvents(ctx, studioKey, opts)
}

// ──────────────────────────────────────────────────
// Charges
// ──────────────────────────────────────────────────

// ChargeInput books a charge against a dancer. Date defaults to now and
// DueDate to Date.
type ChargeInput struct {
	DancerID       id.DancerID `json:"dancer_id"`
	Kind           charge.Kind `json:"kind" validate:"required,oneof=tuition costume competition recital other"`
	Amount         types.Money `json:"amount"`
	Date           time.Time   `json:"date"`
	DueDate        *time.Time  `json:"due_date,omitempty"`
	Description    string      `json:"description,omitempty" validate:"max=500"`
	CompetitionID  string      `json:"competition_id,omitempty" validate:"max=128"`
	RoutineID      string      `json:"routine_id,omitempty" validate:"max=128"`
	AccountingCode string      `json:"accounting_code,omitempty" validate:"max=64"`
}

// CreateCharge books a charge.
func (e *Engine) CreateCharge(ctx context.Context, in ChargeInput) (*charge.Charge, error) {
	if in.DancerID.IsNil() {
		return nil, ValidationError{Field: "dancer_id", Message: "is required"}
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	amount, err := e.normalizeAmount(in.Amount, true)
	if err != nil {
		return nil, err
	}
	d, err := e.store.GetDancer(ctx, in.DancerID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	c := &charge.Charge{
		Entity:         types.NewEntityAt(now),
		ID:             id.NewChargeID(),
		StudioKey:      d.StudioKey,
		DancerID:       d.ID,
		Kind:           in.Kind,
		Description:    in.Description,
		Amount:         amount,
		Date:           date,
		DueDate:        in.DueDate,
		CompetitionID:  in.CompetitionID,
		RoutineID:      in.RoutineID,
		AccountingCode: in.AccountingCode,
	}

	if err := e.appendTx(ctx, d.ID, func(seq int64, _ []*charge.Charge, _ []*payment.Payment) error {
		c.Seq = seq
		return e.store.CreateCharge(ctx, c)
	}); err != nil {
		return nil, fmt.Errorf("barre: create charge: %w", err)
	}

	e.logger.Debug("charge created",
		"dancer_id", c.DancerID.String(),
		"charge_id", c.ID.String(),
		"amount", c.Amount.String(),
	)
	e.plugins.EmitChargeCreated(ctx, c)
	return c, nil
}

// GetCharge retrieves a charge by ID.
func (e *Engine) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return e.store.GetCharge(ctx, chargeID)
}

// UpdateCharge corrects a charge that has not been synced yet. u.Revision
// must match the stored revision.
func (e *Engine) UpdateCharge(ctx context.Context, u charge.Update) (*charge.Charge, error) {
	c, err := e.store.GetCharge(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if c.Locked {
		return nil, ErrChargeLocked
	}
	if c.Revision != u.Revision {
		return nil, fmt.Errorf("%w: charge %s is at revision %d", ErrConflict, c.ID, c.Revision)
	}
	if u.Amount != nil {
		amount, err := e.normalizeAmount(*u.Amount, true)
		if err != nil {
			return nil, err
		}
		u.Amount = &amount
	}
	if u.Description != nil && len(*u.Description) > 500 {
		return nil, ValidationError{Field: "description", Message: "must be at most 500 characters"}
	}

	old := *c
	u.Apply(c)
	c.UpdatedAt = e.now()
	if err := e.store.UpdateCharge(ctx, c, u.Revision); err != nil {
		return nil, fmt.Errorf("barre: update charge: %w", err)
	}

	e.plugins.EmitChargeUpdated(ctx, &old, c)
	return c, nil
}

// BillEvent bills an event's fee to a dancer. amount overrides the event's
// default fee when set. A dancer is billed at most once per event.
func (e *Engine) BillEvent(ctx context.Context, eventID id.EventID, dancerID id.DancerID, amount *types.Money) (*eventfee.EventFee, error) {
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	d, err := e.store.GetDancer(ctx, dancerID)
	if err != nil {
		return nil, err
	}
	if d.StudioKey != ev.StudioKey {
		return nil, fmt.Errorf("%w: event %s belongs to another studio", ErrEventNotFound, ev.ID)
	}
	fee := ev.Fee
	if amount != nil {
		fee = *amount
	}
	if fee, err = e.normalizeAmount(fee, true); err != nil {
		return nil, err
	}

	now := e.now()
	due := ev.Due()
	c := &charge.Charge{
		Entity:      types.NewEntityAt(now),
		ID:          id.NewChargeID(),
		StudioKey:   d.StudioKey,
		DancerID:    d.ID,
		Kind:        ev.ChargeKind(),
		Description: ev.Name,
		Amount:      fee,
		Date:        now,
		DueDate:     &due,
		EventID:     ev.ID,
		EventFeeID:  id.NewEventFeeID(),
	}

	if err := e.appendTx(ctx, d.ID, func(seq int64, charges []*charge.Charge, _ []*payment.Payment) error {
		for _, existing := range charges {
			if existing.EventID == ev.ID {
				return ErrEventAlreadyBilled
			}
		}
		c.Seq = seq
		return e.store.CreateCharge(ctx, c)
	}); err != nil {
		return nil, fmt.Errorf("barre: bill event: %w", err)
	}

	e.logger.Debug("event billed",
		"dancer_id", d.ID.String(),
		"event_id", ev.ID.String(),
		"amount", fee.String(),
	)
	e.plugins.EmitEventBilled(ctx, c)
	e.plugins.EmitChargeCreated(ctx, c)

	alloc := balance.Allocate(e.currency, []*charge.Charge{c}, nil)
	f, _ := alloc.EventFee(c.EventFeeID)
	return &f, nil
}

// ──────────────────────────────────────────────────
// Per-dancer write serialization
// ──────────────────────────────────────────────────

// appendTx runs write with the dancer's next sequence number and current
// ledger. The store rejects a taken sequence with ErrConflict, in which
// case the ledger is re-read and write runs again.
func (e *Engine) appendTx(ctx context.Context, dancerID id.DancerID, write func(seq int64, charges []*charge.Charge, payments []*payment.Payment) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		charges, payments, err := e.store.ListDancerTransactions(ctx, dancerID)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if err := write(nextSeq(charges, payments), charges, payments); err != nil {
			if errors.Is(err, ErrConflict) {
				e.logger.Debug("ledger append conflict, retrying",
					"dancer_id", dancerID.String(),
					"attempt", attempt,
				)
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(e.appendRetries))
	return err
}

func nextSeq(charges []*charge.Charge, payments []*payment.Payment) int64 {
	var maxSeq int64
	for _, c := range charges {
		maxSeq = max(maxSeq, c.Seq)
	}
	for _, p := range payments {
		maxSeq = max(maxSeq, p.Seq)
	}
	return maxSeq + 1
}
