package barre

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/barre/balance"
	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/types"
)

// PaymentInput records money received from a dancer. Date defaults to now.
// EventFeeID directs the whole payment at one event fee; otherwise the
// payment is spread over outstanding charges oldest due first.
type PaymentInput struct {
	DancerID    id.DancerID    `json:"dancer_id"`
	Amount      types.Money    `json:"amount"`
	Date        time.Time      `json:"date"`
	EventFeeID  id.EventFeeID  `json:"event_fee_id,omitzero"`
	Description string         `json:"description,omitempty" validate:"max=500"`
	Method      payment.Method `json:"method,omitempty" validate:"omitempty,oneof=cash check card bank other"`
	Reference   string         `json:"reference,omitempty" validate:"max=128"`
}

// PaymentResult is the booked payment and how it was applied.
type PaymentResult struct {
	Payment         *payment.Payment      `json:"payment"`
	Applications    []balance.Application `json:"applications"`
	RemainingCredit types.Money           `json:"remaining_credit"`
}

// RecordPayment books a payment. The stored payment always carries the
// full amount; the applications and remaining credit are derived from the
// dancer's ledger at the moment of booking.
func (e *Engine) RecordPayment(ctx context.Context, in PaymentInput) (*PaymentResult, error) {
	if in.DancerID.IsNil() {
		return nil, ValidationError{Field: "dancer_id", Message: "is required"}
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	amount, err := e.normalizeAmount(in.Amount, false)
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
	p := &payment.Payment{
		Entity:      types.NewEntityAt(now),
		ID:          id.NewPaymentID(),
		StudioKey:   d.StudioKey,
		DancerID:    d.ID,
		Amount:      amount,
		Date:        date,
		Description: in.Description,
		Method:      in.Method,
		Reference:   in.Reference,
		EventFeeID:  in.EventFeeID,
	}

	var alloc *balance.Allocation
	if err := e.appendTx(ctx, d.ID, func(seq int64, charges []*charge.Charge, payments []*payment.Payment) error {
		if p.Targeted() && !hasEventFee(charges, p.EventFeeID) {
			return fmt.Errorf("%w: %s", ErrEventFeeNotFound, p.EventFeeID)
		}
		p.Seq = seq
		if err := e.store.CreatePayment(ctx, p); err != nil {
			return err
		}
		alloc = balance.Allocate(e.currency, charges, append(payments, p))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("barre: record payment: %w", err)
	}

	applied := alloc.Payment(p.ID)
	res := &PaymentResult{
		Payment:         p,
		Applications:    applied.Applications,
		RemainingCredit: applied.Unapplied,
	}

	e.logger.Debug("payment recorded",
		"dancer_id", d.ID.String(),
		"payment_id", p.ID.String(),
		"amount", p.Amount.String(),
		"remaining_credit", res.RemainingCredit.String(),
	)
	e.plugins.EmitPaymentRecorded(ctx, p, res.RemainingCredit)
	return res, nil
}

// GetPayment retrieves a payment by ID.
func (e *Engine) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Payment, error) {
	return e.store.GetPayment(ctx, paymentID)
}

func hasEventFee(charges []*charge.Charge, feeID id.EventFeeID) bool {
	for _, c := range charges {
		if c.EventFeeID == feeID {
			return true
		}
	}
	return false
}
