// Package txn provides the tagged variant over ledger transactions.
//
// Charges and payments flow through one Transaction type wherever code
// treats them uniformly: ledger replay, sync selection, idempotency key
// derivation and reconciliation. Kind-specific behavior is dispatched in
// this package only.
package txn

import (
	"fmt"
	"time"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/types"
)

type Kind string

const (
	KindCharge  Kind = "charge"
	KindPayment Kind = "payment"
)

// Transaction holds exactly one of Charge or Payment, selected by Kind.
type Transaction struct {
	Kind    Kind             `json:"kind"`
	Charge  *charge.Charge   `json:"charge,omitempty"`
	Payment *payment.Payment `json:"payment,omitempty"`
}

func FromCharge(c *charge.Charge) Transaction {
	return Transaction{Kind: KindCharge, Charge: c}
}

func FromPayment(p *payment.Payment) Transaction {
	return Transaction{Kind: KindPayment, Payment: p}
}

// ID returns the charge or payment id.
func (t Transaction) ID() id.ID {
	switch t.Kind {
	case KindCharge:
		return t.Charge.ID
	case KindPayment:
		return t.Payment.ID
	default:
		panic(fmt.Sprintf("txn: unknown kind %q", t.Kind))
	}
}

func (t Transaction) DancerID() id.DancerID {
	if t.Kind == KindCharge {
		return t.Charge.DancerID
	}
	return t.Payment.DancerID
}

func (t Transaction) StudioKey() string {
	if t.Kind == KindCharge {
		return t.Charge.StudioKey
	}
	return t.Payment.StudioKey
}

// Date is the ledger date: billing date for charges, receipt date for payments.
func (t Transaction) Date() time.Time {
	if t.Kind == KindCharge {
		return t.Charge.Date
	}
	return t.Payment.Date
}

func (t Transaction) Seq() int64 {
	if t.Kind == KindCharge {
		return t.Charge.Seq
	}
	return t.Payment.Seq
}

func (t Transaction) Amount() types.Money {
	if t.Kind == KindCharge {
		return t.Charge.Amount
	}
	return t.Payment.Amount
}

// SignedAmount is the effect on the dancer's balance: charges add, payments subtract.
func (t Transaction) SignedAmount() types.Money {
	if t.Kind == KindCharge {
		return t.Charge.Amount
	}
	return t.Payment.Amount.Negate()
}

func (t Transaction) Description() string {
	if t.Kind == KindCharge {
		return t.Charge.Description
	}
	return t.Payment.Description
}

func (t Transaction) CreatedAt() time.Time {
	if t.Kind == KindCharge {
		return t.Charge.CreatedAt
	}
	return t.Payment.CreatedAt
}

// Less orders transactions by ledger date, then creation sequence.
func Less(a, b Transaction) bool {
	if !a.Date().Equal(b.Date()) {
		return a.Date().Before(b.Date())
	}
	return a.Seq() < b.Seq()
}

// Split separates a mixed list into charges and payments, preserving order.
func Split(txns []Transaction) ([]*charge.Charge, []*payment.Payment) {
	var charges []*charge.Charge
	var payments []*payment.Payment
	for _, t := range txns {
		switch t.Kind {
		case KindCharge:
			charges = append(charges, t.Charge)
		case KindPayment:
			payments = append(payments, t.Payment)
		}
	}
	return charges, payments
}

// ListOpts filters studio-wide transaction listings.
type ListOpts struct {
	Kind     Kind
	DancerID id.DancerID
	EventID  id.EventID
	IDs      []string
	Limit    int
	Offset   int
}
