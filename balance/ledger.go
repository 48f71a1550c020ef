// Package balance computes dancer balances, ledgers and event fee status.
//
// Everything here is a pure function of a dancer's charges and payments.
// Nothing is cached: callers re-read the transactions and recompute, so a
// result can never drift from the rows it was derived from.
package balance

import (
	"sort"
	"time"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/eventfee"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/txn"
	"github.com/xraph/barre/types"
)

// Entry is one ledger line with the running balance after it.
type Entry struct {
	TransactionID id.ID       `json:"transaction_id"`
	Kind          txn.Kind    `json:"kind"`
	ChargeKind    charge.Kind `json:"charge_kind,omitempty"`
	Date          time.Time   `json:"date"`
	Seq           int64       `json:"seq"`
	Description   string      `json:"description,omitempty"`
	Amount        types.Money `json:"amount"`
	Running       types.Money `json:"running_balance"`
}

// Ledger is a dancer's full statement.
type Ledger struct {
	DancerID        id.DancerID `json:"dancer_id"`
	Entries         []Entry     `json:"entries"`
	ChargesTotal    types.Money `json:"charges_total"`
	PaymentsTotal   types.Money `json:"payments_total"`
	CurrentBalance  types.Money `json:"current_balance"`
	UnappliedCredit types.Money `json:"unapplied_credit"`
	LastPaymentDate *time.Time  `json:"last_payment_date,omitempty"`
}

// Current returns total charges minus total payments. A negative value is
// a credit owed to the dancer.
func Current(currency string, charges []*charge.Charge, payments []*payment.Payment) types.Money {
	bal := types.Zero(currency)
	for _, c := range charges {
		bal = bal.Add(c.Amount)
	}
	for _, p := range payments {
		bal = bal.Subtract(p.Amount)
	}
	return bal
}

// ComputeLedger orders the dancer's transactions by date, then creation
// sequence, and attaches the running balance to each line. The last
// running balance always equals CurrentBalance.
func ComputeLedger(dancerID id.DancerID, currency string, charges []*charge.Charge, payments []*payment.Payment) *Ledger {
	txns := make([]txn.Transaction, 0, len(charges)+len(payments))
	for _, c := range charges {
		txns = append(txns, txn.FromCharge(c))
	}
	for _, p := range payments {
		txns = append(txns, txn.FromPayment(p))
	}
	sort.SliceStable(txns, func(i, j int) bool { return txn.Less(txns[i], txns[j]) })

	l := &Ledger{
		DancerID:      dancerID,
		Entries:       make([]Entry, 0, len(txns)),
		ChargesTotal:  types.Zero(currency),
		PaymentsTotal: types.Zero(currency),
	}
	running := types.Zero(currency)
	for _, t := range txns {
		running = running.Add(t.SignedAmount())
		e := Entry{
			TransactionID: t.ID(),
			Kind:          t.Kind,
			Date:          t.Date(),
			Seq:           t.Seq(),
			Description:   t.Description(),
			Amount:        t.Amount(),
			Running:       running,
		}
		switch t.Kind {
		case txn.KindCharge:
			e.ChargeKind = t.Charge.Kind
			l.ChargesTotal = l.ChargesTotal.Add(t.Amount())
		case txn.KindPayment:
			l.PaymentsTotal = l.PaymentsTotal.Add(t.Amount())
			if l.LastPaymentDate == nil || t.Date().After(*l.LastPaymentDate) {
				d := t.Date()
				l.LastPaymentDate = &d
			}
		}
		l.Entries = append(l.Entries, e)
	}
	l.CurrentBalance = l.ChargesTotal.Subtract(l.PaymentsTotal)
	l.UnappliedCredit = Allocate(currency, charges, payments).Credit()
	return l
}

// EventFeeStatus derives a fee's status from its amount and balance. A fee
// with nothing applied is billed, even when its amount is zero.
func EventFeeStatus(amount, bal types.Money) eventfee.Status {
	switch {
	case bal.Amount == amount.Amount:
		return eventfee.StatusBilled
	case bal.Amount == 0:
		return eventfee.StatusPaid
	default:
		return eventfee.StatusPartial
	}
}

// ComputeEventFeeStatus re-derives the status of a projected fee.
func ComputeEventFeeStatus(fee eventfee.EventFee) eventfee.Status {
	return EventFeeStatus(fee.Amount, fee.Balance)
}
