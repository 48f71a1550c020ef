// Package charge defines billable obligations booked against a dancer.
package charge

import (
	"time"

	"github.com/xraph/barre/id"
	"github.com/xraph/barre/types"
)

type Kind string

const (
	KindTuition     Kind = "tuition"
	KindCostume     Kind = "costume"
	KindCompetition Kind = "competition"
	KindRecital     Kind = "recital"
	KindOther       Kind = "other"
)

// Kinds lists every valid charge kind in display order.
func Kinds() []Kind {
	return []Kind{KindTuition, KindCostume, KindCompetition, KindRecital, KindOther}
}

// Valid reports whether k is a known charge kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Charge is one billable obligation. A charge billed from a finance event
// also carries the event fee identity (EventID and EventFeeID set), so the
// fee and its obligation are written together.
//
// Seq is the dancer-scoped creation sequence shared with payments. It
// orders ledger replay and is unique per dancer.
type Charge struct {
	types.Entity
	ID             id.ChargeID   `json:"id"`
	StudioKey      string        `json:"studio_key"`
	DancerID       id.DancerID   `json:"dancer_id"`
	Kind           Kind          `json:"kind"`
	Description    string        `json:"description,omitempty"`
	Amount         types.Money   `json:"amount"`
	Date           time.Time     `json:"date"`
	DueDate        *time.Time    `json:"due_date,omitempty"`
	EventID        id.EventID    `json:"event_id,omitzero"`
	EventFeeID     id.EventFeeID `json:"event_fee_id,omitzero"`
	CompetitionID  string        `json:"competition_id,omitempty"`
	RoutineID      string        `json:"routine_id,omitempty"`
	AccountingCode string        `json:"accounting_code,omitempty"`
	Seq            int64         `json:"seq"`
	Revision       int           `json:"revision"`
	Locked         bool          `json:"locked"`
}

// Due returns the date the charge falls due, defaulting to its billing date.
func (c *Charge) Due() time.Time {
	if c.DueDate != nil {
		return *c.DueDate
	}
	return c.Date
}

// IsEventFee reports whether the charge was billed from a finance event.
func (c *Charge) IsEventFee() bool {
	return !c.EventFeeID.IsNil()
}

// Update carries the fields that may be corrected before the first
// successful sync. Nil fields are left unchanged.
type Update struct {
	ID             id.ChargeID
	Revision       int
	Amount         *types.Money
	Description    *string
	DueDate        *time.Time
	AccountingCode *string
}

// Apply copies the set fields of u onto c and bumps the revision.
func (u Update) Apply(c *Charge) {
	if u.Amount != nil {
		c.Amount = *u.Amount
	}
	if u.Description != nil {
		c.Description = *u.Description
	}
	if u.DueDate != nil {
		due := *u.DueDate
		c.DueDate = &due
	}
	if u.AccountingCode != nil {
		c.AccountingCode = *u.AccountingCode
	}
	c.Revision++
}
