// Package eventfee defines the per-dancer, per-event billing view.
//
// An EventFee is never stored on its own: it is projected from the
// event-linked charge and the dancer's payments every time it is read, so
// Balance always equals Amount minus the payments applied to it.
package eventfee

import (
	"time"

	"github.com/xraph/barre/id"
	"github.com/xraph/barre/types"
)

type Status string

const (
	StatusUnbilled Status = "unbilled"
	StatusBilled   Status = "billed"
	StatusPartial  Status = "partial"
	StatusPaid     Status = "paid"
)

type EventFee struct {
	ID        id.EventFeeID `json:"id"`
	DancerID  id.DancerID   `json:"dancer_id"`
	EventID   id.EventID    `json:"event_id"`
	ChargeID  id.ChargeID   `json:"charge_id"`
	Amount    types.Money   `json:"amount"`
	Balance   types.Money   `json:"balance"`
	Status    Status        `json:"status"`
	DueDate   time.Time     `json:"due_date"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Applied returns how much of the fee has been paid.
func (f *EventFee) Applied() types.Money {
	return f.Amount.Subtract(f.Balance)
}
