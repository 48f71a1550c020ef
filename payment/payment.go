// Package payment defines money receipts booked against a dancer.
package payment

import (
	"time"

	"github.com/xraph/barre/id"
	"github.com/xraph/barre/types"
)

type Method string

const (
	MethodCash  Method = "cash"
	MethodCheck Method = "check"
	MethodCard  Method = "card"
	MethodBank  Method = "bank"
	MethodOther Method = "other"
)

// Payment is immutable after creation and always stores the full amount
// received. How it was applied is derived on read.
type Payment struct {
	types.Entity
	ID          id.PaymentID  `json:"id"`
	StudioKey   string        `json:"studio_key"`
	DancerID    id.DancerID   `json:"dancer_id"`
	Amount      types.Money   `json:"amount"`
	Date        time.Time     `json:"date"`
	Description string        `json:"description,omitempty"`
	Method      Method        `json:"method,omitempty"`
	Reference   string        `json:"reference,omitempty"`
	EventFeeID  id.EventFeeID `json:"event_fee_id,omitzero"`
	Seq         int64         `json:"seq"`
}

// Targeted reports whether the payment was directed at one event fee
// instead of the pool waterfall.
func (p *Payment) Targeted() bool {
	return !p.EventFeeID.IsNil()
}
