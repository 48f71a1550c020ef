package balance

import (
	"sort"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/eventfee"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/types"
)

// Application is the part of a payment applied to one charge.
type Application struct {
	ChargeID   id.ChargeID   `json:"charge_id"`
	EventFeeID id.EventFeeID `json:"event_fee_id,omitzero"`
	Amount     types.Money   `json:"amount"`
}

// PaymentAllocation is how one payment was spread across charges.
type PaymentAllocation struct {
	PaymentID    id.PaymentID  `json:"payment_id"`
	Applications []Application `json:"applications"`
	Unapplied    types.Money   `json:"unapplied"`
}

// ChargeState is a charge after every payment has been replayed.
type ChargeState struct {
	Charge  *charge.Charge `json:"charge"`
	Applied types.Money    `json:"applied"`
	Balance types.Money    `json:"balance"`
}

// Allocation is the result of replaying a dancer's ledger.
type Allocation struct {
	currency string
	charges  []*ChargeState
	byCharge map[string]*ChargeState
	byFee    map[string]*ChargeState
	payments map[string]*PaymentAllocation
	credit   types.Money
}

// Allocate replays charges and payments in creation order and applies each
// payment as it arrives:
//
//   - a payment targeting an event fee goes to that fee only, capped at its
//     balance; the excess is unapplied credit;
//   - any other payment walks the outstanding charges oldest due date first
//     (creation order breaks ties), closing each one fully before touching
//     the next.
//
// Unapplied credit is never reassigned to charges created later. The
// result depends only on the inputs, never on their slice order.
func Allocate(currency string, charges []*charge.Charge, payments []*payment.Payment) *Allocation {
	a := &Allocation{
		currency: currency,
		byCharge: make(map[string]*ChargeState, len(charges)),
		byFee:    make(map[string]*ChargeState),
		payments: make(map[string]*PaymentAllocation, len(payments)),
		credit:   types.Zero(currency),
	}

	type step struct {
		seq int64
		c   *charge.Charge
		p   *payment.Payment
	}
	steps := make([]step, 0, len(charges)+len(payments))
	for _, c := range charges {
		steps = append(steps, step{seq: c.Seq, c: c})
	}
	for _, p := range payments {
		steps = append(steps, step{seq: p.Seq, p: p})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].seq < steps[j].seq })

	for _, s := range steps {
		if s.c != nil {
			st := &ChargeState{Charge: s.c, Applied: types.Zero(currency), Balance: s.c.Amount}
			a.charges = append(a.charges, st)
			a.byCharge[s.c.ID.String()] = st
			if s.c.IsEventFee() {
				a.byFee[s.c.EventFeeID.String()] = st
			}
			continue
		}
		a.apply(s.p)
	}
	return a
}

func (a *Allocation) apply(p *payment.Payment) {
	pa := &PaymentAllocation{PaymentID: p.ID, Unapplied: p.Amount}
	a.payments[p.ID.String()] = pa

	var targets []*ChargeState
	if p.Targeted() {
		if st, ok := a.byFee[p.EventFeeID.String()]; ok {
			targets = []*ChargeState{st}
		}
	} else {
		targets = a.outstanding()
	}

	for _, st := range targets {
		if !pa.Unapplied.IsPositive() {
			break
		}
		if !st.Balance.IsPositive() {
			continue
		}
		amt := pa.Unapplied.Min(st.Balance)
		st.Applied = st.Applied.Add(amt)
		st.Balance = st.Balance.Subtract(amt)
		pa.Unapplied = pa.Unapplied.Subtract(amt)
		pa.Applications = append(pa.Applications, Application{
			ChargeID:   st.Charge.ID,
			EventFeeID: st.Charge.EventFeeID,
			Amount:     amt,
		})
	}
	a.credit = a.credit.Add(pa.Unapplied)
}

// outstanding returns charges with a positive balance in waterfall order.
func (a *Allocation) outstanding() []*ChargeState {
	out := make([]*ChargeState, 0, len(a.charges))
	for _, st := range a.charges {
		if st.Balance.IsPositive() {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].Charge.Due(), out[j].Charge.Due()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].Charge.Seq < out[j].Charge.Seq
	})
	return out
}

// Outstanding returns the charges still owed, oldest due first.
func (a *Allocation) Outstanding() []*ChargeState { return a.outstanding() }

// Charges returns every charge state in creation order.
func (a *Allocation) Charges() []*ChargeState { return a.charges }

// Charge returns the state of one charge, or nil.
func (a *Allocation) Charge(chargeID id.ChargeID) *ChargeState {
	return a.byCharge[chargeID.String()]
}

// Payment returns how one payment was applied, or nil.
func (a *Allocation) Payment(paymentID id.PaymentID) *PaymentAllocation {
	return a.payments[paymentID.String()]
}

// Credit is the total of all unapplied payment amounts.
func (a *Allocation) Credit() types.Money { return a.credit }

// EventFee projects the event-linked charge for feeID, if any.
func (a *Allocation) EventFee(feeID id.EventFeeID) (eventfee.EventFee, bool) {
	st, ok := a.byFee[feeID.String()]
	if !ok {
		return eventfee.EventFee{}, false
	}
	return project(st), true
}

// EventFees projects every event-linked charge in creation order.
func (a *Allocation) EventFees() []eventfee.EventFee {
	var out []eventfee.EventFee
	for _, st := range a.charges {
		if st.Charge.IsEventFee() {
			out = append(out, project(st))
		}
	}
	return out
}

func project(st *ChargeState) eventfee.EventFee {
	c := st.Charge
	fee := eventfee.EventFee{
		ID:        c.EventFeeID,
		DancerID:  c.DancerID,
		EventID:   c.EventID,
		ChargeID:  c.ID,
		Amount:    c.Amount,
		Balance:   st.Balance,
		DueDate:   c.Due(),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	fee.Status = EventFeeStatus(fee.Amount, fee.Balance)
	return fee
}
