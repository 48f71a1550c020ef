package balance

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/eventfee"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/types"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC)
}

func newCharge(dancer id.DancerID, seq int64, cents int64, date time.Time, kind charge.Kind) *charge.Charge {
	return &charge.Charge{
		ID:       id.NewChargeID(),
		DancerID: dancer,
		Kind:     kind,
		Amount:   types.USD(cents),
		Date:     date,
		Seq:      seq,
	}
}

func newFeeCharge(dancer id.DancerID, seq int64, cents int64, date time.Time) *charge.Charge {
	c := newCharge(dancer, seq, cents, date, charge.KindCompetition)
	c.EventID = id.NewEventID()
	c.EventFeeID = id.NewEventFeeID()
	return c
}

func newPayment(dancer id.DancerID, seq int64, cents int64, date time.Time) *payment.Payment {
	return &payment.Payment{
		ID:       id.NewPaymentID(),
		DancerID: dancer,
		Amount:   types.USD(cents),
		Date:     date,
		Seq:      seq,
	}
}

func TestWaterfallExample(t *testing.T) {
	d := id.NewDancerID()
	tuition := newCharge(d, 1, 10000, day(time.January, 1), charge.KindTuition)
	comp := newFeeCharge(d, 2, 5000, day(time.January, 15))
	pay := newPayment(d, 3, 12000, day(time.January, 10))

	alloc := Allocate("usd", []*charge.Charge{tuition, comp}, []*payment.Payment{pay})

	pa := alloc.Payment(pay.ID)
	require.NotNil(t, pa)
	require.Len(t, pa.Applications, 2)
	assert.Equal(t, tuition.ID, pa.Applications[0].ChargeID)
	assert.Equal(t, types.USD(10000), pa.Applications[0].Amount)
	assert.Equal(t, comp.ID, pa.Applications[1].ChargeID)
	assert.Equal(t, types.USD(2000), pa.Applications[1].Amount)
	assert.True(t, pa.Unapplied.IsZero())

	assert.True(t, alloc.Charge(tuition.ID).Balance.IsZero())
	fee, ok := alloc.EventFee(comp.EventFeeID)
	require.True(t, ok)
	assert.Equal(t, types.USD(3000), fee.Balance)
	assert.Equal(t, eventfee.StatusPartial, fee.Status)
	assert.Equal(t, types.USD(2000), fee.Applied())

	l := ComputeLedger(d, "usd", []*charge.Charge{tuition, comp}, []*payment.Payment{pay})
	assert.Equal(t, types.USD(3000), l.CurrentBalance)
	require.Len(t, l.Entries, 3)
	// Jan 1 charge, Jan 10 payment, Jan 15 charge.
	assert.Equal(t, types.USD(10000), l.Entries[0].Running)
	assert.Equal(t, types.USD(-2000), l.Entries[1].Running)
	assert.Equal(t, types.USD(3000), l.Entries[2].Running)
	require.NotNil(t, l.LastPaymentDate)
	assert.True(t, l.LastPaymentDate.Equal(day(time.January, 10)))
}

func TestWaterfallOrdersByDueDate(t *testing.T) {
	d := id.NewDancerID()
	late := newCharge(d, 1, 4000, day(time.March, 1), charge.KindCostume)
	early := newCharge(d, 2, 4000, day(time.February, 1), charge.KindTuition)
	pay := newPayment(d, 3, 5000, day(time.March, 2))

	alloc := Allocate("usd", []*charge.Charge{late, early}, []*payment.Payment{pay})

	assert.True(t, alloc.Charge(early.ID).Balance.IsZero(), "earlier due date closes first")
	assert.Equal(t, types.USD(3000), alloc.Charge(late.ID).Balance)
}

func TestWaterfallTieBreaksByCreation(t *testing.T) {
	d := id.NewDancerID()
	first := newCharge(d, 1, 3000, day(time.April, 1), charge.KindTuition)
	second := newCharge(d, 2, 3000, day(time.April, 1), charge.KindCostume)
	pay := newPayment(d, 3, 3000, day(time.April, 2))

	alloc := Allocate("usd", []*charge.Charge{second, first}, []*payment.Payment{pay})

	assert.True(t, alloc.Charge(first.ID).Balance.IsZero())
	assert.Equal(t, types.USD(3000), alloc.Charge(second.ID).Balance)
}

func TestTargetedPaymentExcessIsCredit(t *testing.T) {
	d := id.NewDancerID()
	tuition := newCharge(d, 1, 10000, day(time.January, 1), charge.KindTuition)
	fee := newFeeCharge(d, 2, 5000, day(time.January, 15))
	pay := newPayment(d, 3, 8000, day(time.January, 20))
	pay.EventFeeID = fee.EventFeeID

	alloc := Allocate("usd", []*charge.Charge{tuition, fee}, []*payment.Payment{pay})

	pa := alloc.Payment(pay.ID)
	require.Len(t, pa.Applications, 1)
	assert.Equal(t, fee.ID, pa.Applications[0].ChargeID)
	assert.Equal(t, types.USD(3000), pa.Unapplied)
	assert.Equal(t, types.USD(3000), alloc.Credit())
	assert.Equal(t, types.USD(10000), alloc.Charge(tuition.ID).Balance, "credit is not reassigned")

	ef, _ := alloc.EventFee(fee.EventFeeID)
	assert.Equal(t, eventfee.StatusPaid, ef.Status)
	assert.True(t, ef.Balance.IsZero())
}

func TestCreditNotAppliedToLaterCharges(t *testing.T) {
	d := id.NewDancerID()
	pay := newPayment(d, 1, 5000, day(time.May, 1))
	later := newCharge(d, 2, 2000, day(time.May, 2), charge.KindTuition)

	alloc := Allocate("usd", []*charge.Charge{later}, []*payment.Payment{pay})

	assert.Equal(t, types.USD(5000), alloc.Credit())
	assert.Equal(t, types.USD(2000), alloc.Charge(later.ID).Balance)

	l := ComputeLedger(d, "usd", []*charge.Charge{later}, []*payment.Payment{pay})
	assert.Equal(t, types.USD(-3000), l.CurrentBalance)
	assert.Equal(t, types.USD(5000), l.UnappliedCredit)
}

func TestBalanceInvariantAnyOrder(t *testing.T) {
	d := id.NewDancerID()
	var charges []*charge.Charge
	var payments []*payment.Payment
	var want int64
	seq := int64(0)
	for i := range 12 {
		seq++
		amt := int64(1000 + i*250)
		charges = append(charges, newCharge(d, seq, amt, day(time.June, 1+i), charge.KindTuition))
		want += amt
		if i%3 == 0 {
			seq++
			payments = append(payments, newPayment(d, seq, 1700, day(time.June, 2+i)))
			want -= 1700
		}
	}

	base := ComputeLedger(d, "usd", charges, payments)
	rng := rand.New(rand.NewSource(7))
	for range 20 {
		rng.Shuffle(len(charges), func(i, j int) { charges[i], charges[j] = charges[j], charges[i] })
		rng.Shuffle(len(payments), func(i, j int) { payments[i], payments[j] = payments[j], payments[i] })

		l := ComputeLedger(d, "usd", charges, payments)
		assert.Equal(t, want, l.CurrentBalance.Amount)
		assert.Equal(t, Current("usd", charges, payments), l.CurrentBalance)
		assert.Equal(t, l.CurrentBalance, l.Entries[len(l.Entries)-1].Running)
		assert.Equal(t, base.Entries, l.Entries)
		assert.Equal(t, base.UnappliedCredit, l.UnappliedCredit)
	}
}

func TestAllocateDeterministic(t *testing.T) {
	d := id.NewDancerID()
	charges := []*charge.Charge{
		newFeeCharge(d, 1, 2500, day(time.July, 3)),
		newCharge(d, 2, 4000, day(time.July, 1), charge.KindTuition),
		newFeeCharge(d, 3, 1500, day(time.July, 3)),
	}
	payments := []*payment.Payment{newPayment(d, 4, 5000, day(time.July, 10))}

	a := Allocate("usd", charges, payments)
	b := Allocate("usd", charges, payments)

	assert.Equal(t, a.Payment(payments[0].ID), b.Payment(payments[0].ID))
	assert.Equal(t, a.EventFees(), b.EventFees())
	assert.Equal(t, a.Credit(), b.Credit())
	require.Len(t, a.Outstanding(), 2)
}

func TestEmptyLedger(t *testing.T) {
	l := ComputeLedger(id.NewDancerID(), "usd", nil, nil)
	assert.Empty(t, l.Entries)
	assert.True(t, l.CurrentBalance.IsZero())
	assert.Nil(t, l.LastPaymentDate)
}

func TestEventFeeStatus(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		balance int64
		want    eventfee.Status
	}{
		{"untouched", 5000, 5000, eventfee.StatusBilled},
		{"paid", 5000, 0, eventfee.StatusPaid},
		{"partial", 5000, 3000, eventfee.StatusPartial},
		{"one cent left", 5000, 1, eventfee.StatusPartial},
		{"zero fee", 0, 0, eventfee.StatusBilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EventFeeStatus(types.USD(tt.amount), types.USD(tt.balance))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, EventFeeStatus(types.USD(tt.amount), types.USD(tt.balance)))
		})
	}
}

func TestEventFeeStatusTotal(t *testing.T) {
	valid := map[eventfee.Status]bool{
		eventfee.StatusUnbilled: true,
		eventfee.StatusBilled:   true,
		eventfee.StatusPartial:  true,
		eventfee.StatusPaid:     true,
	}
	for amount := int64(0); amount <= 40; amount += 5 {
		for bal := int64(0); bal <= amount; bal++ {
			assert.True(t, valid[EventFeeStatus(types.USD(amount), types.USD(bal))])
		}
	}
}
