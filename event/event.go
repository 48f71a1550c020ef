// Package event defines finance events: competitions, recitals and other
// occasions that bill a per-dancer fee.
package event

import (
	"time"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/types"
)

type Kind string

const (
	KindCompetition Kind = "competition"
	KindRecital     Kind = "recital"
	KindShowcase    Kind = "showcase"
	KindOther       Kind = "other"
)

// Event is a billable studio occasion. Fee is the default amount billed to
// each participating dancer; an individual bill may override it.
type Event struct {
	types.Entity
	ID        id.EventID        `json:"id"`
	StudioKey string            `json:"studio_key"`
	Name      string            `json:"name"`
	Kind      Kind              `json:"kind"`
	Fee       types.Money       `json:"fee"`
	Date      time.Time         `json:"date"`
	DueDate   *time.Time        `json:"due_date,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ChargeKind maps the event kind onto the charge kind its fees are booked as.
func (e *Event) ChargeKind() charge.Kind {
	switch e.Kind {
	case KindCompetition:
		return charge.KindCompetition
	case KindRecital:
		return charge.KindRecital
	default:
		return charge.KindOther
	}
}

// Due returns the due date for fees billed from this event.
func (e *Event) Due() time.Time {
	if e.DueDate != nil {
		return *e.DueDate
	}
	return e.Date
}

type ListOpts struct {
	Kind   Kind
	From   time.Time
	Limit  int
	Offset int
}
