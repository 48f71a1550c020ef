// Package dancer defines the account holder that charges and payments
// are booked against. Roster management lives outside barre; only the
// fields the ledger needs are modeled here.
package dancer

import (
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/types"
)

type Dancer struct {
	types.Entity
	ID        id.DancerID       `json:"id"`
	StudioKey string            `json:"studio_key"`
	Name      string            `json:"name"`
	Active    bool              `json:"active"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
