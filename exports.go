package barre

import (
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/types"
)

// Re-export common types so callers rarely need the types and id packages.

// ID is the primary identifier type for all barre entities.
type ID = id.ID

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

var (
	USD        = types.USD
	Zero       = types.Zero
	ParseMoney = types.ParseMoney
)
