// Package id defines TypeID-based identity types for all barre entities.
//
// Every entity in barre uses a single ID struct with a prefix that identifies
// the entity type. IDs are K-sortable (UUIDv7-based), globally unique,
// and URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all barre entity types.
const (
	PrefixDancer     Prefix = "dancer"  // Dancer (account holder)
	PrefixEvent      Prefix = "event"   // Finance event (competition, recital)
	PrefixCharge     Prefix = "charge"  // Billable obligation
	PrefixPayment    Prefix = "payment" // Money receipt
	PrefixEventFee   Prefix = "efee"    // Per-dancer event fee
	PrefixConnection Prefix = "aconn"   // Accounting provider connection
	PrefixSyncRecord Prefix = "sync"    // Accounting sync record
)

// ID is the primary identifier type for all barre entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "charge_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// MustParseWithPrefix is like ParseWithPrefix but panics on error.
func MustParseWithPrefix(s string, expected Prefix) ID {
	parsed, err := ParseWithPrefix(s, expected)
	if err != nil {
		panic(fmt.Sprintf("id: must parse with prefix %q: %v", expected, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// DancerID identifies a dancer (prefix: "dancer").
type DancerID = ID

// EventID identifies a finance event (prefix: "event").
type EventID = ID

// ChargeID identifies a charge (prefix: "charge").
type ChargeID = ID

// PaymentID identifies a payment (prefix: "payment").
type PaymentID = ID

// EventFeeID identifies an event fee (prefix: "efee").
type EventFeeID = ID

// ConnectionID identifies an accounting connection (prefix: "aconn").
type ConnectionID = ID

// SyncRecordID identifies an accounting sync record (prefix: "sync").
type SyncRecordID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

func NewDancerID() ID     { return New(PrefixDancer) }
func NewEventID() ID      { return New(PrefixEvent) }
func NewChargeID() ID     { return New(PrefixCharge) }
func NewPaymentID() ID    { return New(PrefixPayment) }
func NewEventFeeID() ID   { return New(PrefixEventFee) }
func NewConnectionID() ID { return New(PrefixConnection) }
func NewSyncRecordID() ID { return New(PrefixSyncRecord) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

func ParseDancerID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixDancer) }
func ParseEventID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixEvent) }
func ParseChargeID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixCharge) }
func ParsePaymentID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixPayment) }
func ParseEventFeeID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixEventFee) }
func ParseConnectionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixConnection) }
func ParseSyncRecordID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSyncRecord) }

// ParseTransactionID parses a ledger transaction ID, which is either a
// charge or a payment.
func ParseTransactionID(s string) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	switch parsed.Prefix() {
	case PrefixCharge, PrefixPayment:
		return parsed, nil
	default:
		return Nil, fmt.Errorf("id: %q is not a charge or payment id", s)
	}
}

// ParseOptional parses s with the expected prefix, returning Nil for an
// empty string. Stores use it for nullable reference columns.
func ParseOptional(s string, expected Prefix) (ID, error) {
	if s == "" {
		return Nil, nil
	}
	return ParseWithPrefix(s, expected)
}

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
