// Package provider defines the boundary to external accounting systems.
//
// A Provider receives one ledger transaction at a time and creates or
// updates the matching object on its side: an invoice for a charge, a
// payment applied to invoices, or a bank transaction for money that was not
// applied to any charge. Providers must honor the idempotency key: two
// pushes with the same key create at most one remote object.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/txn"
	"github.com/xraph/barre/types"
)

// Provider pushes ledger transactions to an accounting system.
type Provider interface {
	// Name is the provider key stored on connections and sync records.
	Name() string

	// Push creates the remote object, or updates it when
	// req.ExternalObjectID is set. A *Rejection error is definitive; any
	// other error is treated as transient.
	Push(ctx context.Context, req *PushRequest) (*PushResult, error)
}

// Authorizer is the OAuth collaborator. It completes the token exchange for
// a studio and reports only token presence and expiry.
type Authorizer interface {
	Authorize(ctx context.Context, studioKey, provider string) (*connection.TokenState, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, studioKey, provider string) (*connection.TokenState, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, studioKey, provider string) (*connection.TokenState, error) {
	return f(ctx, studioKey, provider)
}

// Line is one invoice line.
type Line struct {
	Description string      `json:"description"`
	AccountCode string      `json:"account_code"`
	TaxCode     string      `json:"tax_code,omitempty"`
	Amount      types.Money `json:"amount"`
}

// Application links a payment to a charge's remote invoice.
type Application struct {
	ChargeID          string      `json:"charge_id"`
	ExternalInvoiceID string      `json:"external_invoice_id,omitempty"`
	Amount            types.Money `json:"amount"`
}

// PushRequest is everything a provider needs to mirror one transaction.
type PushRequest struct {
	StudioKey        string                `json:"studio_key"`
	TenantID         string                `json:"tenant_id,omitempty"`
	ObjectType       syncrecord.ObjectType `json:"object_type"`
	TransactionID    string                `json:"transaction_id"`
	TransactionKind  txn.Kind              `json:"transaction_kind"`
	IdempotencyKey   string                `json:"idempotency_key"`
	ExternalObjectID string                `json:"external_object_id,omitempty"`
	ContactID        string                `json:"contact_id"`
	Date             time.Time             `json:"date"`
	DueDate          *time.Time            `json:"due_date,omitempty"`
	Description      string                `json:"description,omitempty"`
	Reference        string                `json:"reference,omitempty"`
	Amount           types.Money           `json:"amount"`
	Lines            []Line                `json:"lines,omitempty"`
	Applications     []Application         `json:"applications,omitempty"`
	DepositAccount   string                `json:"deposit_account,omitempty"`
}

// Update reports whether the push amends an existing remote object.
func (r *PushRequest) Update() bool { return r.ExternalObjectID != "" }

// PushResult is the provider's confirmation.
type PushResult struct {
	ExternalObjectID string `json:"external_object_id"`
}

// Rejection is a definitive refusal: the provider will not accept the
// transaction until its data or mapping changes.
type Rejection struct {
	Code   string
	Reason string
}

func (r *Rejection) Error() string {
	if r.Code == "" {
		return "provider: rejected: " + r.Reason
	}
	return fmt.Sprintf("provider: rejected (%s): %s", r.Code, r.Reason)
}

// Reject builds a Rejection with a formatted reason.
func Reject(code, format string, args ...any) error {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is, or wraps, a *Rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}
