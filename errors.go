package barre

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("barre: not found")
	ErrAlreadyExists = errors.New("barre: already exists")
	ErrConflict      = errors.New("barre: conflicting concurrent write")
	ErrInvalidAmount = errors.New("barre: invalid amount")

	// Ledger errors
	ErrDancerNotFound     = errors.New("barre: dancer not found")
	ErrEventNotFound      = errors.New("barre: event not found")
	ErrChargeNotFound     = errors.New("barre: charge not found")
	ErrPaymentNotFound    = errors.New("barre: payment not found")
	ErrEventFeeNotFound   = errors.New("barre: event fee not found")
	ErrEventAlreadyBilled = errors.New("barre: event already billed for dancer")
	ErrChargeLocked       = errors.New("barre: charge is synced and can no longer be corrected")

	// Connection errors
	ErrConnectionNotFound = errors.New("barre: accounting connection not found")
	ErrNoActiveConnection = errors.New("barre: no active accounting connection")
	ErrConnectionClosed   = errors.New("barre: accounting connection is disconnected")
	ErrProviderNotFound   = errors.New("barre: accounting provider not registered")

	// Sync errors
	ErrSyncRecordNotFound = errors.New("barre: sync record not found")
	ErrSyncInFlight       = errors.New("barre: sync already in flight for transaction")
	ErrUnmapped           = errors.New("barre: no accounting mapping for transaction")
	ErrSyncDependency     = errors.New("barre: applied charge has not been synced yet")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("barre: validation failed for %s: %s", e.Field, e.Message)
}

// ProviderError reports a failed call to an external accounting provider or
// OAuth collaborator. Transient failures may be retried; the rest are
// definitive rejections.
type ProviderError struct {
	Provider  string
	Op        string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "rejected"
	if e.Transient {
		kind = "unavailable"
	}
	return fmt.Sprintf("barre: provider %s %s %s: %v", e.Provider, e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "barre: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("barre: %d errors occurred: %v", len(e.Errors), e.Errors[0])
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrorOrNil returns nil when no errors were added.
func (e MultiError) ErrorOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDancerNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrChargeNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrEventFeeNotFound) ||
		errors.Is(err, ErrConnectionNotFound) ||
		errors.Is(err, ErrNoActiveConnection) ||
		errors.Is(err, ErrSyncRecordNotFound) ||
		errors.Is(err, ErrProviderNotFound)
}

// IsConflict returns true if the error reports a concurrent or duplicate write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrSyncInFlight) ||
		errors.Is(err, ErrEventAlreadyBilled) ||
		errors.Is(err, ErrChargeLocked)
}

// IsValidation returns true for caller input errors, which are never retried.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrInvalidAmount)
}

// IsProviderError returns true if err came from an external provider call.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrSyncInFlight) ||
		errors.Is(err, ErrSyncDependency)
}
