// Package kerrors defines the domain error values shared across the worker.
package kerrors

import "fmt"

// DomainError is a typed failure with a machine-readable code.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string { return e.Message }

// WithDetail wraps a domain error with extra context while keeping it
// matchable through errors.Is.
func WithDetail(err *DomainError, format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{err}, args...)...)
}

var (
	ErrNotFound = &DomainError{
		Code:    "NOT_FOUND",
		Message: "transaction not found",
	}
	ErrVersionMismatch = &DomainError{
		Code:    "VERSION_MISMATCH",
		Message: "transaction was modified concurrently",
	}
	ErrInvalidTransition = &DomainError{
		Code:    "INVALID_TRANSITION",
		Message: "status transition not permitted",
	}
	ErrKeyReserved = &DomainError{
		Code:    "KEY_RESERVED",
		Message: "idempotency key reserved by another worker",
	}
	ErrDuplicate = &DomainError{
		Code:    "DUPLICATE",
		Message: "idempotency key already committed",
	}
	ErrTokenMismatch = &DomainError{
		Code:    "TOKEN_MISMATCH",
		Message: "collection token does not match",
	}
	ErrZRARejected = &DomainError{
		Code:    "ZRA_REJECTED",
		Message: "fiscalisation result code not accepted",
	}
	ErrEvidenceMissing = &DomainError{
		Code:    "EVIDENCE_MISSING",
		Message: "no delivery proof recorded for transaction",
	}
	ErrPaymentRefSeen = &DomainError{
		Code:    "PAYMENT_REF_SEEN",
		Message: "payment reference already recorded",
	}
	ErrPaymentRefMissing = &DomainError{
		Code:    "PAYMENT_REF_MISSING",
		Message: "payment reference required",
	}
	ErrRiderMissing = &DomainError{
		Code:    "RIDER_REQUIRED",
		Message: "rider id required for assignment",
	}
	ErrPayoutUnverified = &DomainError{
		Code:    "PAYOUT_UNVERIFIED",
		Message: "payout account verification required",
	}
	ErrNoAlternative = &DomainError{
		Code:    "NO_ALTERNATIVE",
		Message: "no viable alternative shop in range",
	}
	ErrLockFailed = &DomainError{
		Code:    "LOCK_FAILED",
		Message: "could not reserve inventory at alternative shop",
	}
	ErrInvalidPayload = &DomainError{
		Code:    "INVALID_PAYLOAD",
		Message: "gift payload failed validation",
	}
)
