package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Components wrap these with %w so callers can use errors.Is.
var (
	ErrAccessDenied      = errors.New("access denied")
	ErrHoldViolation     = errors.New("litigation hold in effect")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyVerified   = errors.New("finding already human verified")
	ErrHoldAlreadyActive = errors.New("litigation hold already active")
	ErrNoActiveHold      = errors.New("no active litigation hold")
	ErrInvalidMetadata   = errors.New("invalid event metadata")
	ErrChainBroken       = errors.New("audit chain broken")

	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthenticated   = errors.New("authentication required")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Derived errors keep the class of their parent.
var (
	ErrSessionExpired  = fmt.Errorf("%w: session expired", ErrAccessDenied)
	ErrDualCustody     = fmt.Errorf("%w: dual custody required", ErrAccessDenied)
	ErrTenantSuspended = fmt.Errorf("%w: tenant suspended", ErrAccessDenied)
	ErrRoleForbidden   = fmt.Errorf("%w: role not permitted", ErrAccessDenied)
)

// InvalidInput returns an ErrInvalidInput carrying a field-level message.
func InvalidInput(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
