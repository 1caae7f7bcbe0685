package interfaces

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when a resource that must be unique already exists.
	// Provisioning treats it as success when ensuring a resource exists.
	ErrConflict = errors.New("resource already exists")

	// ErrNotFound is returned when a principal, wallet, identity or session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized covers bad, expired or revoked credentials and failed external authentication.
	// Callers never learn which of those it was.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrEnvelope is matched by every EnvelopeError.
	ErrEnvelope = errors.New("envelope encryption failure")

	// ErrAuthenticationFailed is returned when an authenticated ciphertext does not verify.
	ErrAuthenticationFailed = errors.New("ciphertext authentication failed")

	// ErrProvisioningFailed is returned when a provisioning step failed and the principal stays inactive.
	ErrProvisioningFailed = errors.New("registration did not complete")

	// ErrNoActiveKeys is returned by the key pool when no root key is usable.
	ErrNoActiveKeys = errors.New("no active root keys in pool")

	// ErrRootKeyUnavailable means the root key does not exist or is disabled. Retrying will not help.
	ErrRootKeyUnavailable = errors.New("root key not found or disabled")

	// ErrRootKeyTransient means the root key service could not be reached or refused the caller.
	ErrRootKeyTransient = errors.New("root key service transient failure")

	// ErrEmptyResult is returned when the root key service answered without ciphertext or plaintext.
	ErrEmptyResult = errors.New("root key service returned no data")
)

// EnvelopeError carries the upstream cause of a root key service or cipher failure.
type EnvelopeError struct {
	Op        string
	RootKeyID string
	Transient bool
	Err       error
}

func (e *EnvelopeError) Error() string {
	if e.RootKeyID == "" {
		return fmt.Sprintf("envelope %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("envelope %s with root key %s: %v", e.Op, e.RootKeyID, e.Err)
}

func (e *EnvelopeError) Unwrap() error { return e.Err }

func (e *EnvelopeError) Is(target error) bool { return target == ErrEnvelope }

// NewEnvelopeError classifies err as transient only when the root key service could not
// be reached or the call timed out. Disabled keys, empty results and failed
// authentication are permanent.
func NewEnvelopeError(op, rootKeyID string, err error) *EnvelopeError {
	transient := errors.Is(err, ErrRootKeyTransient) || errors.Is(err, context.DeadlineExceeded)
	return &EnvelopeError{Op: op, RootKeyID: rootKeyID, Transient: transient, Err: err}
}

// IsTransient reports whether err is an EnvelopeError that may succeed on retry.
func IsTransient(err error) bool {
	var envErr *EnvelopeError
	if errors.As(err, &envErr) {
		return envErr.Transient
	}
	return errors.Is(err, ErrRootKeyTransient)
}

// ProvisioningError names the saga step that failed for a principal.
type ProvisioningError struct {
	PrincipalID string
	Step        string
	Err         error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s for principal %s: %v", e.Step, e.PrincipalID, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

func (e *ProvisioningError) Is(target error) bool { return target == ErrProvisioningFailed }
