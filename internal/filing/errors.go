package filing

import (
	"context"
	"errors"
	"net"
)

// Sentinel errors for the claim and discovery paths.
var (
	// ErrOwnershipConflict means the resource is claimed by a different
	// identity. Permanent: callers skip the resource and never retry.
	ErrOwnershipConflict = errors.New("resource claimed by another identity")

	// ErrSessionExpired means the authenticated session against the external
	// system lapsed. Callers re-authenticate and continue.
	ErrSessionExpired = errors.New("external session expired")

	// ErrMalformedCase means a case identifier failed the one deterministic
	// repair attempt and the resource was dropped.
	ErrMalformedCase = errors.New("malformed case number")

	// ErrClaimRejected means the external system answered the claim with its
	// error marker. Permanent: retrying the same request cannot change the
	// answer; the resource is left for the next discovery pass.
	ErrClaimRejected = errors.New("claim rejected by external system")

	// ErrTaskNotFound is returned by store lookups and resets on unknown ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAuthorizationNotFound is the authorization-store counterpart.
	ErrAuthorizationNotFound = errors.New("pending authorization not found")
)

// IsPermanent reports whether the error must never be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrOwnershipConflict) ||
		errors.Is(err, ErrMalformedCase) ||
		errors.Is(err, ErrClaimRejected)
}

// IsTransient reports whether the error is worth a bounded retry. Context
// cancellation and permanent failures are excluded; network timeouts and
// other transport errors qualify.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return !errors.Is(err, ErrSessionExpired)
}
