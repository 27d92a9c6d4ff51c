// errors.go - Failure conditions of the registry.
//
// Validation errors reject before any state read beyond input checking,
// conflict errors reject after a lookup with no mutation, authorization
// errors are checked before any other logic, and a proof rejection is treated
// like a conflict: full rejection, zero mutation. No failure is fatal and
// nothing is retried internally.

package registry

import "errors"

var (
	// Validation errors.
	ErrInvalidMarket = errors.New("registry: invalid market id")
	ErrInvalidAsset  = errors.New("registry: invalid asset id")
	ErrZeroAmount    = errors.New("registry: zero amount")
	ErrSelfMatch     = errors.New("registry: order cannot settle against itself")

	// Conflict errors.
	ErrNullifierReused   = errors.New("registry: nullifier already used")
	ErrCommitmentExists  = errors.New("registry: commitment already submitted")
	ErrNotFound          = errors.New("registry: order not found")
	ErrNotActive         = errors.New("registry: order not active")
	ErrNotOwner          = errors.New("registry: caller is not the order owner")
	ErrAssetNotSupported = errors.New("registry: asset not supported")

	// Authorization errors.
	ErrNotAdmin             = errors.New("registry: caller is not the administrator")
	ErrNotAuthorizedMatcher = errors.New("registry: caller is not an authorized matcher")

	// Proof rejection.
	ErrProofRejected = errors.New("registry: proof rejected")
)
