// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotInitialized indicates the target identity was never registered as a patient.
	ErrNotInitialized = errors.New("patient not initialized")

	// ErrAlreadyInitialized indicates a repeated patient registration.
	ErrAlreadyInitialized = errors.New("patient already initialized")

	// ErrAlreadyExists indicates the patient already has a live record.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotAuthorized indicates the caller holds no role permitting the operation.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidArgument indicates structurally invalid input (nil identity, empty name...).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnauthenticated indicates a missing, malformed or expired bearer token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRateLimited indicates the caller exceeded its request budget.
	ErrRateLimited = errors.New("rate limited")
)

// Denial sub-reasons. Each one wraps ErrNotAuthorized.
var (
	ErrNotOwner                  = fmt.Errorf("%w: caller is not the owner", ErrNotAuthorized)
	ErrNotSelf                   = fmt.Errorf("%w: caller is not the patient", ErrNotAuthorized)
	ErrDoctorNotConsented        = fmt.Errorf("%w: doctor has no patient consent", ErrNotAuthorized)
	ErrHealthCenterNotAuthorized = fmt.Errorf("%w: health center lacks owner approval or patient consent", ErrNotAuthorized)
)
