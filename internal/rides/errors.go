package rides

import "errors"

var (
	// ErrInvalidTransition is returned when a requested status change
	// is not in the transition table. The ride is left unchanged.
	ErrInvalidTransition = errors.New("invalid ride status transition")
	// ErrConflict is returned when the persisted status no longer
	// matches the expected status at write time, e.g. two drivers
	// accepting the same ride concurrently.
	ErrConflict = errors.New("ride status conflict")
	// ErrNotFound is returned when the ride does not exist.
	ErrNotFound = errors.New("ride not found")
	// ErrActiveRide is returned when a rider already has a
	// non-terminal ride and tries to create another one.
	ErrActiveRide = errors.New("party already has an active ride")
)
