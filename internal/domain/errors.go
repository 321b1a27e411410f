package domain

import "errors"

// Domain errors returned by repository implementations and services.

var (
	// ErrJobNotFound indicates the requested job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnitNotFound indicates the requested unit does not exist.
	ErrUnitNotFound = errors.New("unit not found")

	// ErrJobKeyConflict indicates a job with the same job key already exists.
	ErrJobKeyConflict = errors.New("job key already exists")

	// ErrTooManyUnits indicates a submission exceeds the per-job unit cap.
	ErrTooManyUnits = errors.New("too many units in submission")

	// ErrLeaseLost indicates a guarded mutation affected zero rows: the lease
	// expired and another worker took the unit over, or the unit was already
	// finalized. Not a failure; the caller must stop mutating the unit.
	ErrLeaseLost = errors.New("unit lease lost")

	// ErrJobNotCancellable indicates the job is already in a terminal state.
	ErrJobNotCancellable = errors.New("job is not cancellable")

	// ErrUnitNotRedrivable indicates the unit is not in DLQ.
	ErrUnitNotRedrivable = errors.New("unit is not in DLQ")

	// ErrInvalidRequest indicates a malformed client request.
	ErrInvalidRequest = errors.New("invalid request")
)
