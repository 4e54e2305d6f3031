package shared

import "errors"

// Error tiers. Every domain error matches exactly one of these through errors.Is.
var (
	// ErrValidation marks bad input; nothing was mutated.
	ErrValidation = errors.New("validation failed")
	// ErrState marks a request that does not fit the current status of its target.
	ErrState = errors.New("invalid state")
	// ErrIntegrity marks data corruption or a lost race that aborted the whole unit of work.
	ErrIntegrity = errors.New("integrity violation")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)

var (
	// ErrConcurrentUpdate is returned when another transaction advanced the same record first.
	ErrConcurrentUpdate = NewStateError("request already processed by a concurrent update")
	// ErrActorRequired is returned when a mutating operation receives no actor.
	ErrActorRequired = NewValidationError("actor is required")
)

type tierError struct {
	tier error
	msg  string
}

func (e *tierError) Error() string { return e.msg }

func (e *tierError) Is(target error) bool { return target == e.tier }

// NewValidationError builds a sentinel in the validation tier.
func NewValidationError(msg string) error {
	return &tierError{tier: ErrValidation, msg: msg}
}

// NewStateError builds a sentinel in the state tier.
func NewStateError(msg string) error {
	return &tierError{tier: ErrState, msg: msg}
}

// NewNotFoundError builds a sentinel that matches ErrNotFound.
func NewNotFoundError(msg string) error {
	return &tierError{tier: ErrNotFound, msg: msg}
}

// NewIntegrityError builds a sentinel in the integrity tier.
func NewIntegrityError(msg string) error {
	return &tierError{tier: ErrIntegrity, msg: msg}
}

// IsIntegrity reports whether err must be treated as a system failure.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}
