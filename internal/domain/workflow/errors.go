package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a trigger is not permitted in the current stage
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrInvalidState is returned when a stage is not known
	ErrInvalidState = errors.New("invalid stage")
)
