package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyHistory is returned when the current record of an empty history is requested
	ErrEmptyHistory = errors.New("snapshot history is empty")

	// ErrEmptyText is returned when a run is started without raw text
	ErrEmptyText = errors.New("raw text is empty")
)

// StepError wraps the failure of one pipeline step. Index 0 is the extraction step.
type StepError struct {
	Index int
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline step %d (%s) failed: %v", e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
