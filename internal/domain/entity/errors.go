package entity

import "fmt"

// ExtractionError is returned when the extraction service cannot produce a
// record matching the billing schema. It is fatal to a pipeline run.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// MissingFieldError is returned when a record lacks a field that a consumer requires
type MissingFieldError struct {
	Field string
	Step  string
}

func (e *MissingFieldError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("step %s: missing required field %q", e.Step, e.Field)
	}
	return fmt.Sprintf("missing required field %q", e.Field)
}
