package enrichment

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/garyjia/receipt-pipeline/internal/domain/attendee"
	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
)

// AttendeeStepName names the attendee step in histories and random sources
const AttendeeStepName = "attendees"

// AttendeeStep samples the attendee list from the registry. The number of
// names follows from total_with_tip and the registry's per-person threshold.
type AttendeeStep struct {
	registry *attendee.Registry
	rng      *rand.Rand
}

// NewAttendeeStep creates an attendee sampling step
func NewAttendeeStep(registry *attendee.Registry, rng *rand.Rand) *AttendeeStep {
	return &AttendeeStep{registry: registry, rng: rng}
}

func (s *AttendeeStep) Name() string { return AttendeeStepName }

func (s *AttendeeStep) Trigger() workflow.Trigger { return workflow.TriggerSampleAttendees }

// Apply returns the record with the payer and sampled guests
func (s *AttendeeStep) Apply(_ context.Context, record entity.BillingRecord) (entity.BillingRecord, error) {
	if record.TotalWithTip <= 0 {
		return entity.BillingRecord{}, &entity.MissingFieldError{Field: entity.FieldTotalWithTip, Step: s.Name()}
	}

	count := s.registry.NameCount(record.TotalWithTip)
	names, err := s.registry.SampleNames(s.rng, count)
	if err != nil {
		return entity.BillingRecord{}, fmt.Errorf("failed to sample attendees: %w", err)
	}

	next := record.Clone()
	next.Names = names
	return next, nil
}
