package pipeline

import (
	"context"

	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
)

// ExtractionStepName names the first step of every run
const ExtractionStepName = "extraction"

// Step is an enrichment applied to the current record. Apply must not modify
// its input; it returns the next version.
type Step interface {
	Name() string
	Trigger() workflow.Trigger
	Apply(ctx context.Context, record entity.BillingRecord) (entity.BillingRecord, error)
}

// StepFunc adapts a function to the Step interface
type StepFunc struct {
	StepName    string
	StepTrigger workflow.Trigger
	Fn          func(ctx context.Context, record entity.BillingRecord) (entity.BillingRecord, error)
}

func (s StepFunc) Name() string              { return s.StepName }
func (s StepFunc) Trigger() workflow.Trigger { return s.StepTrigger }

func (s StepFunc) Apply(ctx context.Context, record entity.BillingRecord) (entity.BillingRecord, error) {
	return s.Fn(ctx, record)
}
