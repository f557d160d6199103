package enrichment

import (
	"context"

	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

// DefaultTipRate is the tip added to receipts that show none
const DefaultTipRate = 0.10

// TipStep adds a tip of rate * total_without_tip, rounded half-to-even to
// cents, when the extracted record carries no tip. A tip already present on
// the receipt is kept as is.
type TipStep struct {
	rate decimal.Decimal
}

// NewTipStep creates a tip step with the given rate (0.10 for 10%)
func NewTipStep(rate float64) *TipStep {
	return &TipStep{rate: decimal.NewFromFloat(rate)}
}

func (s *TipStep) Name() string { return "tip" }

func (s *TipStep) Trigger() workflow.Trigger { return workflow.TriggerAddTip }

// Apply returns the record with tip fields filled in
func (s *TipStep) Apply(_ context.Context, record entity.BillingRecord) (entity.BillingRecord, error) {
	if record.HasTip() {
		return record.Clone(), nil
	}
	if record.TotalWithoutTip <= 0 {
		return entity.BillingRecord{}, &entity.MissingFieldError{Field: entity.FieldTotalWithoutTip, Step: s.Name()}
	}

	tip := decimal.NewFromFloat(record.TotalWithoutTip).Mul(s.rate).RoundBank(2)

	next := record.Clone()
	next.TipPercentage = s.rate.InexactFloat64()
	next.TipAmount = tip.InexactFloat64()
	// total_with_tip == total_without_tip + tip_amount must hold exactly
	next.TotalWithTip = next.TotalWithoutTip + next.TipAmount
	return next, nil
}
