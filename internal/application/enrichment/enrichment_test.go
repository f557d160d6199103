package enrichment

import (
	"context"
	"errors"
	"testing"

	"github.com/garyjia/receipt-pipeline/internal/domain/attendee"
	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extracted(totalWithoutTip, tip float64) entity.BillingRecord {
	return entity.BillingRecord{
		Date:            "2022-03-14",
		LocationName:    "Trattoria Roma",
		CurrencyCode:    "EUR",
		TotalWithoutTip: totalWithoutTip,
		TotalWithTip:    totalWithoutTip + tip,
		TipAmount:       tip,
		Stage:           workflow.StateExtracted,
	}
}

func TestTipStep_AddsTenPercentWhenNoTip(t *testing.T) {
	step := NewTipStep(DefaultTipRate)

	got, err := step.Apply(context.Background(), extracted(45.00, 0))

	require.NoError(t, err)
	assert.Equal(t, 4.50, got.TipAmount)
	assert.Equal(t, 49.50, got.TotalWithTip)
	assert.Equal(t, 0.10, got.TipPercentage)
}

func TestTipStep_InvariantHoldsForManyTotals(t *testing.T) {
	step := NewTipStep(DefaultTipRate)

	for _, total := range []float64{0.01, 0.99, 7.77, 12.34, 19.95, 33.33, 99.99, 123.45, 1234.56} {
		got, err := step.Apply(context.Background(), extracted(total, 0))
		require.NoError(t, err)

		assert.Equal(t, 0.10, got.TipPercentage, "total %v", total)
		assert.Equal(t, got.TotalWithoutTip+got.TipAmount, got.TotalWithTip, "total %v", total)
		want := decimal.NewFromFloat(total).Mul(decimal.NewFromFloat(DefaultTipRate)).RoundBank(2).InexactFloat64()
		assert.Equal(t, want, got.TipAmount, "total %v", total)
	}
}

func TestTipStep_RoundsHalfToEven(t *testing.T) {
	step := NewTipStep(DefaultTipRate)

	tests := []struct {
		total float64
		want  float64
	}{
		{total: 0.25, want: 0.02},
		{total: 0.35, want: 0.04},
		{total: 0.45, want: 0.04},
		{total: 123.45, want: 12.34},
		{total: 123.55, want: 12.36},
	}

	for _, tt := range tests {
		got, err := step.Apply(context.Background(), extracted(tt.total, 0))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.TipAmount, "total %v", tt.total)
	}
}

func TestTipStep_KeepsExistingTip(t *testing.T) {
	step := NewTipStep(DefaultTipRate)
	in := extracted(45.00, 5.00)
	in.TipPercentage = 0.111

	once, err := step.Apply(context.Background(), in)
	require.NoError(t, err)
	twice, err := step.Apply(context.Background(), once)
	require.NoError(t, err)

	assert.Equal(t, in, once)
	assert.Equal(t, once, twice)
}

func TestTipStep_MissingTotal(t *testing.T) {
	step := NewTipStep(DefaultTipRate)

	_, err := step.Apply(context.Background(), extracted(0, 0))

	var missing *entity.MissingFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, entity.FieldTotalWithoutTip, missing.Field)
	assert.Equal(t, "tip", missing.Step)
}

func TestTopicStep_AlwaysOverwrites(t *testing.T) {
	registry := attendee.NewRegistry([]string{"Alice"}, []string{"Atlas", "Beacon"})
	idx := 1
	step := NewTopicStep(registry, attendee.NewRand(1, 0), "", &idx)

	old := "Something else"
	in := extracted(45, 4.5)
	in.Topic = &old

	got, err := step.Apply(context.Background(), in)

	require.NoError(t, err)
	require.NotNil(t, got.Topic)
	assert.Equal(t, "Projektbesprechung Beacon", *got.Topic)
	assert.Equal(t, "Something else", *in.Topic)
}

func TestTopicStep_FormatWithoutPlaceholder(t *testing.T) {
	registry := attendee.NewRegistry([]string{"Alice"}, []string{"Atlas"})
	step := NewTopicStep(registry, attendee.NewRand(1, 0), "Team lunch", nil)

	got, err := step.Apply(context.Background(), extracted(45, 4.5))

	require.NoError(t, err)
	assert.Equal(t, "Team lunch Atlas", got.TopicOrEmpty())
}

func TestTopicStep_EmptyProjects(t *testing.T) {
	registry := attendee.NewRegistry([]string{"Alice"}, nil)
	step := NewTopicStep(registry, attendee.NewRand(1, 0), "", nil)

	_, err := step.Apply(context.Background(), extracted(45, 4.5))

	assert.ErrorIs(t, err, attendee.ErrEmptyProjectPool)
}

func TestAttendeeStep_SamplesFromTotal(t *testing.T) {
	registry := attendee.NewRegistry([]string{"Alice", "Bob", "Carol", "Dan"}, []string{"Atlas"})
	step := NewAttendeeStep(registry, attendee.NewRand(3, 0))

	got, err := step.Apply(context.Background(), extracted(45, 4.5))

	require.NoError(t, err)
	// floor(49 / (18 + 49*0.08)) = 2
	require.Len(t, got.Names, 2)
	assert.Equal(t, "Alice", got.Names[0])
}

func TestAttendeeStep_SmallTotalKeepsPayer(t *testing.T) {
	registry := attendee.NewRegistry([]string{"Alice", "Bob"}, []string{"Atlas"})
	step := NewAttendeeStep(registry, attendee.NewRand(3, 0))

	got, err := step.Apply(context.Background(), extracted(5, 0.5))

	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, got.Names)
}

func TestAttendeeStep_MissingTotalWithTip(t *testing.T) {
	registry := attendee.NewRegistry([]string{"Alice"}, []string{"Atlas"})
	step := NewAttendeeStep(registry, attendee.NewRand(3, 0))
	in := extracted(45, 0)
	in.TotalWithTip = 0

	_, err := step.Apply(context.Background(), in)

	var missing *entity.MissingFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, entity.FieldTotalWithTip, missing.Field)
}

func TestSteps_Order(t *testing.T) {
	registry := attendee.NewRegistry([]string{"Alice"}, []string{"Atlas"})

	steps := Steps(DefaultConfig(), registry, attendee.RandSource{Seed: 1})

	require.Len(t, steps, 3)
	assert.Equal(t, workflow.TriggerAddTip, steps[0].Trigger())
	assert.Equal(t, workflow.TriggerAssignTopic, steps[1].Trigger())
	assert.Equal(t, workflow.TriggerSampleAttendees, steps[2].Trigger())
}
