package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/receipt-pipeline/internal/application/port"
	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
	"go.uber.org/zap"
)

// Runner executes the extraction step followed by the enrichment steps, in
// order, appending every result to the run's history. Steps run strictly
// sequentially because each one reads the full cumulative record.
type Runner struct {
	extractor port.Extractor
	steps     []Step
	logger    *zap.Logger
	now       func() time.Time
}

// NewRunner creates a runner for one receipt
func NewRunner(extractor port.Extractor, steps []Step, logger *zap.Logger) *Runner {
	return &Runner{
		extractor: extractor,
		steps:     append([]Step(nil), steps...),
		logger:    logger,
		now:       time.Now,
	}
}

// StepNames returns the step names in execution order
func (r *Runner) StepNames() []string {
	names := make([]string, 0, len(r.steps)+1)
	names = append(names, ExtractionStepName)
	for _, s := range r.steps {
		names = append(names, s.Name())
	}
	return names
}

// Run processes raw text through every step. On failure the returned history
// holds the versions appended before the failing step and the error is a
// *StepError; the run is not retried.
func (r *Runner) Run(ctx context.Context, rawText string) (*History, error) {
	history := NewHistory()
	if strings.TrimSpace(rawText) == "" {
		return history, ErrEmptyText
	}

	machine := workflow.NewRecordMachine(workflow.StateRaw)

	start := r.now()
	record, err := r.extractor.Extract(ctx, rawText)
	if err != nil {
		var extractErr *entity.ExtractionError
		if !errors.As(err, &extractErr) {
			err = &entity.ExtractionError{Reason: "extraction service error", Err: err}
		}
		r.logger.Error("Extraction step failed", zap.Error(err))
		return history, &StepError{Index: 0, Step: ExtractionStepName, Err: err}
	}

	stage, err := machine.Fire(workflow.TriggerExtract)
	if err != nil {
		return history, &StepError{Index: 0, Step: ExtractionStepName, Err: err}
	}
	record.Stage = stage
	r.record(history, ExtractionStepName, record, r.now().Sub(start))

	return history, r.advance(ctx, history, machine)
}

// Resume continues a partially processed history, skipping the steps whose
// stage the current record has already reached
func (r *Runner) Resume(ctx context.Context, history *History) error {
	current, err := history.Current()
	if err != nil {
		return err
	}
	if !current.Stage.IsValid() {
		return fmt.Errorf("%w: %q", workflow.ErrInvalidState, current.Stage)
	}
	if current.Stage.IsTerminal() {
		r.logger.Debug("History already final, nothing to resume", zap.Int("versions", history.Len()))
		return nil
	}

	return r.advance(ctx, history, workflow.NewRecordMachine(current.Stage))
}

func (r *Runner) advance(ctx context.Context, history *History, machine workflow.StateMachine) error {
	for i, step := range r.steps {
		index := i + 1

		target, ok := workflow.Target(step.Trigger())
		if !ok {
			return &StepError{Index: index, Step: step.Name(), Err: fmt.Errorf("%w: unknown trigger %s", workflow.ErrInvalidTransition, step.Trigger())}
		}
		if machine.State().Reached(target) {
			r.logger.Debug("Skipping step, stage already reached",
				zap.String("step", step.Name()),
				zap.String("stage", machine.State().String()))
			continue
		}
		if !machine.CanFire(step.Trigger()) {
			return &StepError{Index: index, Step: step.Name(), Err: fmt.Errorf("%w: cannot fire %s from %s (permitted: %v)", workflow.ErrInvalidTransition, step.Trigger(), machine.State(), machine.PermittedTriggers())}
		}
		if err := ctx.Err(); err != nil {
			return &StepError{Index: index, Step: step.Name(), Err: err}
		}

		current, err := history.Current()
		if err != nil {
			return &StepError{Index: index, Step: step.Name(), Err: err}
		}

		start := r.now()
		next, err := step.Apply(ctx, current)
		if err != nil {
			r.logger.Error("Pipeline step failed",
				zap.String("step", step.Name()),
				zap.Int("index", index),
				zap.Error(err))
			return &StepError{Index: index, Step: step.Name(), Err: err}
		}

		stage, err := machine.Fire(step.Trigger())
		if err != nil {
			return &StepError{Index: index, Step: step.Name(), Err: err}
		}
		next.Stage = stage
		r.record(history, step.Name(), next, r.now().Sub(start))
	}

	return nil
}

func (r *Runner) record(history *History, step string, record entity.BillingRecord, d time.Duration) {
	history.append(step, record, d)
	r.logger.Info("Pipeline step completed",
		zap.String("step", step),
		zap.String("stage", record.Stage.String()),
		zap.Duration("duration", d),
		zap.Int("versions", history.Len()))
}
