package port

import (
	"context"
	"errors"

	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
)

// ErrRunNotFound is returned by a RunRepository when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

// RunRepository persists pipeline runs and their snapshot histories
type RunRepository interface {
	Create(ctx context.Context, run *entity.PipelineRun) error
	AppendSnapshot(ctx context.Context, snapshot *entity.RunSnapshot) error
	Finish(ctx context.Context, id int64, status, errMsg string) error
	GetByID(ctx context.Context, id int64) (*entity.PipelineRun, error)
	List(ctx context.Context, limit, offset int) ([]*entity.PipelineRun, error)
	ListSnapshots(ctx context.Context, runID int64) ([]*entity.RunSnapshot, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
