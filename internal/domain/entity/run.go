package entity

import (
	"time"

	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
)

// Run status constants for PipelineRun
const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// PipelineRun is the audit record of one receipt processed through the
// pipeline. Seed and Stream select its random source; Stream is the page
// index for document pages and 0 for single texts.
type PipelineRun struct {
	ID         int64      `json:"id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Seed       uint64     `json:"seed"`
	Stream     uint64     `json:"stream"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunSnapshot is one persisted record version of a run
type RunSnapshot struct {
	ID       int64          `json:"id"`
	RunID    int64          `json:"run_id"`
	Seq      int            `json:"seq"`
	Step     string         `json:"step"`
	Stage    workflow.State `json:"stage"`
	Record   BillingRecord  `json:"record"`
	Duration time.Duration  `json:"duration_ns"`
}
