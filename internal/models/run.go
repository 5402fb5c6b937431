package models

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Window is the half-open extraction interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Run is one entry of the local run journal.
type Run struct {
	ID          string     `json:"id"`
	Window      Window     `json:"window"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      RunStatus  `json:"status"`
	Extracted   int        `json:"extracted"`
	Unpacked    int        `json:"unpacked"`
	Valid       int        `json:"valid"`
	Inserted    int64      `json:"inserted"`
	FailedBatch int        `json:"failed_batches"`
	Error       string     `json:"error,omitempty"`
}

// Duration returns how long the run took, or zero while it is still running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Stage names a pipeline step in progress events.
type Stage string

const (
	StageStart     Stage = "start"
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageStats     Stage = "statistics"
	StageLoad      Stage = "load"
	StageExport    Stage = "export"
	StageNotify    Stage = "notify"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// Event reports pipeline progress to observers (log, WebSocket clients).
type Event struct {
	RunID   string    `json:"run_id"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	Count   int64     `json:"count,omitempty"`
	Time    time.Time `json:"time"`
}
