package model

import "time"

// RunStatus represents the lifecycle state of a statistics run.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusComplete   RunStatus = "complete"
	RunStatusFailed     RunStatus = "failed"
	RunStatusSuperseded RunStatus = "superseded"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed || s == RunStatusSuperseded
}

// RunParams records the inputs of a statistics run.
type RunParams struct {
	Session   string  `json:"session,omitempty" yaml:"session,omitempty"`
	Level     int     `json:"level" yaml:"level"`
	Seed      *Point  `json:"seed,omitempty" yaml:"seed,omitempty"`
	BasinIDs  []int64 `json:"basin_ids" yaml:"basin_ids"`
	StartYear int     `json:"start_year" yaml:"start_year"`
	EndYear   int     `json:"end_year" yaml:"end_year"`
	Threshold int     `json:"threshold" yaml:"threshold"`
}

// RunResult holds the zonal statistics produced by a completed run.
type RunResult struct {
	Rows       []ZonalStatRow `json:"rows" yaml:"rows"`
	BasinCount int            `json:"basin_count" yaml:"basin_count"`
	TotalArea  float64        `json:"total_area_ha" yaml:"total_area_ha"`
	DurationMs int64          `json:"duration_ms" yaml:"duration_ms"`
}

// Run is one persisted statistics computation.
type Run struct {
	ID        string     `json:"id" yaml:"id"`
	Params    RunParams  `json:"params" yaml:"params"`
	Status    RunStatus  `json:"status" yaml:"status"`
	Result    *RunResult `json:"result,omitempty" yaml:"result,omitempty"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
}
