package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one pipeline execution as recorded in the run history.
type Run struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Model      string    `json:"model" db:"model"`
	Metric     string    `json:"metric" db:"metric"`
	Score      *float64  `json:"score,omitempty" db:"score"`
	Rows       int       `json:"rows" db:"row_count"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
	Status     RunStatus `json:"status" db:"status"`
	Error      *string   `json:"error,omitempty" db:"error"`
}

func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
