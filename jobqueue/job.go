// Package jobqueue provides the durable, priority-ordered job queue on top of
// a JetStream work-queue stream. Jobs are at-least-once: a handler that
// returns a retryable error is redelivered by the consumer's backoff policy
// up to MaxDeliver times.
package jobqueue

import (
	"fmt"
	"time"
)

// Action identifies a job family. Consumers register per action and each
// action family has its own concurrency budget.
type Action string

const (
	ActionSync    Action = "sync"
	ActionFetch   Action = "fetch"
	ActionAnalyze Action = "analyze"
)

// Priority orders jobs within one action family. High-priority jobs are
// consumed ahead of normal ones; fetch continuation jobs run high so an
// in-flight pagination finishes before new syncs start.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) valid() bool {
	return p == PriorityNormal || p == PriorityHigh
}

// Job is one unit of scheduled work.
type Job struct {
	ID           string         `json:"id"`
	Action       Action         `json:"action"`
	TenantID     string         `json:"tenant_id"`
	DataSourceID string         `json:"data_source_id"`
	Priority     Priority       `json:"priority,omitempty"`
	Delay        time.Duration  `json:"delay,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ScheduledAt  time.Time      `json:"scheduled_at"`
}

func (j *Job) subject(prefix string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, j.Action, j.Priority)
}

// StatusValue is the lifecycle state of one job.
type StatusValue string

const (
	StatusScheduled StatusValue = "scheduled"
	StatusRunning   StatusValue = "running"
	StatusCompleted StatusValue = "completed"
	StatusFailed    StatusValue = "failed"
)

// Status is the job-history record persisted per job ID.
type Status struct {
	JobID        string      `json:"job_id"`
	Action       Action      `json:"action"`
	TenantID     string      `json:"tenant_id"`
	DataSourceID string      `json:"data_source_id"`
	Value        StatusValue `json:"status"`
	Error        string      `json:"error,omitempty"`
	Attempts     int         `json:"attempts"`
	ScheduledAt  time.Time   `json:"scheduled_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
}
