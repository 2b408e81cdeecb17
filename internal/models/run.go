package models

import "time"

type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
	RunStatusStuck    RunStatus = "stuck"
)

// Run is one simulator session that published events for a workflow.
type Run struct {
	ID          int64
	CreatedAt   time.Time
	CompletedAt *time.Time
	WorkflowID  string
	ExecutionID string
	Source      string // "graph" or the path of a Lua scenario
	Status      RunStatus
	CurrentNode string
	Error       string
}

// Step is one event a run published, in emission order.
type Step struct {
	ID          int64
	RunID       int64
	ExecutionID string
	NodeID      string
	Status      NodeStatus
	EmittedAt   time.Time
	SequenceNum int
	Data        *EventData
}
