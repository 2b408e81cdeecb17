package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/mpataki/flowwatch/internal/xjson"
)

type NodeStatus string

const (
	NodeStatusIdle    NodeStatus = "idle"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)

func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusIdle, NodeStatusRunning, NodeStatusSuccess, NodeStatusError:
		return true
	}
	return false
}

// Terminal reports whether the status ends a node's activity within a run.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusSuccess || s == NodeStatusError
}

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

var ErrInvalidEvent = errors.New("invalid execution event")

// ExecutionEvent reports that a node, within one execution, moved to a status.
type ExecutionEvent struct {
	WorkflowID  string     `json:"workflowId"`
	NodeID      string     `json:"nodeId"`
	ExecutionID string     `json:"executionId"`
	Status      NodeStatus `json:"status"`
	Timestamp   time.Time  `json:"timestamp"`
	Data        *EventData `json:"data,omitempty"`
}

// EventData is opaque debugging payload carried for display only.
type EventData struct {
	Input    any    `json:"input,omitempty"`
	Output   any    `json:"output,omitempty"`
	Duration *int64 `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ParseExecutionEvent decodes one wire message and checks the fields the
// engine relies on.
func ParseExecutionEvent(data []byte) (ExecutionEvent, error) {
	var ev ExecutionEvent
	if err := xjson.Unmarshal(data, &ev); err != nil {
		return ExecutionEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return ExecutionEvent{}, err
	}
	return ev, nil
}

func (e ExecutionEvent) Validate() error {
	switch {
	case e.WorkflowID == "":
		return fmt.Errorf("%w: missing workflowId", ErrInvalidEvent)
	case e.NodeID == "":
		return fmt.Errorf("%w: missing nodeId", ErrInvalidEvent)
	case e.ExecutionID == "":
		return fmt.Errorf("%w: missing executionId", ErrInvalidEvent)
	case !e.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, e.Status)
	}
	return nil
}

func (e ExecutionEvent) Marshal() ([]byte, error) {
	return xjson.Marshal(e)
}

// ExecutionRecord is the engine's history entry for one execution.
type ExecutionRecord struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflowId"`
	Status      ExecutionStatus  `json:"status"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	NodeEvents  []ExecutionEvent `json:"nodeEvents"`
}

// ExecutionPatch is a partial update; nil fields are left untouched.
type ExecutionPatch struct {
	Status      *ExecutionStatus
	CompletedAt *time.Time
	NodeEvents  []ExecutionEvent
}

// Apply merges the patch into r. NodeEvents, when set, replaces the list.
func (p ExecutionPatch) Apply(r *ExecutionRecord) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		r.CompletedAt = &t
	}
	if p.NodeEvents != nil {
		r.NodeEvents = append([]ExecutionEvent(nil), p.NodeEvents...)
	}
}

// Clone returns a copy that shares no mutable state with r.
func (r *ExecutionRecord) Clone() ExecutionRecord {
	c := *r
	c.NodeEvents = append([]ExecutionEvent(nil), r.NodeEvents...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
