package engine

import "github.com/mpataki/flowwatch/internal/models"

// view is the part of the store's state that event processing reads.
type view struct {
	workflow  *models.Workflow
	knownNode bool
	record    *models.ExecutionRecord
}

// effects is what one event does to the store. It is computed without
// touching the store and applied under a single lock.
type effects struct {
	ignore    bool
	status    models.NodeStatus
	newRecord *models.ExecutionRecord
	patch     *models.ExecutionPatch
	decay     bool
}

// plan decides the mutations for one event.
//
// Events for a workflow other than the active one, or for a node the active
// workflow does not have, change nothing. A running event for an execution
// not in history opens a new record; any event for a recorded execution is
// appended to it. Success and error schedule a decay back to idle.
func plan(v view, ev models.ExecutionEvent) effects {
	if v.workflow == nil || ev.WorkflowID != v.workflow.ID || !v.knownNode {
		return effects{ignore: true}
	}

	eff := effects{
		status: ev.Status,
		decay:  ev.Status.Terminal(),
	}

	if v.record == nil {
		if ev.Status == models.NodeStatusRunning {
			eff.newRecord = &models.ExecutionRecord{
				ID:         ev.ExecutionID,
				WorkflowID: ev.WorkflowID,
				Status:     models.ExecutionRunning,
				StartedAt:  ev.Timestamp,
				NodeEvents: []models.ExecutionEvent{ev},
			}
		}
		return eff
	}

	events := make([]models.ExecutionEvent, 0, len(v.record.NodeEvents)+1)
	events = append(events, v.record.NodeEvents...)
	events = append(events, ev)
	patch := &models.ExecutionPatch{NodeEvents: events}

	if v.record.Status == models.ExecutionRunning {
		if next, done := outcome(v.workflow, ev); done {
			at := ev.Timestamp
			patch.Status = &next
			patch.CompletedAt = &at
		}
	}
	eff.patch = patch
	return eff
}

// outcome reports whether ev ends its execution: any node error fails it and
// a successful end node completes it.
func outcome(wf *models.Workflow, ev models.ExecutionEvent) (models.ExecutionStatus, bool) {
	switch ev.Status {
	case models.NodeStatusError:
		return models.ExecutionFailed, true
	case models.NodeStatusSuccess:
		if node, ok := wf.Node(ev.NodeID); ok && node.Type == models.NodeTypeEnd {
			return models.ExecutionCompleted, true
		}
	}
	return "", false
}
