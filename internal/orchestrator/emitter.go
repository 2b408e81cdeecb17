package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mpataki/flowwatch/internal/models"
)

// runEmitter publishes events for one run and journals each as a step.
type runEmitter struct {
	o   *Orchestrator
	run *models.Run
	wf  *models.Workflow
	seq int
}

func (o *Orchestrator) emitter(run *models.Run, wf *models.Workflow) *runEmitter {
	return &runEmitter{o: o, run: run, wf: wf}
}

func (e *runEmitter) Emit(ctx context.Context, nodeID string, status models.NodeStatus, data *models.EventData) error {
	ev := models.ExecutionEvent{
		WorkflowID:  e.wf.ID,
		NodeID:      nodeID,
		ExecutionID: e.run.ExecutionID,
		Status:      status,
		Timestamp:   e.o.clock.Now().UTC(),
		Data:        data,
	}

	if err := e.o.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	e.seq++
	step := &models.Step{
		RunID:       e.run.ID,
		ExecutionID: ev.ExecutionID,
		NodeID:      nodeID,
		Status:      status,
		EmittedAt:   ev.Timestamp,
		SequenceNum: e.seq,
		Data:        data,
	}
	if _, err := e.o.storage.CreateStep(step); err != nil {
		return fmt.Errorf("failed to journal step: %w", err)
	}
	return nil
}

func (e *runEmitter) NewExecution() string {
	e.run.ExecutionID = uuid.NewString()
	return e.run.ExecutionID
}

func (e *runEmitter) ExecutionID() string {
	return e.run.ExecutionID
}
