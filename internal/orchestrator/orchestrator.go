// Package orchestrator simulates workflow executions. It walks a workflow
// graph, or runs a Lua scenario, publishing the node events a real backend
// would and journaling every one of them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mpataki/flowwatch/internal/clock"
	"github.com/mpataki/flowwatch/internal/lua"
	"github.com/mpataki/flowwatch/internal/models"
	"github.com/mpataki/flowwatch/internal/storage"
)

const (
	DefaultStepDelay = 600 * time.Millisecond
	DefaultMaxSteps  = 100
	SourceGraph      = "graph"
)

var ErrStuck = errors.New("run stuck")

// Publisher delivers events to watchers: the in-process hub, a remote hub
// over HTTP, or NATS.
type Publisher interface {
	Publish(ctx context.Context, ev models.ExecutionEvent) error
}

type Options struct {
	StepDelay time.Duration
	Clock     clock.Clock
	Logger    *slog.Logger
	// Sleep waits between a node's running and terminal events.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Orchestrator struct {
	storage   *storage.Storage
	publisher Publisher
	stepDelay time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(store *storage.Storage, pub Publisher, opts Options) *Orchestrator {
	if opts.StepDelay < 0 {
		opts.StepDelay = 0
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Orchestrator{
		storage:   store,
		publisher: pub,
		stepDelay: opts.StepDelay,
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "orchestrator"),
		sleep:     opts.Sleep,
	}
}

// Plan steers a graph walk.
type Plan struct {
	// FailAt names a node that reports error instead of success.
	FailAt      string
	FailMessage string
	// Branches picks the edge to follow out of a node, keyed by node id,
	// matched against the edge's target or label.
	Branches map[string]string
	MaxSteps int
}

// StartRun journals a pending run with a fresh execution id.
func (o *Orchestrator) StartRun(wf *models.Workflow, source string) (*models.Run, error) {
	if source == "" {
		source = SourceGraph
	}
	run := &models.Run{
		CreatedAt:   o.clock.Now().UTC(),
		WorkflowID:  wf.ID,
		ExecutionID: uuid.NewString(),
		Source:      source,
		Status:      models.RunStatusPending,
		CurrentNode: wf.Trigger,
	}

	runID, err := o.storage.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	run.ID = runID
	return run, nil
}

// Execute walks wf from its trigger. A node that errors ends the run as
// failed; reaching an end node, or a node with no way out, completes it.
func (o *Orchestrator) Execute(ctx context.Context, run *models.Run, wf *models.Workflow, plan Plan) error {
	if plan.MaxSteps <= 0 {
		plan.MaxSteps = DefaultMaxSteps
	}

	run.Status = models.RunStatusRunning
	if err := o.storage.UpdateRun(run); err != nil {
		return err
	}

	em := o.emitter(run, wf)
	log := o.logger.With("run", run.ID, "workflow", wf.ID)
	log.Info("simulating workflow", "execution", run.ExecutionID)

	current := wf.Trigger
	for steps := 1; ; steps++ {
		if steps > plan.MaxSteps {
			return o.stuckRun(run, fmt.Sprintf("max steps (%d) exceeded", plan.MaxSteps))
		}

		node, ok := wf.Node(current)
		if !ok {
			return o.failRun(run, fmt.Sprintf("node %q not found", current))
		}

		run.CurrentNode = current
		if err := o.storage.UpdateRun(run); err != nil {
			return err
		}

		started := o.clock.Now()
		if err := em.Emit(ctx, current, models.NodeStatusRunning, nil); err != nil {
			return errors.Join(err, o.failRun(run, err.Error()))
		}
		if err := o.sleep(ctx, o.stepDelay); err != nil {
			return errors.Join(err, o.failRun(run, "interrupted"))
		}
		elapsed := o.clock.Now().Sub(started).Milliseconds()

		if current == plan.FailAt {
			msg := plan.FailMessage
			if msg == "" {
				msg = fmt.Sprintf("%s failed", node.Label)
			}
			if err := em.Emit(ctx, current, models.NodeStatusError, &models.EventData{Duration: &elapsed, Error: msg}); err != nil {
				return errors.Join(err, o.failRun(run, err.Error()))
			}
			log.Info("simulated failure", "node", current)
			return o.failRun(run, msg)
		}

		if err := em.Emit(ctx, current, models.NodeStatusSuccess, &models.EventData{Duration: &elapsed}); err != nil {
			return errors.Join(err, o.failRun(run, err.Error()))
		}

		if node.Type == models.NodeTypeEnd {
			return o.completeRun(run)
		}

		next, err := o.evaluateTransitions(wf, current, plan.Branches)
		if err != nil {
			return errors.Join(err, o.failRun(run, err.Error()))
		}
		if next == "" {
			return o.completeRun(run)
		}
		current = next
	}
}

// ExecuteLua runs a scenario script against wf.
func (o *Orchestrator) ExecuteLua(ctx context.Context, run *models.Run, wf *models.Workflow, scriptPath string) error {
	run.Status = models.RunStatusRunning
	if err := o.storage.UpdateRun(run); err != nil {
		return err
	}

	rt := lua.NewRuntime(o.emitter(run, wf), run, wf, lua.Options{
		StepDelay: o.stepDelay,
		Sleep:     o.sleep,
	})
	err := rt.Execute(ctx, scriptPath)

	log := o.logger.With("run", run.ID, "workflow", wf.ID)
	for _, line := range rt.GetLogs() {
		log.Info(line, "source", "scenario")
	}

	var stuck *lua.StuckError
	switch {
	case errors.As(err, &stuck):
		return o.stuckRun(run, stuck.Reason)
	case err != nil:
		return errors.Join(err, o.failRun(run, err.Error()))
	}
	return o.completeRun(run)
}

// evaluateTransitions picks the edge out of from. Without a branch choice
// the first edge wins.
func (o *Orchestrator) evaluateTransitions(wf *models.Workflow, from string, branches map[string]string) (string, error) {
	edges := wf.Outgoing(from)
	if len(edges) == 0 {
		return "", nil
	}

	choice, ok := branches[from]
	if !ok {
		return edges[0].Target, nil
	}
	for _, e := range edges {
		if e.Target == choice || (e.Label != "" && e.Label == choice) {
			return e.Target, nil
		}
	}
	return "", fmt.Errorf("no edge from %s matches branch %q", from, choice)
}

func (o *Orchestrator) completeRun(run *models.Run) error {
	now := o.clock.Now().UTC()
	run.Status = models.RunStatusComplete
	run.CompletedAt = &now
	return o.storage.UpdateRun(run)
}

func (o *Orchestrator) failRun(run *models.Run, reason string) error {
	now := o.clock.Now().UTC()
	run.Status = models.RunStatusFailed
	run.CompletedAt = &now
	run.Error = reason
	return o.storage.UpdateRun(run)
}

func (o *Orchestrator) stuckRun(run *models.Run, reason string) error {
	now := o.clock.Now().UTC()
	run.Status = models.RunStatusStuck
	run.CompletedAt = &now
	run.Error = reason
	if err := o.storage.UpdateRun(run); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrStuck, reason)
}

// Read methods for the CLI

func (o *Orchestrator) ListRuns(limit int) ([]*models.Run, error) {
	return o.storage.ListRuns(limit)
}

func (o *Orchestrator) GetRun(id int64) (*models.Run, error) {
	return o.storage.GetRun(id)
}

func (o *Orchestrator) GetSteps(runID int64) ([]*models.Step, error) {
	return o.storage.GetStepsForRun(runID)
}

func (o *Orchestrator) DeleteRun(runID int64) error {
	if _, err := o.storage.GetRun(runID); err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	return o.storage.DeleteRun(runID)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
