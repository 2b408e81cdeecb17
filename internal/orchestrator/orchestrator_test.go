package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/flowwatch/internal/clock"
	"github.com/mpataki/flowwatch/internal/engine"
	"github.com/mpataki/flowwatch/internal/models"
	"github.com/mpataki/flowwatch/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ExecutionEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.ExecutionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) trace() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.NodeID+":"+string(ev.Status))
	}
	return out
}

func branchingWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:      "booking",
		Trigger: "T",
		Nodes: []*models.Node{
			{ID: "T", Type: models.NodeTypeTrigger, Label: "Webhook"},
			{ID: "C", Type: models.NodeTypeCondition, Label: "Has slot?"},
			{ID: "A", Type: models.NodeTypeAction, Label: "Book"},
			{ID: "E", Type: models.NodeTypeEnd, Label: "Done"},
		},
		Edges: []*models.Edge{
			{ID: "t-c", Source: "T", Target: "C"},
			{ID: "c-a", Source: "C", Target: "A", Label: "yes"},
			{ID: "c-e", Source: "C", Target: "E", Label: "no"},
			{ID: "a-e", Source: "A", Target: "E"},
		},
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *recordingPublisher, *storage.Storage) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pub := &recordingPublisher{}
	return New(store, pub, Options{StepDelay: 0}), pub, store
}

func TestExecuteWalksDefaultPath(t *testing.T) {
	o, pub, _ := newTestOrchestrator(t)
	wf := branchingWorkflow()

	run, err := o.StartRun(wf, "")
	require.NoError(t, err)
	assert.Equal(t, SourceGraph, run.Source)
	_, err = uuid.Parse(run.ExecutionID)
	require.NoError(t, err)

	require.NoError(t, o.Execute(context.Background(), run, wf, Plan{}))

	assert.Equal(t, []string{
		"T:running", "T:success",
		"C:running", "C:success",
		"A:running", "A:success",
		"E:running", "E:success",
	}, pub.trace())
	for _, ev := range pub.events {
		assert.Equal(t, run.ExecutionID, ev.ExecutionID)
		assert.Equal(t, "booking", ev.WorkflowID)
		assert.NoError(t, ev.Validate())
	}

	got, err := o.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusComplete, got.Status)
	assert.Equal(t, "E", got.CurrentNode)
	require.NotNil(t, got.CompletedAt)

	steps, err := o.GetSteps(run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 8)
	for i, s := range steps {
		assert.Equal(t, i+1, s.SequenceNum)
	}
}

func TestExecuteFollowsBranchChoice(t *testing.T) {
	o, pub, _ := newTestOrchestrator(t)
	wf := branchingWorkflow()
	run, err := o.StartRun(wf, "")
	require.NoError(t, err)

	require.NoError(t, o.Execute(context.Background(), run, wf, Plan{Branches: map[string]string{"C": "no"}}))
	assert.Equal(t, []string{
		"T:running", "T:success",
		"C:running", "C:success",
		"E:running", "E:success",
	}, pub.trace())
}

func TestExecuteUnknownBranchFailsRun(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	wf := branchingWorkflow()
	run, err := o.StartRun(wf, "")
	require.NoError(t, err)

	err = o.Execute(context.Background(), run, wf, Plan{Branches: map[string]string{"C": "maybe"}})
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
}

func TestExecuteFailAt(t *testing.T) {
	o, pub, _ := newTestOrchestrator(t)
	wf := branchingWorkflow()
	run, err := o.StartRun(wf, "")
	require.NoError(t, err)

	require.NoError(t, o.Execute(context.Background(), run, wf, Plan{FailAt: "A"}))

	trace := pub.trace()
	assert.Equal(t, "A:error", trace[len(trace)-1])
	last := pub.events[len(pub.events)-1]
	require.NotNil(t, last.Data)
	assert.Equal(t, "Book failed", last.Data.Error)

	got, err := o.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "Book failed", got.Error)
}

func TestExecuteCycleGetsStuck(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	wf := &models.Workflow{
		ID:      "loop",
		Trigger: "a",
		Nodes:   []*models.Node{{ID: "a", Type: models.NodeTypeTrigger}, {ID: "b", Type: models.NodeTypeAction}},
		Edges:   []*models.Edge{{ID: "1", Source: "a", Target: "b"}, {ID: "2", Source: "b", Target: "a"}},
	}
	run, err := o.StartRun(wf, "")
	require.NoError(t, err)

	err = o.Execute(context.Background(), run, wf, Plan{MaxSteps: 3})
	assert.ErrorIs(t, err, ErrStuck)
	assert.Equal(t, models.RunStatusStuck, run.Status)
}

func TestExecutePublishErrorFailsRun(t *testing.T) {
	o, pub, _ := newTestOrchestrator(t)
	pub.err = errors.New("hub down")
	wf := branchingWorkflow()
	run, err := o.StartRun(wf, "")
	require.NoError(t, err)

	err = o.Execute(context.Background(), run, wf, Plan{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hub down")
	assert.Equal(t, models.RunStatusFailed, run.Status)
}

func TestExecuteCanceled(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	wf := branchingWorkflow()
	run, err := o.StartRun(wf, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = o.Execute(ctx, run, wf, Plan{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.RunStatusFailed, run.Status)
}

func TestExecuteLuaScenario(t *testing.T) {
	o, pub, _ := newTestOrchestrator(t)
	wf := branchingWorkflow()

	path := filepath.Join(t.TempDir(), "two-runs.lua")
	script := `
function workflow(id)
  step("T")
  fail("C", "calendar unavailable")
  new_execution()
  step("T")
  step("C")
  step("E")
end
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	run, err := o.StartRun(wf, path)
	require.NoError(t, err)
	first := run.ExecutionID
	require.NoError(t, o.ExecuteLua(context.Background(), run, wf, path))

	require.Len(t, pub.events, 9)
	assert.Equal(t, first, pub.events[0].ExecutionID)
	assert.Equal(t, first, pub.events[2].ExecutionID)
	assert.NotEqual(t, first, pub.events[3].ExecutionID)
	assert.Equal(t, run.ExecutionID, pub.events[8].ExecutionID)

	got, err := o.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusComplete, got.Status)
	assert.Equal(t, run.ExecutionID, got.ExecutionID)
}

func TestExecuteLuaStuck(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	wf := branchingWorkflow()
	path := filepath.Join(t.TempDir(), "stuck.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function workflow() stuck("no slots") end`), 0o644))

	run, err := o.StartRun(wf, path)
	require.NoError(t, err)
	err = o.ExecuteLua(context.Background(), run, wf, path)
	assert.ErrorIs(t, err, ErrStuck)
	assert.Equal(t, "no slots", run.Error)
}

func TestDeleteRun(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	run, err := o.StartRun(branchingWorkflow(), "")
	require.NoError(t, err)

	require.NoError(t, o.DeleteRun(run.ID))
	_, err = o.GetRun(run.ID)
	assert.ErrorIs(t, err, storage.ErrRunNotFound)
	assert.ErrorIs(t, o.DeleteRun(run.ID), storage.ErrRunNotFound)

	runs, err := o.ListRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDemoFailNode(t *testing.T) {
	assert.Equal(t, "A", demoFailNode(branchingWorkflow()))
	assert.Equal(t, "", demoFailNode(&models.Workflow{}))
}

type storePublisher struct{ store *engine.Store }

func (p storePublisher) Publish(_ context.Context, ev models.ExecutionEvent) error {
	p.store.Process(ev)
	return nil
}

func TestSimulatedRunDrivesEngine(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	wf := branchingWorkflow()
	eng := engine.NewStore(engine.Options{})
	eng.SetActiveWorkflow(wf)

	o := New(store, storePublisher{eng}, Options{})
	run, err := o.StartRun(wf, "")
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background(), run, wf, Plan{Branches: map[string]string{"C": "E"}}))

	snap := eng.Snapshot()
	require.Len(t, snap.Executions, 1)
	assert.Equal(t, run.ExecutionID, snap.Executions[0].ID)
	assert.Equal(t, models.ExecutionCompleted, snap.Executions[0].Status)
	assert.Len(t, snap.Executions[0].NodeEvents, 6)
	assert.Equal(t, models.NodeStatusIdle, snap.Statuses["A"])
	assert.Equal(t, models.NodeStatusSuccess, snap.Statuses["E"])
}

func TestMultiPublisher(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{err: errors.New("offline")}
	c := &recordingPublisher{}

	err := MultiPublisher{a, b, c}.Publish(context.Background(), models.ExecutionEvent{NodeID: "n", Status: models.NodeStatusRunning})
	assert.ErrorContains(t, err, "offline")
	assert.Len(t, a.events, 1)
	assert.Len(t, c.events, 1)
}

// closingPublisher fails to publish and takes the journal down with it, so
// recording the failure fails as well.
type closingPublisher struct{ store *storage.Storage }

func (p closingPublisher) Publish(context.Context, models.ExecutionEvent) error {
	p.store.Close()
	return errors.New("hub unreachable")
}

func TestExecuteReportsFailedJournalWrite(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	o := New(store, closingPublisher{store}, Options{})
	wf := branchingWorkflow()
	run, err := o.StartRun(wf, "")
	require.NoError(t, err)

	err = o.Execute(context.Background(), run, wf, Plan{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "hub unreachable")
	assert.ErrorContains(t, err, "database is closed")
}

func TestDemoWaitsIntervalBetweenRuns(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	fc := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	o := New(store, &recordingPublisher{}, Options{
		Clock: fc,
		Sleep: func(context.Context, time.Duration) error { return nil },
	})

	runCount := func() int {
		runs, err := o.ListRuns(100)
		if err != nil {
			return -1
		}
		return len(runs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Demo(ctx, []*models.Workflow{branchingWorkflow()}, 10*time.Second) }()

	require.Eventually(t, func() bool { return runCount() == 1 && fc.Pending() == 1 },
		time.Second, 5*time.Millisecond)

	fc.Advance(10*time.Second - time.Millisecond)
	assert.Never(t, func() bool { return runCount() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	fc.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return runCount() == 2 && fc.Pending() == 1 },
		time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Demo did not stop after cancel")
	}
	assert.Equal(t, 0, fc.Pending())
}
