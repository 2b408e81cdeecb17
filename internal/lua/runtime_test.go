package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/flowwatch/internal/models"
)

type emitted struct {
	exec   string
	node   string
	status models.NodeStatus
	data   *models.EventData
}

type fakeEmitter struct {
	exec   string
	n      int
	events []emitted
}

func (f *fakeEmitter) Emit(_ context.Context, nodeID string, status models.NodeStatus, data *models.EventData) error {
	f.events = append(f.events, emitted{exec: f.exec, node: nodeID, status: status, data: data})
	return nil
}

func (f *fakeEmitter) NewExecution() string {
	f.n++
	f.exec = fmt.Sprintf("exec-%d", f.n)
	return f.exec
}

func (f *fakeEmitter) ExecutionID() string { return f.exec }

func testWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:      "W",
		Trigger: "A",
		Nodes: []*models.Node{
			{ID: "A", Type: models.NodeTypeTrigger},
			{ID: "B", Type: models.NodeTypeAction},
			{ID: "C", Type: models.NodeTypeEnd},
		},
	}
}

func newTestRuntime() (*Runtime, *fakeEmitter, *[]time.Duration) {
	em := &fakeEmitter{exec: "exec-0"}
	var slept []time.Duration
	rt := NewRuntime(em, &models.Run{ID: 7}, testWorkflow(), Options{
		StepDelay: 250 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	})
	return rt, em, &slept
}

func TestScenarioEmitsEvents(t *testing.T) {
	rt, em, slept := newTestRuntime()

	script := `
function workflow(id)
  local c = context()
  log("running " .. id .. " run " .. c.run_id .. " nodes " .. #c.nodes)
  step("A", {output = {ok = true}})
  emit("B", "running", {input = {1, 2}})
  fail("B", "boom")
  local next = new_execution()
  log(next)
  step("A", {duration = 10})
  sleep(5)
end
`
	require.NoError(t, rt.ExecuteString(context.Background(), script))

	require.Len(t, em.events, 6)
	assert.Equal(t, emitted{exec: "exec-0", node: "A", status: models.NodeStatusRunning}, em.events[0])
	assert.Equal(t, models.NodeStatusSuccess, em.events[1].status)
	assert.Equal(t, map[string]any{"ok": true}, em.events[1].data.Output)
	require.NotNil(t, em.events[1].data.Duration)
	assert.Equal(t, int64(250), *em.events[1].data.Duration)
	assert.Equal(t, []any{float64(1), float64(2)}, em.events[2].data.Input)
	assert.Equal(t, "boom", em.events[3].data.Error)
	assert.Equal(t, "exec-1", em.events[4].exec)
	assert.Equal(t, "exec-1", em.events[5].exec)

	assert.Equal(t, []time.Duration{250 * time.Millisecond, 10 * time.Millisecond, 5 * time.Millisecond}, *slept)
	assert.Equal(t, []string{"running W run 7 nodes 3", "exec-1"}, rt.GetLogs())
	assert.Equal(t, "A", rt.run.CurrentNode)
	assert.Equal(t, "exec-1", rt.run.ExecutionID)
}

func TestScenarioStuck(t *testing.T) {
	rt, em, _ := newTestRuntime()
	err := rt.ExecuteString(context.Background(), `
function workflow()
  emit("A", "running")
  stuck("waiting on appointment")
  emit("B", "running")
end`)

	var stuck *StuckError
	require.True(t, errors.As(err, &stuck))
	assert.Equal(t, "waiting on appointment", stuck.Reason)
	assert.Len(t, em.events, 1)
}

func TestScenarioRejectsUnknownNodeAndStatus(t *testing.T) {
	rt, _, _ := newTestRuntime()
	err := rt.ExecuteString(context.Background(), `function workflow() step("Z") end`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node")

	rt, _, _ = newTestRuntime()
	err = rt.ExecuteString(context.Background(), `function workflow() emit("A", "done") end`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}

func TestScenarioRequiresWorkflowFunction(t *testing.T) {
	rt, _, _ := newTestRuntime()
	err := rt.ExecuteString(context.Background(), `x = 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow")
}

func TestSandboxHidesUnsafeLibraries(t *testing.T) {
	rt, _, _ := newTestRuntime()
	err := rt.ExecuteString(context.Background(), `
function workflow()
  if os ~= nil or io ~= nil or print ~= nil or dofile ~= nil or math.random ~= nil then
    error("unsafe global exposed")
  end
end`)
	assert.NoError(t, err)
}

func TestScenarioStopsOnCancel(t *testing.T) {
	em := &fakeEmitter{exec: "exec-0"}
	rt := NewRuntime(em, &models.Run{}, testWorkflow(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rt.ExecuteString(ctx, `function workflow() end`)
	assert.Error(t, err)
}

func TestExecuteReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function workflow() step("A") end`), 0o644))
	assert.True(t, IsScenario(path))
	assert.False(t, IsScenario("flow.yaml"))

	rt, em, _ := newTestRuntime()
	require.NoError(t, rt.Execute(context.Background(), path))
	assert.Len(t, em.events, 2)
}
