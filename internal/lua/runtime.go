package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/flowwatch/internal/models"
)

// Emitter publishes the events a scenario produces.
type Emitter interface {
	Emit(ctx context.Context, nodeID string, status models.NodeStatus, data *models.EventData) error
	// NewExecution starts a fresh execution id for subsequent events.
	NewExecution() string
	ExecutionID() string
}

// StuckError is returned when a script calls stuck().
type StuckError struct {
	Reason string
}

func (e *StuckError) Error() string {
	return "scenario stuck: " + e.Reason
}

type Options struct {
	// StepDelay is how long step() keeps a node running when the script
	// does not say.
	StepDelay time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Runtime executes Lua scenario scripts in a sandboxed environment
type Runtime struct {
	emitter  Emitter
	run      *models.Run
	workflow *models.Workflow
	opts     Options

	ctx   context.Context
	steps int
	logs  []string

	stuckReason string
	isStuck     bool
}

func NewRuntime(emitter Emitter, run *models.Run, wf *models.Workflow, opts Options) *Runtime {
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Runtime{
		emitter:  emitter,
		run:      run,
		workflow: wf,
		opts:     opts,
		logs:     make([]string, 0),
	}
}

// Execute runs the scenario at scriptPath.
func (r *Runtime) Execute(ctx context.Context, scriptPath string) error {
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}
	return r.ExecuteString(ctx, string(script))
}

// ExecuteString loads script, then calls its workflow(id) function.
func (r *Runtime) ExecuteString(ctx context.Context, script string) error {
	r.ctx = ctx

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	defer L.Close()
	L.SetContext(ctx)

	r.openSafeLibs(L)
	r.registerAPI(L)

	if err := L.DoString(script); err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}

	workflow := L.GetGlobal("workflow")
	if workflow.Type() != lua.LTFunction {
		return errors.New("script must define a 'workflow' function")
	}

	L.Push(workflow)
	L.Push(lua.LString(r.workflow.ID))
	err := L.PCall(1, 0, nil)

	if r.isStuck {
		return &StuckError{Reason: r.stuckReason}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("scenario failed: %w", err)
	}
	return nil
}

// openSafeLibs loads only the safe standard libraries
func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // use log()

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Scenarios must replay the same way every time.
	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (r *Runtime) registerAPI(L *lua.LState) {
	L.SetGlobal("emit", L.NewFunction(r.luaEmit))
	L.SetGlobal("step", L.NewFunction(r.luaStep))
	L.SetGlobal("fail", L.NewFunction(r.luaFail))
	L.SetGlobal("sleep", L.NewFunction(r.luaSleep))
	L.SetGlobal("stuck", L.NewFunction(r.luaStuck))
	L.SetGlobal("new_execution", L.NewFunction(r.luaNewExecution))
	L.SetGlobal("context", L.NewFunction(r.luaContext))
	L.SetGlobal("log", L.NewFunction(r.luaLog))
}

func (r *Runtime) checkNode(L *lua.LState, n int) string {
	id := L.CheckString(n)
	if _, ok := r.workflow.Node(id); !ok {
		L.ArgError(n, fmt.Sprintf("unknown node %q in workflow %s", id, r.workflow.ID))
	}
	return id
}

func (r *Runtime) emit(L *lua.LState, nodeID string, status models.NodeStatus, data *models.EventData) {
	r.steps++
	r.run.CurrentNode = nodeID
	if err := r.emitter.Emit(r.ctx, nodeID, status, data); err != nil {
		L.RaiseError("failed to emit %s for %s: %v", status, nodeID, err)
	}
}

// luaEmit implements emit(node, status, data?)
func (r *Runtime) luaEmit(L *lua.LState) int {
	nodeID := r.checkNode(L, 1)
	status := models.NodeStatus(L.CheckString(2))
	if !status.Valid() {
		L.ArgError(2, fmt.Sprintf("unknown status %q", status))
	}

	var data *models.EventData
	if tbl, ok := L.Get(3).(*lua.LTable); ok {
		data = tableToEventData(tbl)
	}
	r.emit(L, nodeID, status, data)
	return 0
}

// luaStep implements step(node, {duration=ms, output=...}?): the node runs
// for the duration, then succeeds.
func (r *Runtime) luaStep(L *lua.LState) int {
	nodeID := r.checkNode(L, 1)
	opts := L.OptTable(2, L.NewTable())

	delay := r.opts.StepDelay
	if ms, ok := opts.RawGetString("duration").(lua.LNumber); ok {
		delay = time.Duration(float64(ms) * float64(time.Millisecond))
	}

	r.emit(L, nodeID, models.NodeStatusRunning, nil)
	r.wait(L, delay)

	ms := delay.Milliseconds()
	data := &models.EventData{Duration: &ms}
	if out := opts.RawGetString("output"); out != lua.LNil {
		data.Output = luaToGo(out)
	}
	r.emit(L, nodeID, models.NodeStatusSuccess, data)

	L.Push(lua.LTrue)
	return 1
}

// luaFail implements fail(node, message?)
func (r *Runtime) luaFail(L *lua.LState) int {
	nodeID := r.checkNode(L, 1)
	message := L.OptString(2, "node failed")
	r.emit(L, nodeID, models.NodeStatusError, &models.EventData{Error: message})
	return 0
}

// luaSleep implements sleep(ms)
func (r *Runtime) luaSleep(L *lua.LState) int {
	ms := L.CheckNumber(1)
	r.wait(L, time.Duration(float64(ms)*float64(time.Millisecond)))
	return 0
}

func (r *Runtime) wait(L *lua.LState, d time.Duration) {
	if d <= 0 {
		return
	}
	if err := r.opts.Sleep(r.ctx, d); err != nil {
		L.RaiseError("interrupted: %v", err)
	}
}

// luaStuck implements stuck(reason?)
func (r *Runtime) luaStuck(L *lua.LState) int {
	reason := L.OptString(1, "scenario stuck")
	r.stuckReason = reason
	r.isStuck = true
	L.RaiseError("stuck: %s", reason)
	return 0
}

// luaNewExecution implements new_execution(): later events belong to a
// fresh execution id, which is returned.
func (r *Runtime) luaNewExecution(L *lua.LState) int {
	id := r.emitter.NewExecution()
	r.run.ExecutionID = id
	L.Push(lua.LString(id))
	return 1
}

func (r *Runtime) luaContext(L *lua.LState) int {
	nodes := make([]any, 0, len(r.workflow.Nodes))
	for _, n := range r.workflow.Nodes {
		nodes = append(nodes, n.ID)
	}

	tbl := L.NewTable()
	L.SetField(tbl, "run_id", lua.LNumber(r.run.ID))
	L.SetField(tbl, "workflow", lua.LString(r.workflow.ID))
	L.SetField(tbl, "trigger", lua.LString(r.workflow.Trigger))
	L.SetField(tbl, "execution_id", lua.LString(r.emitter.ExecutionID()))
	L.SetField(tbl, "steps", lua.LNumber(r.steps))
	L.SetField(tbl, "nodes", goToLua(L, nodes))
	L.Push(tbl)
	return 1
}

func (r *Runtime) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	r.logs = append(r.logs, message)
	return 0
}

func (r *Runtime) GetLogs() []string {
	return r.logs
}

// IsScenario reports whether path names a Lua scenario.
func IsScenario(path string) bool {
	return filepath.Ext(path) == ".lua"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
