package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/mpataki/flowwatch/internal/models"
)

const DefaultDemoInterval = 8 * time.Second

// Demo keeps simulated traffic flowing: it runs the next workflow in turn,
// then waits interval before the following one. Every fourth run fails
// halfway through.
func (o *Orchestrator) Demo(ctx context.Context, workflows []*models.Workflow, interval time.Duration) error {
	if len(workflows) == 0 {
		return nil
	}
	if interval <= 0 {
		interval = DefaultDemoInterval
	}

	for i := 0; ; i++ {
		wf := workflows[i%len(workflows)]
		run, err := o.StartRun(wf, SourceGraph)
		if err != nil {
			return err
		}

		var plan Plan
		if i%4 == 3 {
			plan.FailAt = demoFailNode(wf)
		}
		if err := o.Execute(ctx, run, wf, plan); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, ErrStuck) {
				o.logger.Warn("demo run failed", "run", run.ID, "error", err)
			}
		}

		if !o.wait(ctx, interval) {
			return nil
		}
	}
}

// wait blocks for d on the orchestrator's clock. It reports false if ctx
// ended first.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration) bool {
	done := make(chan struct{})
	t := o.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-ctx.Done():
		t.Stop()
		return false
	case <-done:
		return true
	}
}

// demoFailNode picks a node in the middle of the trigger's default path.
func demoFailNode(wf *models.Workflow) string {
	var path []string
	seen := make(map[string]bool)
	for cur := wf.Trigger; cur != "" && !seen[cur]; {
		seen[cur] = true
		path = append(path, cur)
		edges := wf.Outgoing(cur)
		if len(edges) == 0 {
			break
		}
		cur = edges[0].Target
	}
	if len(path) == 0 {
		return ""
	}
	return path[len(path)/2]
}
