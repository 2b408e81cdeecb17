package engine

import (
	"testing"
	"time"

	"github.com/mpataki/flowwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectDecoratesNodesAndEdges(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetActiveWorkflow(linearWorkflow("W"))
	s.SetConnected(true)
	s.Process(event("W", "A", "E1", models.NodeStatusSuccess))
	s.Process(event("W", "B", "E2", models.NodeStatusRunning))
	s.SelectNode("C")

	f := Project(s.Snapshot(), 0)

	require.Len(t, f.Nodes, 3)
	assert.Equal(t, "#22c55e", f.Nodes[0].StatusColor)
	assert.Equal(t, "#8b5cf6", f.Nodes[0].TypeColor)
	assert.Equal(t, "#3b82f6", f.Nodes[1].StatusColor)
	assert.Equal(t, "#6b7280", f.Nodes[2].StatusColor)
	assert.True(t, f.Nodes[2].Selected)

	require.Len(t, f.Edges, 2)
	assert.True(t, f.Edges[0].Animated)
	assert.Equal(t, "#22c55e", f.Edges[0].Stroke)
	assert.True(t, f.Edges[1].Animated)

	assert.True(t, f.Connected)
	require.NotNil(t, f.Selected)
	assert.Equal(t, "C", f.Selected.Node.ID)
}

func TestProjectWithoutWorkflow(t *testing.T) {
	f := Project(Snapshot{Connected: true}, 5)
	assert.Nil(t, f.Nodes)
	assert.Nil(t, f.Selected)
	assert.True(t, f.Connected)
}

func TestTimelineFiltersSortsAndCaps(t *testing.T) {
	wf := linearWorkflow("W")
	at := func(sec int) time.Time { return epoch.Add(time.Duration(sec) * time.Second) }

	records := []models.ExecutionRecord{
		{ID: "E2", WorkflowID: "W", NodeEvents: []models.ExecutionEvent{
			{WorkflowID: "W", NodeID: "A", ExecutionID: "E2", Status: models.NodeStatusRunning, Timestamp: at(5)},
			{WorkflowID: "W", NodeID: "A", ExecutionID: "E2", Status: models.NodeStatusError, Timestamp: at(7),
				Data: &models.EventData{Error: "boom"}},
		}},
		{ID: "X", WorkflowID: "V", NodeEvents: []models.ExecutionEvent{
			{WorkflowID: "V", NodeID: "A", ExecutionID: "X", Status: models.NodeStatusRunning, Timestamp: at(9)},
		}},
		{ID: "E1", WorkflowID: "W", NodeEvents: []models.ExecutionEvent{
			{WorkflowID: "W", NodeID: "A", ExecutionID: "E1", Status: models.NodeStatusRunning, Timestamp: at(1)},
			{WorkflowID: "W", NodeID: "B", ExecutionID: "E1", Status: models.NodeStatusRunning, Timestamp: at(6)},
		}},
	}

	tl := Timeline(wf, records, 3)
	require.Len(t, tl, 3)
	assert.Equal(t, "E2", tl[0].ExecutionID)
	assert.Equal(t, "boom", tl[0].Error)
	assert.Equal(t, "Start", tl[0].NodeLabel)
	assert.Equal(t, "B", tl[1].NodeID)
	assert.Equal(t, "Work", tl[1].NodeLabel)
	assert.Equal(t, at(5), tl[2].Timestamp)
}

func TestTimelineCappedAcrossExecutions(t *testing.T) {
	s, fc := newTestStore(t)
	s.SetActiveWorkflow(linearWorkflow("W"))
	for i := 0; i < 15; i++ {
		exec := string(rune('a' + i))
		s.Process(event("W", "A", exec, models.NodeStatusRunning))
		fc.Advance(time.Second)
		s.Process(event("W", "A", exec, models.NodeStatusSuccess))
		fc.Advance(time.Second)
	}

	f := Project(s.Snapshot(), DefaultTimelineLimit)
	require.Len(t, f.Timeline, DefaultTimelineLimit)
	for i := 1; i < len(f.Timeline); i++ {
		assert.False(t, f.Timeline[i].Timestamp.After(f.Timeline[i-1].Timestamp))
	}
	assert.Equal(t, "o", f.Timeline[0].ExecutionID)
}

func TestColorFallbacks(t *testing.T) {
	assert.Equal(t, "#6b7280", StatusColor("weird"))
	assert.Equal(t, "#6b7280", TypeColor("weird"))
	assert.Equal(t, "weird", TypeLabel("weird"))
	assert.Equal(t, "AI", TypeLabel(models.NodeTypeAI))
}
