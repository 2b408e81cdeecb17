package engine

import (
	"sort"
	"time"

	"github.com/mpataki/flowwatch/internal/models"
)

var statusColors = map[models.NodeStatus]string{
	models.NodeStatusIdle:    "#6b7280",
	models.NodeStatusRunning: "#3b82f6",
	models.NodeStatusSuccess: "#22c55e",
	models.NodeStatusError:   "#ef4444",
}

var typeColors = map[models.NodeType]string{
	models.NodeTypeTrigger:   "#8b5cf6",
	models.NodeTypeAction:    "#3b82f6",
	models.NodeTypeCondition: "#f59e0b",
	models.NodeTypeDatabase:  "#10b981",
	models.NodeTypeAI:        "#ec4899",
	models.NodeTypeHTTP:      "#06b6d4",
	models.NodeTypeEnd:       "#6b7280",
}

var typeLabels = map[models.NodeType]string{
	models.NodeTypeTrigger:   "Trigger",
	models.NodeTypeAction:    "Action",
	models.NodeTypeCondition: "Condition",
	models.NodeTypeDatabase:  "Database",
	models.NodeTypeAI:        "AI",
	models.NodeTypeHTTP:      "HTTP",
	models.NodeTypeEnd:       "End",
}

const (
	edgeActiveColor = "#22c55e"
	edgeIdleColor   = "#4b5563"
)

func StatusColor(s models.NodeStatus) string {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return statusColors[models.NodeStatusIdle]
}

func TypeColor(t models.NodeType) string {
	if c, ok := typeColors[t]; ok {
		return c
	}
	return typeColors[models.NodeTypeEnd]
}

func TypeLabel(t models.NodeType) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return string(t)
}

// NodeView is a node decorated with its live status.
type NodeView struct {
	Node        *models.Node
	Status      models.NodeStatus
	StatusColor string
	TypeColor   string
	Selected    bool
}

type EdgeView struct {
	Edge     *models.Edge
	Animated bool
	Stroke   string
}

// TimelineEntry is one node event in the recent-activity list.
type TimelineEntry struct {
	ExecutionID string
	NodeID      string
	NodeLabel   string
	Status      models.NodeStatus
	Timestamp   time.Time
	Error       string
}

// Frame is everything a render surface needs for one paint.
type Frame struct {
	Workflow  *models.Workflow
	Nodes     []NodeView
	Edges     []EdgeView
	Connected bool
	Selected  *NodeDetail
	Timeline  []TimelineEntry
	Version   uint64
}

// Project derives a frame from a snapshot. It never mutates the snapshot.
func Project(snap Snapshot, timelineLimit int) Frame {
	if timelineLimit <= 0 {
		timelineLimit = DefaultTimelineLimit
	}

	f := Frame{
		Workflow:  snap.Workflow,
		Connected: snap.Connected,
		Version:   snap.Version,
	}
	if snap.Workflow == nil {
		return f
	}

	status := func(id string) models.NodeStatus {
		if s, ok := snap.Statuses[id]; ok {
			return s
		}
		return models.NodeStatusIdle
	}

	f.Nodes = make([]NodeView, 0, len(snap.Workflow.Nodes))
	for _, n := range snap.Workflow.Nodes {
		st := status(n.ID)
		f.Nodes = append(f.Nodes, NodeView{
			Node:        n,
			Status:      st,
			StatusColor: StatusColor(st),
			TypeColor:   TypeColor(n.Type),
			Selected:    n.ID == snap.SelectedNodeID,
		})
	}

	f.Edges = make([]EdgeView, 0, len(snap.Workflow.Edges))
	for _, e := range snap.Workflow.Edges {
		src := status(e.Source)
		active := src == models.NodeStatusRunning || src == models.NodeStatusSuccess
		ev := EdgeView{Edge: e, Animated: active, Stroke: edgeIdleColor}
		if active {
			ev.Stroke = edgeActiveColor
		}
		f.Edges = append(f.Edges, ev)
	}

	f.Selected = Detail(snap.Workflow, snap.SelectedNodeID, snap.Statuses)
	f.Timeline = Timeline(snap.Workflow, snap.Executions, timelineLimit)
	return f
}

// Timeline flattens the node events of every execution of wf, newest first,
// keeping at most limit entries.
func Timeline(wf *models.Workflow, records []models.ExecutionRecord, limit int) []TimelineEntry {
	if wf == nil {
		return nil
	}

	var entries []TimelineEntry
	for _, r := range records {
		if r.WorkflowID != wf.ID {
			continue
		}
		for _, ev := range r.NodeEvents {
			entry := TimelineEntry{
				ExecutionID: ev.ExecutionID,
				NodeID:      ev.NodeID,
				NodeLabel:   ev.NodeID,
				Status:      ev.Status,
				Timestamp:   ev.Timestamp,
			}
			if n, ok := wf.Node(ev.NodeID); ok && n.Label != "" {
				entry.NodeLabel = n.Label
			}
			if ev.Data != nil {
				entry.Error = ev.Data.Error
			}
			entries = append(entries, entry)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
