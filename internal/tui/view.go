package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mpataki/flowwatch/internal/engine"
	"github.com/mpataki/flowwatch/internal/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	liveBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#052e16")).
			Background(lipgloss.Color("#22c55e")).
			Padding(0, 1)

	offBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f9fafb")).
			Background(lipgloss.Color("#6b7280")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

var statusGlyphs = map[models.NodeStatus]string{
	models.NodeStatusIdle:    "○",
	models.NodeStatusRunning: "●",
	models.NodeStatusSuccess: "✓",
	models.NodeStatusError:   "✗",
}

func (a *App) View() string {
	f := a.frame
	if f.Workflow == nil {
		return titleStyle.Render("flowwatch") + "\n\nNo workflows in the catalog.\n"
	}

	var b strings.Builder
	b.WriteString(a.viewHeader())
	b.WriteString("\n\n")

	graph := a.viewGraph()
	if f.Selected != nil {
		detail := panelStyle.Render(viewDetail(f.Selected))
		if a.width > 0 && lipgloss.Width(graph)+lipgloss.Width(detail) > a.width {
			b.WriteString(graph + "\n" + detail)
		} else {
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, graph, "  ", detail))
		}
	} else {
		b.WriteString(graph)
	}

	b.WriteString("\n")
	b.WriteString(viewTimeline(f.Timeline))

	if a.err != nil {
		b.WriteString(fmt.Sprintf("\nError: %v\n", a.err))
	}
	b.WriteString("\n" + a.help.View(a.keys))
	return b.String()
}

func (a *App) viewHeader() string {
	f := a.frame
	badge := offBadge.Render("Off")
	if f.Connected {
		badge = liveBadge.Render("Live")
	}

	title := titleStyle.Render(f.Workflow.Name)
	pos := dimStyle.Render(fmt.Sprintf("[%d/%d]", a.workflowIdx+1, a.catalog.Len()))
	line := fmt.Sprintf("%s  %s  %s", title, pos, badge)
	if f.Workflow.Description != "" {
		line += "\n" + dimStyle.Render(f.Workflow.Description)
	}
	return line
}

func (a *App) viewGraph() string {
	f := a.frame
	edgesFrom := make(map[string][]engine.EdgeView)
	for _, e := range f.Edges {
		edgesFrom[e.Edge.Source] = append(edgesFrom[e.Edge.Source], e)
	}
	labels := make(map[string]string, len(f.Nodes))
	for _, n := range f.Nodes {
		labels[n.Node.ID] = nodeLabel(n.Node)
	}

	var b strings.Builder
	for i, n := range f.Nodes {
		glyph := lipgloss.NewStyle().
			Foreground(lipgloss.Color(n.StatusColor)).
			Render(statusGlyphs[n.Status])
		kind := lipgloss.NewStyle().
			Foreground(lipgloss.Color(n.TypeColor)).
			Render(fmt.Sprintf("%-9s", engine.TypeLabel(n.Node.Type)))

		line := fmt.Sprintf("%s %-28s %s %s", glyph, truncate(labels[n.Node.ID], 28), kind, dimStyle.Render(string(n.Status)))
		switch {
		case i == a.cursor:
			line = selectedStyle.Render("▶") + " " + line
		case n.Selected:
			line = "• " + line
		default:
			line = "  " + line
		}
		b.WriteString(line + "\n")

		for _, e := range edgesFrom[n.Node.ID] {
			arrow := "→"
			if e.Animated {
				arrow = "»"
			}
			target := labels[e.Edge.Target]
			if e.Edge.Label != "" {
				target += " (" + e.Edge.Label + ")"
			}
			edge := lipgloss.NewStyle().Foreground(lipgloss.Color(e.Stroke)).Render(arrow + " " + target)
			b.WriteString("      " + edge + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func viewDetail(d *engine.NodeDetail) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(nodeLabel(d.Node)))
	b.WriteString("  " + lipgloss.NewStyle().Foreground(lipgloss.Color(engine.StatusColor(d.Status))).Render(string(d.Status)))
	b.WriteString("\n" + dimStyle.Render(d.TypeLabel) + "\n")

	if d.LongDescription != "" {
		b.WriteString("\n" + wrap(d.LongDescription, 56) + "\n")
	}

	if d.HasTechnology {
		tech := d.Technology.Name
		if d.Technology.Method != "" || d.Technology.Endpoint != "" {
			tech += "  " + strings.TrimSpace(d.Technology.Method+" "+d.Technology.Endpoint)
		}
		b.WriteString("\n" + labelStyle.Render("Technology: ") + tech + "\n")
	}
	if d.TypicalDuration != "" {
		b.WriteString(labelStyle.Render("Typical:    ") + d.TypicalDuration + "\n")
	}

	writeFields := func(title string, fields []models.FieldDoc) {
		if len(fields) == 0 {
			return
		}
		b.WriteString("\n" + labelStyle.Render(title) + "\n")
		for _, f := range fields {
			b.WriteString(fmt.Sprintf("  %s %s  %s\n", f.Name, dimStyle.Render(f.Type), f.Description))
		}
	}
	writeFields("Inputs", d.Inputs)
	writeFields("Outputs", d.Outputs)

	if len(d.ErrorCases) > 0 {
		b.WriteString("\n" + labelStyle.Render("Errors") + "\n")
		for _, e := range d.ErrorCases {
			b.WriteString(fmt.Sprintf("  %s  %s\n", e.Code, e.Description))
			if e.Handling != "" {
				b.WriteString("    " + dimStyle.Render(e.Handling) + "\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func viewTimeline(entries []engine.TimelineEntry) string {
	var b strings.Builder
	b.WriteString("\nRecent Events\n")
	b.WriteString("─────────────\n")

	if len(entries) == 0 {
		b.WriteString(dimStyle.Render("(waiting for events)") + "\n")
		return b.String()
	}

	for _, e := range entries {
		status := lipgloss.NewStyle().
			Foreground(lipgloss.Color(engine.StatusColor(e.Status))).
			Render(fmt.Sprintf("%-7s", e.Status))
		line := fmt.Sprintf("%-16s %s %-28s %s",
			dimStyle.Render(humanize.Time(e.Timestamp)),
			status,
			truncate(e.NodeLabel, 28),
			dimStyle.Render(shortID(e.ExecutionID)))
		if e.Error != "" {
			line += "  " + lipgloss.NewStyle().Foreground(lipgloss.Color(engine.StatusColor(models.NodeStatusError))).Render(e.Error)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func nodeLabel(n *models.Node) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func wrap(s string, width int) string {
	return lipgloss.NewStyle().Width(width).Render(s)
}
