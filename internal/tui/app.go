// Package tui renders the live workflow view in the terminal.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mpataki/flowwatch/internal/catalog"
	"github.com/mpataki/flowwatch/internal/engine"
)

type Options struct {
	// Workflow is the id shown first; empty means the first in the catalog.
	Workflow      string
	TimelineLimit int
}

type App struct {
	store         *engine.Store
	catalog       *catalog.Catalog
	timelineLimit int

	updates     <-chan struct{}
	unsubscribe func()

	keys keyMap
	help help.Model

	frame       engine.Frame
	workflowIdx int
	cursor      int

	width  int
	height int
	err    error
}

func NewApp(store *engine.Store, cat *catalog.Catalog, opts Options) (*App, error) {
	a := &App{
		store:         store,
		catalog:       cat,
		timelineLimit: opts.TimelineLimit,
		keys:          defaultKeys(),
		help:          help.New(),
	}
	if a.timelineLimit <= 0 {
		a.timelineLimit = engine.DefaultTimelineLimit
	}

	if opts.Workflow != "" {
		if _, err := cat.Get(opts.Workflow); err != nil {
			return nil, err
		}
		a.workflowIdx = cat.Index(opts.Workflow)
	}
	if cat.Len() > 0 {
		a.activate(a.workflowIdx)
	}

	a.updates, a.unsubscribe = store.Subscribe()
	a.refresh()
	return a, nil
}

// Close stops listening for store changes.
func (a *App) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

// CatalogReloaded wraps a reloaded catalog for Program.Send.
func CatalogReloaded(c *catalog.Catalog) tea.Msg {
	return catalogReloadedMsg{catalog: c}
}

type storeChangedMsg struct{}

type catalogReloadedMsg struct {
	catalog *catalog.Catalog
}

type tickMsg time.Time

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.waitForChange, a.tickCmd())
}

func (a *App) waitForChange() tea.Msg {
	if _, ok := <-a.updates; !ok {
		return nil
	}
	return storeChangedMsg{}
}

// tickCmd keeps relative timestamps fresh while nothing else changes.
func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		return a, nil

	case storeChangedMsg:
		a.refresh()
		return a, a.waitForChange

	case catalogReloadedMsg:
		a.applyCatalog(msg.catalog)
		return a, nil

	case tickMsg:
		return a, a.tickCmd()
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		a.Close()
		return a, tea.Quit

	case key.Matches(msg, a.keys.Up):
		if a.cursor > 0 {
			a.cursor--
		}

	case key.Matches(msg, a.keys.Down):
		if a.cursor < len(a.frame.Nodes)-1 {
			a.cursor++
		}

	case key.Matches(msg, a.keys.Select):
		if a.cursor < len(a.frame.Nodes) {
			a.store.SelectNode(a.frame.Nodes[a.cursor].Node.ID)
		}

	case key.Matches(msg, a.keys.Clear):
		a.store.ClearSelection()

	case key.Matches(msg, a.keys.Next):
		a.switchWorkflow(1)

	case key.Matches(msg, a.keys.Prev):
		a.switchWorkflow(-1)

	case key.Matches(msg, a.keys.Idle):
		a.store.SetAllNodesIdle()

	case key.Matches(msg, a.keys.Help):
		a.help.ShowAll = !a.help.ShowAll
	}

	a.refresh()
	return a, nil
}

func (a *App) switchWorkflow(delta int) {
	n := a.catalog.Len()
	if n == 0 {
		return
	}
	a.activate((a.workflowIdx + delta + n) % n)
}

func (a *App) activate(idx int) {
	wf := a.catalog.List()[idx]
	a.workflowIdx = idx
	a.cursor = 0
	a.store.SetActiveWorkflow(wf)
	a.store.ClearSelection()
}

// applyCatalog swaps in a reloaded catalog, staying on the same workflow id
// when it still exists.
func (a *App) applyCatalog(c *catalog.Catalog) {
	if c == nil || c.Len() == 0 {
		return
	}
	current := ""
	if wf := a.store.ActiveWorkflow(); wf != nil {
		current = wf.ID
	}

	a.catalog = c
	idx := c.Index(current)
	if idx < 0 {
		idx = 0
	}
	a.activate(idx)
	a.refresh()
}

func (a *App) refresh() {
	a.frame = engine.Project(a.store.Snapshot(), a.timelineLimit)
	if a.cursor >= len(a.frame.Nodes) {
		a.cursor = max(len(a.frame.Nodes)-1, 0)
	}
}
