package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/flowwatch/internal/catalog"
	"github.com/mpataki/flowwatch/internal/engine"
	"github.com/mpataki/flowwatch/internal/models"
)

func newTestApp(t *testing.T, workflow string) (*App, *engine.Store, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	store := engine.NewStore(engine.Options{})
	app, err := NewApp(store, cat, Options{Workflow: workflow})
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app, store, cat
}

func press(a *App, keys ...string) {
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "shift+tab":
			msg = tea.KeyMsg{Type: tea.KeyShiftTab}
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		a.Update(msg)
	}
}

func TestNewAppActivatesWorkflow(t *testing.T) {
	_, store, cat := newTestApp(t, "")
	assert.Equal(t, cat.List()[0].ID, store.ActiveWorkflow().ID)

	_, store, _ = newTestApp(t, "appointment-flow")
	assert.Equal(t, "appointment-flow", store.ActiveWorkflow().ID)

	cat2, err := catalog.Default()
	require.NoError(t, err)
	_, err = NewApp(engine.NewStore(engine.Options{}), cat2, Options{Workflow: "nope"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestSelectAndClear(t *testing.T) {
	app, store, _ := newTestApp(t, "twilio-webhook")

	press(app, "j", "enter")
	wf := store.ActiveWorkflow()
	assert.Equal(t, wf.Nodes[1].ID, store.Snapshot().SelectedNodeID)
	require.NotNil(t, app.frame.Selected)
	assert.Contains(t, app.View(), "Technology")

	press(app, "esc")
	assert.Empty(t, store.Snapshot().SelectedNodeID)
	assert.Nil(t, app.frame.Selected)
}

func TestCursorStaysInBounds(t *testing.T) {
	app, _, _ := newTestApp(t, "twilio-webhook")

	press(app, "k", "k")
	assert.Equal(t, 0, app.cursor)

	for i := 0; i < 50; i++ {
		press(app, "j")
	}
	assert.Equal(t, len(app.frame.Nodes)-1, app.cursor)
}

func TestSwitchWorkflowResetsState(t *testing.T) {
	app, store, cat := newTestApp(t, "")
	first := store.ActiveWorkflow()
	store.Process(models.ExecutionEvent{
		WorkflowID: first.ID, NodeID: first.Nodes[0].ID, ExecutionID: "e1", Status: models.NodeStatusRunning,
	})
	press(app, "enter")

	press(app, "tab")
	second := store.ActiveWorkflow()
	assert.Equal(t, cat.List()[1].ID, second.ID)
	snap := store.Snapshot()
	assert.Empty(t, snap.SelectedNodeID)
	assert.Len(t, snap.Statuses, len(second.Nodes))
	for _, st := range snap.Statuses {
		assert.Equal(t, models.NodeStatusIdle, st)
	}

	press(app, "shift+tab", "shift+tab")
	assert.Equal(t, cat.List()[cat.Len()-1].ID, store.ActiveWorkflow().ID)
}

func TestAllIdleKey(t *testing.T) {
	app, store, _ := newTestApp(t, "")
	wf := store.ActiveWorkflow()
	store.Process(models.ExecutionEvent{
		WorkflowID: wf.ID, NodeID: wf.Nodes[0].ID, ExecutionID: "e1", Status: models.NodeStatusRunning,
	})

	press(app, "i")
	assert.Equal(t, models.NodeStatusIdle, store.Snapshot().Statuses[wf.Nodes[0].ID])
}

func TestViewShowsConnectionAndTimeline(t *testing.T) {
	app, store, _ := newTestApp(t, "twilio-webhook")
	assert.Contains(t, app.View(), "Off")
	assert.Contains(t, app.View(), "waiting for events")

	store.SetConnected(true)
	store.Process(models.ExecutionEvent{
		WorkflowID: "twilio-webhook", NodeID: "trigger-webhook", ExecutionID: "abcdef123456", Status: models.NodeStatusRunning,
	})
	app.Update(storeChangedMsg{})

	view := app.View()
	assert.Contains(t, view, "Live")
	assert.Contains(t, view, "Twilio Webhook")
	assert.Contains(t, view, "abcdef12")
}

func TestCatalogReloadKeepsWorkflow(t *testing.T) {
	app, store, _ := newTestApp(t, "kommo-webhook")

	reloaded := catalog.New(&models.Workflow{
		ID:    "kommo-webhook",
		Name:  "Kommo v2",
		Nodes: []*models.Node{{ID: "only", Type: models.NodeTypeTrigger}},
	})
	app.Update(CatalogReloaded(reloaded))

	wf := store.ActiveWorkflow()
	assert.Equal(t, "Kommo v2", wf.Name)
	assert.Equal(t, map[string]models.NodeStatus{"only": models.NodeStatusIdle}, store.Snapshot().Statuses)
}

func TestQuitReturnsQuitCmd(t *testing.T) {
	app, _, _ := newTestApp(t, "")
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
