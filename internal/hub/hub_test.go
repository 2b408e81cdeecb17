package hub

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/flowwatch/internal/channel"
	"github.com/mpataki/flowwatch/internal/metrics"
	"github.com/mpataki/flowwatch/internal/models"
	"github.com/mpataki/flowwatch/internal/xjson"
)

func sampleEvent(node string, status models.NodeStatus) models.ExecutionEvent {
	return models.ExecutionEvent{
		WorkflowID:  "twilio-webhook",
		NodeID:      node,
		ExecutionID: "exec-1",
		Status:      status,
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublishFansOut(t *testing.T) {
	h := New(Options{})
	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()

	require.NoError(t, h.Publish(context.Background(), sampleEvent("trigger-webhook", models.NodeStatusRunning)))

	for _, ch := range []<-chan []byte{a, b} {
		select {
		case data := <-ch:
			ev, err := models.ParseExecutionEvent(data)
			require.NoError(t, err)
			assert.Equal(t, "trigger-webhook", ev.NodeID)
		default:
			t.Fatal("subscriber got nothing")
		}
	}
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	h := New(Options{})
	err := h.Publish(context.Background(), models.ExecutionEvent{WorkflowID: "w"})
	assert.ErrorIs(t, err, models.ErrInvalidEvent)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := New(Options{Metrics: metrics.New()})
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, h.Publish(context.Background(), sampleEvent("n", models.NodeStatusRunning)))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	h := New(Options{})
	ch, cancel := h.Subscribe()
	h.Close()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers())
	assert.Error(t, h.Publish(context.Background(), sampleEvent("n", models.NodeStatusRunning)))
}

func TestIngestEndpoint(t *testing.T) {
	h := New(Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/events", "application/json", strings.NewReader(`{"workflowId":"w"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ch, cancel := h.Subscribe()
	defer cancel()

	require.NoError(t, NewClient(srv.URL).Publish(context.Background(), sampleEvent("n", models.NodeStatusSuccess)))
	select {
	case data := <-ch:
		ev, err := models.ParseExecutionEvent(data)
		require.NoError(t, err)
		assert.Equal(t, models.NodeStatusSuccess, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("event not broadcast")
	}
}

func TestClientReportsRejection(t *testing.T) {
	srv := httptest.NewServer(New(Options{}))
	defer srv.Close()

	err := NewClient(srv.URL+"/events/").Publish(context.Background(), models.ExecutionEvent{WorkflowID: "w"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(New(Options{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, xjson.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStreamSendsHeartbeats(t *testing.T) {
	srv := httptest.NewServer(New(Options{Heartbeat: 20 * time.Millisecond}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, ": ping") {
			return
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []models.ExecutionEvent
}

func (r *recorder) HandleEvent(ev models.ExecutionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) HandleConnection(bool) {}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestWatcherReceivesPublishedEvents(t *testing.T) {
	h := New(Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	rec := &recorder{}
	sup := channel.NewSupervisor(channel.Options{
		Transport: channel.NewSSETransport(srv.URL + "/events"),
		Handler:   rec,
	})
	sup.Connect()
	defer sup.Disconnect()

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	client := NewClient(srv.URL)
	require.NoError(t, client.Publish(context.Background(), sampleEvent("a", models.NodeStatusRunning)))
	require.NoError(t, client.Publish(context.Background(), sampleEvent("a", models.NodeStatusSuccess)))

	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}
