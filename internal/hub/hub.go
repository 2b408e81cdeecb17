// Package hub serves execution events to watchers over server-sent events
// and accepts events from simulators over HTTP.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mpataki/flowwatch/internal/metrics"
	"github.com/mpataki/flowwatch/internal/models"
	"github.com/mpataki/flowwatch/internal/xjson"
)

const (
	DefaultHeartbeat = 15 * time.Second
	subscriberBuffer = 64
	maxIngestBody    = 1 << 20
)

type Options struct {
	Heartbeat time.Duration
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Hub fans every published event out to all connected watchers. Delivery is
// at most once: a watcher whose buffer is full misses the event.
type Hub struct {
	heartbeat time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	mux       *http.ServeMux

	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

func New(opts Options) *Hub {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Hub{
		heartbeat: opts.Heartbeat,
		logger:    opts.Logger.With("component", "hub"),
		metrics:   opts.Metrics,
		subs:      make(map[chan []byte]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", h.handleStream)
	mux.HandleFunc("POST /events", h.handleIngest)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux = mux
	return h
}

// Publish validates ev and broadcasts it.
func (h *Hub) Publish(ctx context.Context, ev models.ExecutionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("hub closed")
	}
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			h.metrics.Dropped()
		}
	}
	h.metrics.Published()
	return nil
}

// Subscribe registers a watcher. The returned channel is closed when the
// watcher unsubscribes or the hub closes.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	h.metrics.SubscriberAdded()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
			h.metrics.SubscriberRemoved()
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every watcher.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
		h.metrics.SubscriberRemoved()
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Serve listens on addr until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("hub server failed: %w", err)
	case <-ctx.Done():
	}

	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (h *Hub) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := h.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	h.logger.Debug("watcher connected", "remote", r.RemoteAddr)
	defer h.logger.Debug("watcher disconnected", "remote", r.RemoteAddr)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Hub) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	ev, err := models.ParseExecutionEvent(body)
	if err != nil {
		h.logger.Warn("rejected event", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if err := h.Publish(r.Context(), ev); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	data, _ := xjson.Marshal(map[string]any{
		"status":      "ok",
		"subscribers": h.Subscribers(),
	})
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
