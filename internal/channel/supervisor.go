package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mpataki/flowwatch/internal/clock"
	"github.com/mpataki/flowwatch/internal/metrics"
	"github.com/mpataki/flowwatch/internal/models"
)

const DefaultReconnectDelay = 5 * time.Second

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives decoded events and connection changes. Calls never
// overlap, and the last connection call always matches the supervisor's
// current state.
type Handler interface {
	HandleEvent(ev models.ExecutionEvent)
	HandleConnection(connected bool)
}

type Options struct {
	Transport Transport
	Handler   Handler
	// Policy yields the delay before each reconnect. backoff.Stop ends
	// retrying. Defaults to a constant DefaultReconnectDelay.
	Policy  backoff.BackOff
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Supervisor owns at most one live stream. Each Connect starts a new
// generation; goroutines and timers from older generations find their
// generation stale and exit without touching state.
type Supervisor struct {
	transport Transport
	handler   Handler
	policy    backoff.BackOff
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
	stream Stream
	retry  clock.Timer

	// deliverMu serializes handler calls. reported is the last connection
	// flag handed to the handler.
	deliverMu    sync.Mutex
	reported     bool
	reportedOnce bool
}

func NewSupervisor(opts Options) *Supervisor {
	if opts.Policy == nil {
		opts.Policy = backoff.NewConstantBackOff(DefaultReconnectDelay)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Supervisor{
		transport: opts.Transport,
		handler:   opts.Handler,
		policy:    opts.Policy,
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "channel"),
		metrics:   opts.Metrics,
	}
}

// NewPolicy builds a retry policy by name: "fixed" (or empty) retries every
// delay forever, "exponential" starts at delay and grows to a minute.
func NewPolicy(name string, delay time.Duration) (backoff.BackOff, error) {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	switch name {
	case "", "fixed", "constant":
		return backoff.NewConstantBackOff(delay), nil
	case "exponential":
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = delay
		b.MaxInterval = max(delay, time.Minute)
		b.MaxElapsedTime = 0
		b.Reset()
		return b, nil
	default:
		return nil, fmt.Errorf("unknown reconnect policy %q", name)
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect tears down any existing stream or pending retry and opens a new
// one in the background.
func (s *Supervisor) Connect() {
	s.mu.Lock()
	wasConnected := s.state == StateConnected
	s.startLocked()
	s.mu.Unlock()

	if wasConnected {
		s.syncConnection()
	}
}

// Disconnect closes the stream and cancels any scheduled reconnect.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.teardownLocked()
	s.gen++
	s.state = StateDisconnected
	s.mu.Unlock()

	s.syncConnection()
	s.logger.Info("event stream disconnected")
}

// Run connects and blocks until ctx is done, then disconnects.
func (s *Supervisor) Run(ctx context.Context) error {
	s.Connect()
	<-ctx.Done()
	s.Disconnect()
	return nil
}

func (s *Supervisor) startLocked() {
	s.teardownLocked()
	s.gen++
	s.state = StateConnecting

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx, s.gen)
}

func (s *Supervisor) teardownLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
}

func (s *Supervisor) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Supervisor) run(ctx context.Context, gen uint64) {
	stream, err := s.transport.Open(ctx)
	if err != nil {
		s.lost(gen, err)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		stream.Close()
		return
	}
	s.stream = stream
	s.state = StateConnected
	s.policy.Reset()
	s.mu.Unlock()

	s.logger.Info("event stream connected")
	s.syncConnection()

	for {
		data, err := stream.Recv()
		if errors.Is(err, ErrEventTooLarge) {
			s.metrics.DecodeFailed()
			s.logger.Warn("dropping oversized event", "error", err)
			continue
		}
		if err != nil {
			s.lost(gen, err)
			return
		}

		ev, err := models.ParseExecutionEvent(data)
		if err != nil {
			s.metrics.DecodeFailed()
			s.logger.Warn("dropping malformed event", "bytes", len(data), "error", err)
			continue
		}
		if !s.deliver(gen, ev) {
			return
		}
	}
}

// deliver hands ev to the handler unless gen has been superseded. The check
// and the call happen under deliverMu, so nothing from a stale generation
// reaches the handler after Disconnect or Connect returns.
func (s *Supervisor) deliver(gen uint64, ev models.ExecutionEvent) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if !s.current(gen) {
		return false
	}
	s.handler.HandleEvent(ev)
	return true
}

// syncConnection reports the current connection state to the handler if it
// differs from what was last reported. Whichever caller runs last reads the
// final state, so racing transitions cannot leave a stale flag behind.
func (s *Supervisor) syncConnection() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	connected := s.State() == StateConnected
	if s.reportedOnce && s.reported == connected {
		return
	}
	s.reported = connected
	s.reportedOnce = true
	s.handler.HandleConnection(connected)
}

// lost moves a live generation to disconnected and schedules exactly one
// reconnect attempt.
func (s *Supervisor) lost(gen uint64, cause error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.state = StateDisconnected

	delay := s.policy.NextBackOff()
	if delay != backoff.Stop {
		s.retry = s.clock.AfterFunc(delay, func() { s.reconnect(gen) })
	}
	s.mu.Unlock()

	s.syncConnection()
	if errors.Is(cause, context.Canceled) {
		return
	}
	if delay == backoff.Stop {
		s.logger.Warn("event stream lost, giving up", "error", cause)
		return
	}
	s.metrics.ReconnectScheduled()
	s.logger.Info("event stream lost, reconnecting", "error", cause, "delay", delay)
}

func (s *Supervisor) reconnect(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.retry == nil {
		return
	}
	s.retry = nil
	s.startLocked()
}
