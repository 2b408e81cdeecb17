// Package engine holds the live view of workflow executions: which node is
// doing what right now, recent execution history, the stream connection
// flag and the node under inspection.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mpataki/flowwatch/internal/clock"
	"github.com/mpataki/flowwatch/internal/metrics"
	"github.com/mpataki/flowwatch/internal/models"
)

const (
	DefaultDecayDelay    = 3 * time.Second
	DefaultHistoryLimit  = 20
	DefaultTimelineLimit = 20
)

type Options struct {
	Clock        clock.Clock
	DecayDelay   time.Duration
	HistoryLimit int
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Store is the single owner of execution state. Every mutation happens
// under one lock, so readers never observe a half-applied event.
type Store struct {
	clock      clock.Clock
	decayDelay time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu        sync.RWMutex
	active    *models.Workflow
	statuses  map[string]models.NodeStatus
	marks     map[string]mark
	seq       uint64
	history   *history
	connected bool
	selected  string
	version   uint64
	decay     *decayScheduler

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// Snapshot is a consistent copy of the store's state.
type Snapshot struct {
	Workflow       *models.Workflow
	Statuses       map[string]models.NodeStatus
	Executions     []models.ExecutionRecord
	Connected      bool
	SelectedNodeID string
	Version        uint64
}

func NewStore(opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.DecayDelay <= 0 {
		opts.DecayDelay = DefaultDecayDelay
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Store{
		clock:      opts.Clock,
		decayDelay: opts.DecayDelay,
		logger:     opts.Logger.With("component", "engine"),
		metrics:    opts.Metrics,
		statuses:   make(map[string]models.NodeStatus),
		marks:      make(map[string]mark),
		history:    newHistory(opts.HistoryLimit),
		decay:      newDecayScheduler(opts.Clock),
		subs:       make(map[int]chan struct{}),
	}
}

// SetActiveWorkflow switches the view to wf with every node idle. Pending
// decays and execution tracking from the previous workflow are dropped.
func (s *Store) SetActiveWorkflow(wf *models.Workflow) {
	s.mu.Lock()
	s.active = wf
	s.statuses = idleStatuses(wf)
	s.marks = make(map[string]mark)
	s.decay.cancelAll()
	s.version++
	s.mu.Unlock()

	if wf != nil {
		s.logger.Debug("active workflow changed", "workflow", wf.ID)
	}
	s.notify()
}

// SetNodeStatus overwrites one node's status. It supersedes any pending
// decay for that node. Unknown node ids are ignored.
func (s *Store) SetNodeStatus(nodeID string, status models.NodeStatus) bool {
	s.mu.Lock()
	if _, ok := s.statuses[nodeID]; !ok {
		s.mu.Unlock()
		return false
	}
	s.seq++
	s.statuses[nodeID] = status
	s.marks[nodeID] = mark{seq: s.seq}
	s.version++
	s.mu.Unlock()

	s.notify()
	return true
}

func (s *Store) SetAllNodesIdle() {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return
	}
	s.statuses = idleStatuses(s.active)
	s.marks = make(map[string]mark)
	s.decay.cancelAll()
	s.version++
	s.mu.Unlock()

	s.notify()
}

func (s *Store) SelectNode(nodeID string) {
	s.mu.Lock()
	s.selected = nodeID
	s.version++
	s.mu.Unlock()
	s.notify()
}

func (s *Store) ClearSelection() {
	s.SelectNode("")
}

func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	if changed {
		s.version++
	}
	s.mu.Unlock()

	s.metrics.SetConnected(connected)
	if changed {
		s.notify()
	}
}

// AddExecution inserts a record at the front of the history.
func (s *Store) AddExecution(rec models.ExecutionRecord) {
	c := rec.Clone()
	s.mu.Lock()
	s.history.push(&c)
	s.version++
	s.mu.Unlock()
	s.notify()
}

// UpdateExecution merges patch into the record with the given id. It
// reports false, changing nothing, when no such record is held.
func (s *Store) UpdateExecution(id string, patch models.ExecutionPatch) bool {
	s.mu.Lock()
	ok := s.history.update(id, patch)
	if ok {
		s.version++
	}
	s.mu.Unlock()

	if ok {
		s.notify()
	}
	return ok
}

// Process applies one execution event. It reports whether the event was
// attributed to the active workflow.
func (s *Store) Process(ev models.ExecutionEvent) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock.Now()
	}

	s.mu.Lock()
	_, known := s.statuses[ev.NodeID]
	eff := plan(view{
		workflow:  s.active,
		knownNode: known,
		record:    s.history.find(ev.ExecutionID),
	}, ev)

	if eff.ignore {
		s.mu.Unlock()
		s.metrics.EventIgnored()
		s.logger.Debug("event ignored",
			"workflow", ev.WorkflowID,
			"node", ev.NodeID,
			"execution", ev.ExecutionID)
		return false
	}

	s.seq++
	m := mark{executionID: ev.ExecutionID, seq: s.seq}
	s.statuses[ev.NodeID] = eff.status
	s.marks[ev.NodeID] = m

	if eff.newRecord != nil {
		s.history.push(eff.newRecord)
	}
	if eff.patch != nil {
		s.history.update(ev.ExecutionID, *eff.patch)
	}
	if eff.decay {
		nodeID := ev.NodeID
		s.decay.schedule(nodeID, s.decayDelay, func() { s.expire(nodeID, m) })
	}
	s.version++
	s.mu.Unlock()

	s.metrics.EventApplied()
	s.notify()
	return true
}

// expire returns a node to idle if no later transition replaced m.
func (s *Store) expire(nodeID string, m mark) {
	s.mu.Lock()
	if cur, ok := s.marks[nodeID]; !ok || cur != m {
		s.mu.Unlock()
		return
	}
	s.statuses[nodeID] = models.NodeStatusIdle
	s.version++
	s.mu.Unlock()

	s.metrics.DecayReset()
	s.notify()
}

// Reset returns the store to its initial empty state.
func (s *Store) Reset() {
	s.mu.Lock()
	s.active = nil
	s.statuses = make(map[string]models.NodeStatus)
	s.marks = make(map[string]mark)
	s.decay.cancelAll()
	s.history.reset()
	s.connected = false
	s.selected = ""
	s.version++
	s.mu.Unlock()
	s.notify()
}

// HandleEvent and HandleConnection let the store receive from an event
// channel directly.
func (s *Store) HandleEvent(ev models.ExecutionEvent) {
	s.Process(ev)
}

func (s *Store) HandleConnection(connected bool) {
	s.SetConnected(connected)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[string]models.NodeStatus, len(s.statuses))
	for id, st := range s.statuses {
		statuses[id] = st
	}

	return Snapshot{
		Workflow:       s.active,
		Statuses:       statuses,
		Executions:     s.history.list(),
		Connected:      s.connected,
		SelectedNodeID: s.selected,
		Version:        s.version,
	}
}

func (s *Store) ActiveWorkflow() *models.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Subscribe returns a channel that receives a signal after every change.
// Signals coalesce: a slow reader sees one pending signal, not a backlog.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func idleStatuses(wf *models.Workflow) map[string]models.NodeStatus {
	statuses := make(map[string]models.NodeStatus)
	if wf == nil {
		return statuses
	}
	for _, n := range wf.Nodes {
		statuses[n.ID] = models.NodeStatusIdle
	}
	return statuses
}
