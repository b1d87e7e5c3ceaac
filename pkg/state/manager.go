// Package state mirrors execution and step state for observers and derives live metrics.
package state

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"k8s.io/utils/clock"
)

// DefaultCompletedCapacity bounds the ring of finished executions.
const DefaultCompletedCapacity = 100

// ChangeFeed is the part of the store the manager watches.
type ChangeFeed interface {
	Subscribe(ctx context.Context, tenantID string, handler persistence.ChangeHandler) (persistence.Subscription, error)
}

type Option func(*Manager)

func WithClock(c clock.PassiveClock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func WithCompletedCapacity(capacity int) Option {
	return func(m *Manager) {
		if capacity > 0 {
			m.capacity = capacity
		}
	}
}

type stepHistory struct {
	order []string
	steps map[string]*models.StepExecution
}

func (h *stepHistory) list() []*models.StepExecution {
	out := make([]*models.StepExecution, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.steps[id].Clone())
	}

	return out
}

// Manager keeps the in-memory indices: active executions, a bounded ring of
// completed executions, per-execution step history and derived metrics.
// Updates from the engine and from the store change feed share one path and are
// de-duplicated by revision.
type Manager struct {
	logger   *slog.Logger
	clock    clock.PassiveClock
	capacity int

	// emit serialises apply+dispatch so listeners see events in application order.
	emit sync.Mutex

	mu        sync.RWMutex
	active    map[string]*models.WorkflowExecution
	completed map[string]*models.WorkflowExecution
	ring      []string
	history   map[string]*stepHistory
	metrics   map[string]*ExecutionMetrics

	listenersMu sync.RWMutex
	nextID      int
	listeners   map[int]Listener
}

func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger:    logger.With("module", "state_manager"),
		clock:     clock.RealClock{},
		capacity:  DefaultCompletedCapacity,
		active:    make(map[string]*models.WorkflowExecution),
		completed: make(map[string]*models.WorkflowExecution),
		history:   make(map[string]*stepHistory),
		metrics:   make(map[string]*ExecutionMetrics),
		listeners: make(map[int]Listener),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Subscribe registers a listener and returns its unsubscribe function.
func (m *Manager) Subscribe(listener Listener) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners[id] = listener

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()

		delete(m.listeners, id)
	}
}

// ApplyExecution folds an execution snapshot into the indices. Snapshots whose
// revision is not newer than the one already held are ignored.
func (m *Manager) ApplyExecution(ctx context.Context, execution *models.WorkflowExecution) {
	if execution == nil {
		return
	}

	m.emit.Lock()
	defer m.emit.Unlock()

	event, ok := m.applyExecution(execution.Clone())
	if ok {
		m.dispatch(ctx, event)
	}
}

func (m *Manager) applyExecution(execution *models.WorkflowExecution) (ExecutionEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.lookup(execution.ID)
	if previous != nil && execution.Revision <= previous.Revision {
		return ExecutionEvent{}, false
	}

	// terminal snapshots are final; later writers cannot revive them
	if previous != nil && previous.Status.Terminal() {
		return ExecutionEvent{}, false
	}

	if execution.Status.Terminal() {
		delete(m.active, execution.ID)
		m.remember(execution)
	} else {
		m.active[execution.ID] = execution
	}

	metrics := m.recompute(execution.ID)

	eventType, changed := executionEventType(previous, execution)
	if !changed {
		return ExecutionEvent{}, false
	}

	return ExecutionEvent{
		Type:        eventType,
		TenantID:    execution.TenantID,
		ExecutionID: execution.ID,
		Timestamp:   m.clock.Now(),
		Execution:   execution.Clone(),
		Metrics:     metrics,
	}, true
}

// ApplyStep folds a step snapshot into the step history of its execution.
func (m *Manager) ApplyStep(ctx context.Context, step *models.StepExecution) {
	if step == nil {
		return
	}

	m.emit.Lock()
	defer m.emit.Unlock()

	event, ok := m.applyStep(step.Clone())
	if ok {
		m.dispatch(ctx, event)
	}
}

func (m *Manager) applyStep(step *models.StepExecution) (ExecutionEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, ok := m.history[step.ExecutionID]
	if !ok {
		history = &stepHistory{steps: make(map[string]*models.StepExecution)}
		m.history[step.ExecutionID] = history
	}

	previous, seen := history.steps[step.StepID]
	if seen && step.Revision <= previous.Revision {
		return ExecutionEvent{}, false
	}

	if !seen {
		history.order = append(history.order, step.StepID)
	}

	history.steps[step.StepID] = step

	metrics := m.recompute(step.ExecutionID)

	eventType, changed := stepEventType(previous, step)
	if !changed {
		return ExecutionEvent{}, false
	}

	return ExecutionEvent{
		Type:        eventType,
		TenantID:    step.TenantID,
		ExecutionID: step.ExecutionID,
		StepID:      step.StepID,
		Timestamp:   m.clock.Now(),
		Step:        step.Clone(),
		Metrics:     metrics,
	}, true
}

// Apply routes a store change notification through the same path as direct updates.
func (m *Manager) Apply(ctx context.Context, change persistence.Change) {
	switch {
	case change.Execution != nil:
		m.ApplyExecution(ctx, change.Execution)
	case change.Step != nil:
		m.ApplyStep(ctx, change.Step)
	default:
		m.logger.WarnContext(ctx, "ignoring empty change", "table", change.Table)
	}
}

// Watch mirrors the store change feed of tenantID ("" for all tenants) until ctx is done.
func (m *Manager) Watch(ctx context.Context, feed ChangeFeed, tenantID string) error {
	subscription, err := feed.Subscribe(ctx, tenantID, m.Apply)
	if err != nil {
		return fmt.Errorf("failed to subscribe to change feed: %w", err)
	}

	go func() {
		<-ctx.Done()
		subscription.Unsubscribe()
	}()

	m.logger.InfoContext(ctx, "Watching store changes", "tenant_id", tenantID)

	return nil
}

// GetMetrics returns the metrics of a known execution, recomputed against the current time.
func (m *Manager) GetMetrics(executionID string) (*ExecutionMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.metrics[executionID]; !ok {
		return nil, false
	}

	return ComputeMetrics(executionID, m.lookup(executionID), m.steps(executionID), m.clock.Now()), true
}

// GetActiveExecutions returns running and paused executions ordered by start time.
func (m *Manager) GetActiveExecutions() []*models.WorkflowExecution {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.WorkflowExecution, 0, len(m.active))
	for _, execution := range m.active {
		out = append(out, execution.Clone())
	}

	slices.SortFunc(out, func(a, b *models.WorkflowExecution) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), strings.Compare(a.ID, b.ID))
	})

	return out
}

// GetCompletedExecutions returns the ring contents, oldest first.
func (m *Manager) GetCompletedExecutions() []*models.WorkflowExecution {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.WorkflowExecution, 0, len(m.ring))
	for _, id := range m.ring {
		out = append(out, m.completed[id].Clone())
	}

	return out
}

// StepHistory returns the latest record of each step in first-seen order.
func (m *Manager) StepHistory(executionID string) []*models.StepExecution {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.steps(executionID)
}

func (m *Manager) lookup(id string) *models.WorkflowExecution {
	if execution, ok := m.active[id]; ok {
		return execution
	}

	return m.completed[id]
}

func (m *Manager) steps(executionID string) []*models.StepExecution {
	history, ok := m.history[executionID]
	if !ok {
		return []*models.StepExecution{}
	}

	return history.list()
}

func (m *Manager) recompute(executionID string) *ExecutionMetrics {
	metrics := ComputeMetrics(executionID, m.lookup(executionID), m.steps(executionID), m.clock.Now())
	m.metrics[executionID] = metrics

	copied := *metrics

	return &copied
}

// remember appends a terminal execution to the ring, evicting the oldest entry
// with its metrics and step history once capacity is exceeded.
func (m *Manager) remember(execution *models.WorkflowExecution) {
	if _, ok := m.completed[execution.ID]; !ok {
		m.ring = append(m.ring, execution.ID)
	}

	m.completed[execution.ID] = execution

	for len(m.ring) > m.capacity {
		evicted := m.ring[0]
		m.ring = m.ring[1:]

		delete(m.completed, evicted)
		delete(m.metrics, evicted)
		delete(m.history, evicted)
	}
}

func (m *Manager) dispatch(ctx context.Context, event ExecutionEvent) {
	m.listenersMu.RLock()

	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	targets := make([]Listener, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, m.listeners[id])
	}

	m.listenersMu.RUnlock()

	for _, listener := range targets {
		m.notify(ctx, listener, event)
	}
}

func (m *Manager) notify(ctx context.Context, listener Listener, event ExecutionEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "event listener panicked",
				"event", event.Type, "execution_id", event.ExecutionID, "panic", r)
		}
	}()

	err := listener(ctx, event)
	if err != nil {
		m.logger.ErrorContext(ctx, "event listener failed",
			"event", event.Type, "execution_id", event.ExecutionID, "error", err)
	}
}
