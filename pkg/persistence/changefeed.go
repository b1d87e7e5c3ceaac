package persistence

import (
	"context"
	"slices"
	"sync"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
)

const (
	TableExecutions     = "executions"
	TableStepExecutions = "step_executions"
)

// Change is one row notification. Exactly one of Execution and Step is set.
type Change struct {
	Table     string                    `json:"table"`
	Kind      ChangeKind                `json:"kind"`
	TenantID  string                    `json:"tenant_id"`
	Execution *models.WorkflowExecution `json:"execution,omitempty"`
	Step      *models.StepExecution     `json:"step,omitempty"`
}

type ChangeHandler func(ctx context.Context, change Change)

type Subscription interface {
	Unsubscribe()
}

// Broadcaster fans row changes out to in-process subscribers. Handlers run
// synchronously in publish order.
type Broadcaster struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]subscriber
}

type subscriber struct {
	tenantID string
	handler  ChangeHandler
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{handlers: make(map[int]subscriber)}
}

func (b *Broadcaster) Subscribe(tenantID string, handler ChangeHandler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[id] = subscriber{tenantID: tenantID, handler: handler}

	return unsubscribeFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		delete(b.handlers, id)
	})
}

func (b *Broadcaster) Publish(ctx context.Context, change Change) {
	b.mu.RLock()

	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	targets := make([]ChangeHandler, 0, len(ids))

	for _, id := range ids {
		sub := b.handlers[id]
		if sub.tenantID == "" || sub.tenantID == change.TenantID {
			targets = append(targets, sub.handler)
		}
	}

	b.mu.RUnlock()

	for _, handler := range targets {
		handler(ctx, change)
	}
}

type unsubscribeFunc func()

func (f unsubscribeFunc) Unsubscribe() {
	f()
}
