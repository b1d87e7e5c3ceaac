package postgresql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
)

const (
	changeChannel        = "flowcore_changes"
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	changeLoadTimeout    = 5 * time.Second
)

type notification struct {
	Table       string `json:"table"`
	Op          string `json:"op"`
	TenantID    string `json:"tenant_id"`
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
}

// Subscribe starts listening for row changes on first use and registers handler
// for the tenant's executions and steps. An empty tenantID receives every tenant.
func (p *Persistence) Subscribe(
	_ context.Context,
	tenantID string,
	handler persistence.ChangeHandler,
) (persistence.Subscription, error) {
	err := p.ensureListener()
	if err != nil {
		return nil, err
	}

	return p.broadcaster.Subscribe(tenantID, handler), nil
}

func (p *Persistence) ensureListener() error {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()

	if p.listener != nil {
		return nil
	}

	listener := pq.NewListener(p.databaseURL, minReconnectInterval, maxReconnectInterval,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				p.logger.Error("change listener event", "event", event, "error", err)
			}
		})

	err := listener.Listen(changeChannel)
	if err != nil {
		_ = listener.Close()

		return fmt.Errorf("failed to listen on %s: %w", changeChannel, err)
	}

	p.listener = listener

	p.wg.Add(1)

	go p.forward(listener)

	p.logger.Info("Listening for row changes", "channel", changeChannel)

	return nil
}

func (p *Persistence) forward(listener *pq.Listener) {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}

			// nil is sent after a reconnect; notifications during the outage are lost
			if n == nil {
				p.logger.Warn("change listener reconnected")

				continue
			}

			p.dispatch(n.Extra)
		}
	}
}

func (p *Persistence) dispatch(payload string) {
	var n notification

	err := json.Unmarshal([]byte(payload), &n)
	if err != nil {
		p.logger.Error("failed to decode change notification", "payload", payload, "error", err)

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), changeLoadTimeout)
	defer cancel()

	change := persistence.Change{
		Table:    n.Table,
		Kind:     persistence.ChangeUpdate,
		TenantID: n.TenantID,
	}

	if n.Op == "insert" {
		change.Kind = persistence.ChangeInsert
	}

	switch n.Table {
	case persistence.TableExecutions:
		change.Execution, err = p.executionRepo.GetExecution(ctx, n.ExecutionID)
	case persistence.TableStepExecutions:
		change.Step, err = p.executionRepo.GetStep(ctx, n.ExecutionID, n.StepID)
	default:
		p.logger.Warn("ignoring change for unknown table", "table", n.Table)

		return
	}

	if err != nil {
		p.logger.Error("failed to load changed row", "table", n.Table, "execution_id", n.ExecutionID, "error", err)

		return
	}

	p.broadcaster.Publish(ctx, change)
}
