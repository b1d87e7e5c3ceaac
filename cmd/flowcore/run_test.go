package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence/memory"
	"github.com/vincentsider/bolt.new-sub002/pkg/state"
	"github.com/vincentsider/bolt.new-sub002/pkg/trigger"
)

func TestStartBackground_TracksExternalWrites(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store := memory.NewPersistence()
	manager := state.NewManager(logger)
	monitor := trigger.NewMonitorService(logger, store.TriggerRepository(), func(tenantID string) *trigger.Engine {
		return trigger.NewEngine(logger, tenantID, store.TriggerRepository(), nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	background, err := startBackground(ctx, manager, store, monitor)
	require.NoError(t, err)

	// written straight to the store, as another process would
	require.NoError(t, store.ExecutionRepository().SaveExecution(context.Background(), &models.WorkflowExecution{
		ID:         "exec-ext",
		TenantID:   "globex",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
		Revision:   1,
	}))

	require.Eventually(t, func() bool {
		active := manager.GetActiveExecutions()

		return len(active) == 1 && active[0].ID == "exec-ext"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	done := make(chan error, 1)
	go func() { done <- background.Wait() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("background services did not stop")
	}
}
