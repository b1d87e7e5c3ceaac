// Package postgresql provides PostgreSQL persistence implementation for workflows, executions and triggers.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lib/pq"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	databaseURL   string
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	triggerRepo   *TriggerRepository
	broadcaster   *persistence.Broadcaster

	listenerMu sync.Mutex
	listener   *pq.Listener
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgresql")

	// Initialize components
	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:            database,
		logger:        logger,
		databaseURL:   databaseURL,
		workflowRepo:  NewWorkflowRepository(database, logger),
		executionRepo: NewExecutionRepository(database, logger),
		triggerRepo:   NewTriggerRepository(database, logger),
		broadcaster:   persistence.NewBroadcaster(),
		done:          make(chan struct{}),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository {
	return p.triggerRepo
}

// Close stops the change listener and closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	p.listenerMu.Lock()
	listener := p.listener
	p.listener = nil
	p.listenerMu.Unlock()

	if listener != nil {
		close(p.done)

		err := listener.Close()
		if err != nil {
			p.logger.Error("failed to close change listener", "error", err)
		}

		p.wg.Wait()
	}

	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJSON[T any](row rowScanner) (*T, error) {
	var data []byte

	err := row.Scan(&data)
	if err != nil {
		return nil, err
	}

	value := new(T)

	err = json.Unmarshal(data, value)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal row: %w", err)
	}

	return value, nil
}

func queryJSON[T any](ctx context.Context, db *sql.DB, logger *slog.Logger, query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	items := make([]*T, 0)

	for rows.Next() {
		item, err := scanJSON[T](rows)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return items, nil
}
