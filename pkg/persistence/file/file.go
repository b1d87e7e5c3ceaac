// Package file provides file-based persistence implementation for workflows, executions and triggers.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
)

const (
	workflowsDir        = "workflows"
	executionsDir       = "executions"
	stepsDir            = "steps"
	rollbacksDir        = "rollbacks"
	templatesDir        = "trigger_templates"
	triggersDir         = "triggers"
	triggerEventsDir    = "trigger_events"
	directoryPermission = 0750
	filePermission      = 0600
)

// Persistence implements the persistence.Persistence interface using the file system.
// Every entity is one JSON document.
type Persistence struct {
	root        string
	mu          sync.RWMutex
	broadcaster *persistence.Broadcaster
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:        cleanRoot,
		broadcaster: persistence.NewBroadcaster(),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &WorkflowRepository{fp: fp}
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &ExecutionRepository{fp: fp}
}

func (fp *Persistence) TriggerRepository() persistence.TriggerRepository {
	return &TriggerRepository{fp: fp}
}

// Subscribe registers an in-process change handler. Writes made by other
// processes to the same directory are not observed.
func (fp *Persistence) Subscribe(_ context.Context, tenantID string, handler persistence.ChangeHandler) (persistence.Subscription, error) {
	return fp.broadcaster.Subscribe(tenantID, handler), nil
}

// validateID validates that an identifier is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: identifier cannot be empty", persistence.ErrInvalidID)
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

// dirPath joins validated identifiers under dir.
func (fp *Persistence) dirPath(dir string, ids ...string) (string, error) {
	for _, id := range ids {
		err := validateID(id)
		if err != nil {
			return "", err
		}
	}

	return filepath.Join(append([]string{fp.root, dir}, ids...)...), nil
}

// docPath is the JSON document of the last identifier.
func (fp *Persistence) docPath(dir string, ids ...string) (string, error) {
	path, err := fp.dirPath(dir, ids...)
	if err != nil {
		return "", err
	}

	return path + ".json", nil
}

func writeJSON(path string, value any) error {
	err := os.MkdirAll(filepath.Dir(path), directoryPermission)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, filePermission)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

// readJSON returns fs.ErrNotExist when the document is missing.
func readJSON(path string, value any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

// readAll decodes every JSON document of a directory. A missing directory is empty.
func readAll[T any](dir string) ([]*T, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []*T{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	items := make([]*T, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		item := new(T)

		err := readJSON(filepath.Join(dir, entry.Name()), item)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	return items, nil
}
