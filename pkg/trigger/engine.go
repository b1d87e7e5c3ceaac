// Package trigger watches workflow triggers and starts executions when they fire.
package trigger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/vincentsider/bolt.new-sub002/pkg/engine"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/otelhelper"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

const (
	emailCheckInterval       = time.Minute
	fileCheckInterval        = 2 * time.Minute
	defaultConditionInterval = 5 * time.Minute
)

// Starter starts workflow executions. *engine.Engine implements it.
type Starter interface {
	Start(ctx context.Context, req engine.StartRequest) (string, error)
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithEmailSource(source EmailSource) Option {
	return func(e *Engine) { e.emailSource = source }
}

func WithFileSource(source FileSource) Option {
	return func(e *Engine) { e.fileSource = source }
}

func WithConditionSource(source ConditionSource) Option {
	return func(e *Engine) { e.conditionSource = source }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// checkFunc runs one polling tick for the window (lastCheck, now].
type checkFunc func(ctx context.Context, m *monitor, lastCheck, now time.Time) error

type monitor struct {
	mu       sync.Mutex
	trigger  *models.WorkflowTrigger
	template *models.TriggerTemplate
	state    models.TriggerMonitor
	stop     chan struct{}
	done     chan struct{}
}

func (m *monitor) snapshot() models.WorkflowTrigger {
	m.mu.Lock()
	defer m.mu.Unlock()

	return *m.trigger
}

// Engine monitors the triggers of one tenant. Monitor state is never shared
// between engines.
type Engine struct {
	tenantID        string
	logger          *slog.Logger
	triggers        persistence.TriggerRepository
	starter         Starter
	clock           clock.Clock
	tracer          trace.Tracer
	validate        *validator.Validate
	emailSource     EmailSource
	fileSource      FileSource
	conditionSource ConditionSource

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	monitors map[string]*monitor
	stopped  bool

	// countersMu serializes the read-merge-save of trigger counters.
	countersMu sync.Mutex
}

func NewEngine(
	logger *slog.Logger,
	tenantID string,
	triggers persistence.TriggerRepository,
	starter Starter,
	opts ...Option,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		tenantID:        tenantID,
		logger:          logger.With("module", "trigger_engine", "tenant_id", tenantID),
		triggers:        triggers,
		starter:         starter,
		clock:           clock.RealClock{},
		tracer:          otelhelper.Tracer("flowcore/trigger"),
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		fileSource:      DirectorySource{},
		conditionSource: NewHTTPConditionSource(),
		ctx:             ctx,
		cancel:          cancel,
		monitors:        make(map[string]*monitor),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Engine) TenantID() string {
	return e.tenantID
}

// StartMonitoring creates the monitor of a trigger and, for polled types, its
// polling loop. A trigger already monitored is restarted with the new binding.
func (e *Engine) StartMonitoring(ctx context.Context, trigger *models.WorkflowTrigger, template *models.TriggerTemplate) error {
	if trigger.TenantID != e.tenantID {
		return fmt.Errorf("%w: %s is owned by %s", ErrTenantMismatch, trigger.ID, trigger.TenantID)
	}

	err := e.validate.Struct(trigger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	err = validateAgainstTemplate(trigger, template)
	if err != nil {
		return err
	}

	interval, check, err := e.checker(trigger)
	if err != nil {
		return err
	}

	now := e.clock.Now().UTC()
	binding := *trigger

	m := &monitor{
		trigger:  &binding,
		template: template,
		state: models.TriggerMonitor{
			TriggerID:     trigger.ID,
			Active:        true,
			LastCheck:     now,
			Status:        models.MonitorStatusHealthy,
			CheckInterval: interval,
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if interval > 0 {
		m.state.NextCheck = now.Add(interval)
	}

	e.mu.Lock()

	if e.stopped {
		e.mu.Unlock()

		return ErrEngineStopped
	}

	previous := e.monitors[trigger.ID]
	e.monitors[trigger.ID] = m

	if interval > 0 {
		e.wg.Add(1)

		go e.poll(m, interval, check)
	} else {
		close(m.done)
	}

	e.mu.Unlock()

	if previous != nil {
		close(previous.stop)
		<-previous.done
	}

	e.logger.InfoContext(ctx, "Monitoring trigger",
		"trigger_id", trigger.ID,
		"trigger_type", trigger.Type,
		"workflow_id", trigger.WorkflowID,
		"check_interval", interval)

	return nil
}

// checker selects the polling interval and tick of a trigger type. Webhooks are
// passive and get a zero interval.
func (e *Engine) checker(trigger *models.WorkflowTrigger) (time.Duration, checkFunc, error) {
	switch trigger.Type {
	case models.TriggerTypeScheduled:
		schedule, err := ParseSchedule(trigger.Config)
		if err != nil {
			return 0, nil, err
		}

		return schedule.Interval, e.scheduledCheck(schedule), nil
	case models.TriggerTypeEmailReceived:
		if e.emailSource == nil {
			return 0, nil, fmt.Errorf("%w: no email source for trigger %s", ErrSourceUnavailable, trigger.ID)
		}

		return emailCheckInterval, e.emailCheck(newEmailFilter(trigger.Config)), nil
	case models.TriggerTypeFileAdded:
		if e.fileSource == nil {
			return 0, nil, fmt.Errorf("%w: no file source for trigger %s", ErrSourceUnavailable, trigger.ID)
		}

		filter, err := newFileFilter(trigger.Config)
		if err != nil {
			return 0, nil, err
		}

		return fileCheckInterval, e.fileCheck(filter), nil
	case models.TriggerTypeConditionMet:
		if e.conditionSource == nil {
			return 0, nil, fmt.Errorf("%w: no condition source for trigger %s", ErrSourceUnavailable, trigger.ID)
		}

		interval := time.Duration(intValue(trigger.Config, "check_interval_minutes", 0)) * time.Minute
		if interval <= 0 {
			interval = defaultConditionInterval
		}

		cooldown := time.Duration(intValue(trigger.Config, "cooldown_minutes", 0)) * time.Minute

		return interval, e.conditionCheck(cooldown), nil
	case models.TriggerTypeWebhook:
		return 0, nil, nil
	default:
		return 0, nil, fmt.Errorf("%w: %q", ErrUnsupportedTrigger, trigger.Type)
	}
}

// poll ticks on a fresh timer per interval so stopping never leaves a timer behind.
func (e *Engine) poll(m *monitor, interval time.Duration, check checkFunc) {
	defer e.wg.Done()
	defer close(m.done)

	for {
		timer := e.clock.NewTimer(interval)

		select {
		case <-m.stop:
			timer.Stop()

			return
		case <-e.ctx.Done():
			timer.Stop()

			return
		case <-timer.C():
		}

		e.tick(m, interval, check)
	}
}

func (e *Engine) tick(m *monitor, interval time.Duration, check checkFunc) {
	now := e.clock.Now().UTC()

	m.mu.Lock()
	lastCheck := m.state.LastCheck
	m.mu.Unlock()

	err := check(e.ctx, m, lastCheck, now)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.LastCheck = now
	m.state.NextCheck = now.Add(interval)

	switch {
	case err == nil:
		m.state.Status = models.MonitorStatusHealthy
		m.state.ErrorMessage = ""
	case errors.Is(err, ErrFireFailed):
		// Fire already recorded the error status
	case errors.Is(err, ErrTriggerInactive):
		m.state.Status = models.MonitorStatusDisabled
		m.state.ErrorMessage = ""
	default:
		m.state.Status = models.MonitorStatusWarning
		m.state.ErrorMessage = err.Error()

		e.logger.Warn("Trigger check failed", "trigger_id", m.state.TriggerID, "error", err)
	}
}

func (e *Engine) scheduledCheck(schedule *Schedule) checkFunc {
	return func(ctx context.Context, m *monitor, lastCheck, now time.Time) error {
		if !schedule.Due(lastCheck, now) {
			return nil
		}

		trigger := m.snapshot()

		_, err := e.Fire(ctx, &trigger, "scheduled", map[string]any{
			"schedule_type": string(schedule.Type),
			"scheduled_at":  schedule.Next(lastCheck).UTC().Format(time.RFC3339),
			"timestamp":     now.Format(time.RFC3339),
		})

		return err
	}
}

func (e *Engine) emailCheck(filter emailFilter) checkFunc {
	return func(ctx context.Context, m *monitor, lastCheck, _ time.Time) error {
		trigger := m.snapshot()

		emails, err := e.emailSource.FetchEmails(ctx, trigger.Config, lastCheck)
		if err != nil {
			return fmt.Errorf("failed to fetch emails: %w", err)
		}

		var errs []error

		for _, email := range emails {
			if !filter.Match(email) {
				continue
			}

			_, err := e.Fire(ctx, &trigger, "email_received", map[string]any{
				"email": map[string]any{
					"id":          email.ID,
					"from":        email.From,
					"subject":     email.Subject,
					"body":        email.Body,
					"received_at": email.ReceivedAt.UTC().Format(time.RFC3339),
				},
			})
			if err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	}
}

func (e *Engine) fileCheck(filter fileFilter) checkFunc {
	return func(ctx context.Context, m *monitor, lastCheck, _ time.Time) error {
		trigger := m.snapshot()

		files, err := e.fileSource.ListFiles(ctx, trigger.Config, lastCheck)
		if err != nil {
			return fmt.Errorf("failed to list files: %w", err)
		}

		var errs []error

		for _, file := range files {
			if !filter.Match(file) {
				continue
			}

			_, err := e.Fire(ctx, &trigger, "file_added", map[string]any{
				"file": map[string]any{
					"path":        file.Path,
					"name":        file.Name,
					"size":        file.Size,
					"modified_at": file.ModifiedAt.UTC().Format(time.RFC3339),
				},
			})
			if err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	}
}

func (e *Engine) conditionCheck(cooldown time.Duration) checkFunc {
	return func(ctx context.Context, m *monitor, _, now time.Time) error {
		trigger := m.snapshot()

		if cooldown > 0 && trigger.LastTriggeredAt != nil && now.Sub(*trigger.LastTriggeredAt) < cooldown {
			return nil
		}

		met, data, err := e.conditionSource.Evaluate(ctx, trigger.Config)
		if err != nil {
			return fmt.Errorf("failed to evaluate condition: %w", err)
		}

		if !met {
			return nil
		}

		_, err = e.Fire(ctx, &trigger, "condition_met", map[string]any{
			"condition": data,
			"timestamp": now.Format(time.RFC3339),
		})

		return err
	}
}

// Fire records a TriggerEvent, starts the bound workflow with eventData as its
// input and updates the trigger counters. Failures still count against the
// trigger and mark its monitor as errored before being returned. A trigger
// deactivated in the store since it was monitored is not fired.
func (e *Engine) Fire(
	ctx context.Context,
	trigger *models.WorkflowTrigger,
	eventType string,
	eventData map[string]any,
) (string, error) {
	if trigger.TenantID != e.tenantID {
		return "", fmt.Errorf("%w: %s is owned by %s", ErrTenantMismatch, trigger.ID, trigger.TenantID)
	}

	if !e.storedActive(ctx, trigger.ID) {
		return "", fmt.Errorf("%w: %s", ErrTriggerInactive, trigger.ID)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "trigger.fire",
		attribute.String(otelhelper.TriggerIDKey, trigger.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(trigger.Type)),
		attribute.String(otelhelper.TenantIDKey, e.tenantID),
		attribute.String(otelhelper.WorkflowIDKey, trigger.WorkflowID),
	)
	defer span.End()

	logger := e.logger.With("trigger_id", trigger.ID, "workflow_id", trigger.WorkflowID, "event_type", eventType)
	now := e.clock.Now().UTC()

	event := &models.TriggerEvent{
		ID:        uuid.NewString(),
		TriggerID: trigger.ID,
		TenantID:  e.tenantID,
		EventType: eventType,
		EventData: models.CloneMap(eventData),
		Timestamp: now,
	}

	err := e.triggers.SaveEvent(ctx, event)
	if err != nil {
		otelhelper.SetError(span, err)
		e.recordFailure(ctx, trigger, err)

		return "", fmt.Errorf("%w: failed to record event of trigger %s: %w", ErrFireFailed, trigger.ID, err)
	}

	initiator := models.InitiatorTrigger
	if trigger.Type == models.TriggerTypeScheduled {
		initiator = models.InitiatorSchedule
	}

	executionID, err := e.starter.Start(ctx, engine.StartRequest{
		WorkflowID: trigger.WorkflowID,
		Initiator: models.Initiator{
			Type: initiator,
			ID:   trigger.ID,
			Metadata: map[string]any{
				"trigger_type": string(trigger.Type),
				"event_id":     event.ID,
				"event_type":   eventType,
			},
		},
		Data: models.CloneMap(eventData),
	})
	if err != nil {
		otelhelper.SetError(span, err)

		event.Error = err.Error()

		saveErr := e.triggers.SaveEvent(ctx, event)
		if saveErr != nil {
			logger.ErrorContext(ctx, "failed to record trigger event error", "error", saveErr)
		}

		e.recordFailure(ctx, trigger, err)

		logger.ErrorContext(ctx, "Trigger failed to start workflow", "error", err)

		return "", fmt.Errorf("%w: trigger %s: %w", ErrFireFailed, trigger.ID, err)
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, executionID))

	event.Processed = true
	event.WorkflowInstanceID = executionID

	err = e.triggers.SaveEvent(ctx, event)
	if err != nil {
		logger.ErrorContext(ctx, "failed to mark trigger event processed", "error", err)
	}

	e.updateTrigger(ctx, trigger, func(t *models.WorkflowTrigger) {
		t.TriggerCount++
		t.LastTriggeredAt = &now
	}, models.MonitorStatusHealthy, "")

	logger.InfoContext(ctx, "Trigger fired", "execution_id", executionID)

	return executionID, nil
}

func (e *Engine) recordFailure(ctx context.Context, trigger *models.WorkflowTrigger, cause error) {
	e.updateTrigger(ctx, trigger, func(t *models.WorkflowTrigger) {
		t.ErrorCount++
	}, models.MonitorStatusError, cause.Error())
}

// storedActive reports whether the stored binding is still active. Bindings
// that were never stored, or that cannot be read, are treated as active.
func (e *Engine) storedActive(ctx context.Context, triggerID string) bool {
	stored, err := e.triggers.GetTrigger(ctx, triggerID)
	if persistence.IsTriggerNotFound(err) {
		return true
	}

	if err != nil {
		e.logger.WarnContext(ctx, "failed to read stored trigger", "trigger_id", triggerID, "error", err)

		return true
	}

	return stored.Active
}

// updateTrigger applies a counter change to the monitored binding and to the
// stored one. Only counters are written back, so concurrent edits to the stored
// binding survive.
func (e *Engine) updateTrigger(
	ctx context.Context,
	trigger *models.WorkflowTrigger,
	mutate func(*models.WorkflowTrigger),
	status models.MonitorStatus,
	message string,
) {
	e.countersMu.Lock()
	defer e.countersMu.Unlock()

	local := trigger

	if m := e.monitor(trigger.ID); m != nil {
		m.mu.Lock()
		mutate(m.trigger)
		m.state.Status = status
		m.state.ErrorMessage = message
		snapshot := *m.trigger
		m.mu.Unlock()

		local = &snapshot
	} else {
		mutate(trigger)
	}

	target := local

	stored, err := e.triggers.GetTrigger(ctx, trigger.ID)
	switch {
	case err == nil:
		stored.TriggerCount = local.TriggerCount
		stored.ErrorCount = local.ErrorCount
		stored.LastTriggeredAt = local.LastTriggeredAt
		target = stored
	case !persistence.IsTriggerNotFound(err):
		e.logger.ErrorContext(ctx, "failed to read trigger before saving counters", "trigger_id", trigger.ID, "error", err)

		return
	}

	err = e.triggers.SaveTrigger(ctx, target)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to save trigger counters", "trigger_id", trigger.ID, "error", err)
	}
}

func (e *Engine) monitor(triggerID string) *monitor {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.monitors[triggerID]
}

// StopMonitoring stops a trigger's polling loop and returns its final monitor
// state, marked disabled.
func (e *Engine) StopMonitoring(triggerID string) (models.TriggerMonitor, bool) {
	e.mu.Lock()
	m, ok := e.monitors[triggerID]
	delete(e.monitors, triggerID)
	e.mu.Unlock()

	if !ok {
		return models.TriggerMonitor{}, false
	}

	close(m.stop)
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Active = false
	m.state.Status = models.MonitorStatusDisabled

	e.logger.Info("Stopped monitoring trigger", "trigger_id", triggerID)

	return m.state, true
}

// Monitored returns the monitor state of every trigger, ordered by trigger id.
func (e *Engine) Monitored() []models.TriggerMonitor {
	e.mu.Lock()
	monitors := make([]*monitor, 0, len(e.monitors))
	for _, m := range e.monitors {
		monitors = append(monitors, m)
	}
	e.mu.Unlock()

	states := make([]models.TriggerMonitor, 0, len(monitors))

	for _, m := range monitors {
		m.mu.Lock()
		states = append(states, m.state)
		m.mu.Unlock()
	}

	slices.SortFunc(states, func(a, b models.TriggerMonitor) int { return cmp.Compare(a.TriggerID, b.TriggerID) })

	return states
}

// Trigger returns the binding a monitor was started with, including counter updates.
func (e *Engine) Trigger(triggerID string) (*models.WorkflowTrigger, bool) {
	m := e.monitor(triggerID)
	if m == nil {
		return nil, false
	}

	snapshot := m.snapshot()

	return &snapshot, true
}

// Stop ends every polling loop and waits for in-flight checks.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	monitors := e.monitors
	e.monitors = make(map[string]*monitor)
	e.mu.Unlock()

	for _, m := range monitors {
		close(m.stop)
	}

	e.cancel()
	e.wg.Wait()

	e.logger.Info("Trigger engine stopped", "monitors", len(monitors))
}
