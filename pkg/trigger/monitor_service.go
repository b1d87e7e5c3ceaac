package trigger

import (
	"context"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"k8s.io/utils/clock"
)

const (
	DefaultReconcileInterval = 30 * time.Second

	// maxTenantBackoff caps how long a tenant whose triggers all failed to
	// start is left alone.
	maxTenantBackoff = 10 * time.Minute
)

// EngineFactory builds the trigger engine of a tenant.
type EngineFactory func(tenantID string) *Engine

type ServiceOption func(*MonitorService)

func WithReconcileInterval(interval time.Duration) ServiceOption {
	return func(s *MonitorService) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithServiceClock(c clock.Clock) ServiceOption {
	return func(s *MonitorService) { s.clock = c }
}

// MonitorService keeps one trigger engine per tenant with active triggers and
// reconciles the monitored set against the store. It is the only component that
// sees triggers of more than one tenant.
type MonitorService struct {
	logger     *slog.Logger
	repository *Repository
	newEngine  EngineFactory
	clock      clock.Clock
	interval   time.Duration

	mu      sync.Mutex
	engines map[string]*Engine
	backoff map[string]*tenantBackoff
}

type tenantBackoff struct {
	failures int
	retryAt  time.Time
}

func NewMonitorService(
	logger *slog.Logger,
	triggers persistence.TriggerRepository,
	newEngine EngineFactory,
	opts ...ServiceOption,
) *MonitorService {
	s := &MonitorService{
		logger:     logger.With("module", "trigger_monitor"),
		repository: NewRepository(triggers),
		newEngine:  newEngine,
		clock:      clock.RealClock{},
		interval:   DefaultReconcileInterval,
		engines:    make(map[string]*Engine),
		backoff:    make(map[string]*tenantBackoff),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Reconcile starts monitoring newly active triggers, restarts triggers whose
// binding changed, stops triggers no longer active and tears down tenants left
// without triggers. Triggers that fail to start are logged and retried on the
// next pass. A tenant none of whose triggers start is backed off exponentially
// instead of rebuilding its engine on every pass.
func (s *MonitorService) Reconcile(ctx context.Context) error {
	byTenant, err := s.repository.FetchActiveByTenant(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	for tenantID := range s.backoff {
		if _, ok := byTenant[tenantID]; !ok {
			delete(s.backoff, tenantID)
		}
	}

	for tenantID, triggers := range byTenant {
		eng, ok := s.engines[tenantID]
		if !ok {
			if b, waiting := s.backoff[tenantID]; waiting && now.Before(b.retryAt) {
				continue
			}

			eng = s.newEngine(tenantID)
			s.engines[tenantID] = eng

			s.logger.InfoContext(ctx, "Started trigger engine", "tenant_id", tenantID)
		}

		s.reconcileTenant(ctx, eng, triggers)

		if len(eng.Monitored()) > 0 {
			delete(s.backoff, tenantID)

			continue
		}

		b, ok := s.backoff[tenantID]
		if !ok {
			b = &tenantBackoff{}
			s.backoff[tenantID] = b
		}

		b.failures++
		b.retryAt = now.Add(s.tenantDelay(b.failures))

		s.logger.WarnContext(ctx, "No trigger of tenant could be monitored",
			"tenant_id", tenantID, "failures", b.failures, "retry_at", b.retryAt)
	}

	for tenantID, eng := range s.engines {
		if _, ok := byTenant[tenantID]; ok && len(eng.Monitored()) > 0 {
			continue
		}

		eng.Stop()
		delete(s.engines, tenantID)

		s.logger.InfoContext(ctx, "Stopped trigger engine", "tenant_id", tenantID)
	}

	return nil
}

func (s *MonitorService) reconcileTenant(ctx context.Context, eng *Engine, triggers []*models.WorkflowTrigger) {
	active := make(map[string]bool, len(triggers))

	for _, trigger := range triggers {
		active[trigger.ID] = true

		if current, ok := eng.Trigger(trigger.ID); ok && sameBinding(current, trigger) {
			continue
		}

		logger := s.logger.With("tenant_id", trigger.TenantID, "trigger_id", trigger.ID)

		template, err := s.repository.Template(ctx, trigger)
		if err != nil {
			logger.ErrorContext(ctx, "failed to load trigger template", "error", err)

			continue
		}

		err = eng.StartMonitoring(ctx, trigger, template)
		if err != nil {
			logger.WarnContext(ctx, "failed to start monitoring trigger", "error", err)
		}
	}

	for _, monitor := range eng.Monitored() {
		if !active[monitor.TriggerID] {
			eng.StopMonitoring(monitor.TriggerID)
		}
	}
}

// tenantDelay doubles the reconcile interval per consecutive failure.
func (s *MonitorService) tenantDelay(failures int) time.Duration {
	delay := s.interval

	for range failures {
		delay *= 2
		if delay >= maxTenantBackoff {
			return maxTenantBackoff
		}
	}

	return delay
}

// sameBinding ignores counters so firing a trigger never restarts its monitor.
func sameBinding(a, b *models.WorkflowTrigger) bool {
	return a.WorkflowID == b.WorkflowID &&
		a.Type == b.Type &&
		a.TemplateID == b.TemplateID &&
		reflect.DeepEqual(a.Config, b.Config)
}

// Run reconciles immediately and then on every interval until ctx is done,
// after which every engine is stopped.
func (s *MonitorService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Trigger monitor started", "interval", s.interval)

	for {
		err := s.Reconcile(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Trigger reconciliation failed", "error", err)
		}

		timer := s.clock.NewTimer(s.interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.Stop()

			s.logger.Info("Trigger monitor stopped")

			return nil
		case <-timer.C():
		}
	}
}

// ProcessWebhook routes an inbound webhook to the engine monitoring its trigger.
func (s *MonitorService) ProcessWebhook(ctx context.Context, req WebhookRequest) WebhookResult {
	s.mu.Lock()

	var owner *Engine

	for _, eng := range s.engines {
		if _, ok := eng.Trigger(req.TriggerID); ok {
			owner = eng

			break
		}
	}

	s.mu.Unlock()

	if owner == nil {
		return WebhookResult{Message: WebhookNotFound}
	}

	return owner.ProcessWebhook(ctx, req)
}

// Engines lists the tenants that currently have a trigger engine.
func (s *MonitorService) Engines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.engines))
}

func (s *MonitorService) Engine(tenantID string) (*Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eng, ok := s.engines[tenantID]

	return eng, ok
}

// Stop stops every tenant engine.
func (s *MonitorService) Stop() {
	s.mu.Lock()
	engines := s.engines
	s.engines = make(map[string]*Engine)
	s.mu.Unlock()

	for _, eng := range engines {
		eng.Stop()
	}
}
