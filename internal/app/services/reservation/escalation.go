package reservation

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/system"
	"github.com/Meridian-Commerce/reservation_engine/pkg/logger"
)

var _ system.Service = (*EscalationMonitor)(nil)

// Defaults for the escalation monitor.
const (
	DefaultEscalationSchedule = "*/30 * * * *"
	DefaultEscalationSLA      = 15 * time.Minute
)

// EscalationMonitor drives EscalateStalled on a cron schedule as a
// lifecycle-managed component.
type EscalationMonitor struct {
	service  *Service
	log      *logger.Logger
	schedule cron.Schedule
	sla      time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewEscalationMonitor creates a lifecycle-managed escalation monitor.
func NewEscalationMonitor(service *Service, log *logger.Logger) *EscalationMonitor {
	if log == nil {
		log = logger.NewDefault("escalation-monitor")
	}
	return &EscalationMonitor{
		service:  service,
		log:      log,
		schedule: mustSchedule(DefaultEscalationSchedule),
		sla:      DefaultEscalationSLA,
	}
}

// WithSchedule replaces the scan schedule with a standard cron expression.
func (m *EscalationMonitor) WithSchedule(spec string) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.schedule = sched
	m.mu.Unlock()
	return nil
}

// WithSLA overrides how long a high-priority reservation may sit pending
// before it is flagged.
func (m *EscalationMonitor) WithSLA(window time.Duration) {
	if window <= 0 {
		return
	}
	m.mu.Lock()
	m.sla = window
	m.mu.Unlock()
}

func (m *EscalationMonitor) Name() string { return "escalation-monitor" }

func (m *EscalationMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	schedule := m.schedule
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		runOnSchedule(runCtx, schedule, m.tick)
	}()

	m.log.Info("escalation monitor started")
	return nil
}

func (m *EscalationMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.log.Info("escalation monitor stopped")
	return nil
}

func (m *EscalationMonitor) tick(ctx context.Context) {
	if m.service == nil {
		return
	}
	m.mu.Lock()
	sla := m.sla
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := m.service.EscalateStalled(ctx, time.Now().UTC().Add(-sla)); err != nil {
		m.log.WithError(err).Warn("escalation tick failed")
	}
}
