package reservation

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/system"
	"github.com/Meridian-Commerce/reservation_engine/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// DefaultSweepSchedule fires the expiry sweep every five minutes.
const DefaultSweepSchedule = "*/5 * * * *"

// Sweeper drives SweepExpired on a cron schedule as a lifecycle-managed
// component.
type Sweeper struct {
	service  *Service
	log      *logger.Logger
	schedule cron.Schedule

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSweeper creates a lifecycle-managed expiry sweeper.
func NewSweeper(service *Service, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("expiry-sweeper")
	}
	return &Sweeper{
		service:  service,
		log:      log,
		schedule: mustSchedule(DefaultSweepSchedule),
	}
}

// WithSchedule replaces the sweep schedule with a standard cron expression.
func (s *Sweeper) WithSchedule(spec string) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.schedule = sched
	s.mu.Unlock()
	return nil
}

func (s *Sweeper) Name() string { return "expiry-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	schedule := s.schedule
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runOnSchedule(runCtx, schedule, s.tick)
	}()

	s.log.Info("expiry sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("expiry sweeper stopped")
	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := s.service.SweepExpired(ctx, time.Now().UTC()); err != nil {
		s.log.WithError(err).Warn("expiry sweep tick failed")
	}
}

// runOnSchedule invokes fn at each schedule activation until ctx is done.
func runOnSchedule(ctx context.Context, schedule cron.Schedule, fn func(context.Context)) {
	for {
		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn(ctx)
		}
	}
}

func mustSchedule(spec string) cron.Schedule {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		panic(err)
	}
	return sched
}
