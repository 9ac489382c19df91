package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Meridian-Commerce/reservation_engine/internal/adapters/orderline"
	"github.com/Meridian-Commerce/reservation_engine/internal/adapters/stockledger"
	"github.com/Meridian-Commerce/reservation_engine/internal/adapters/warehousedir"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	allocationsvc "github.com/Meridian-Commerce/reservation_engine/internal/app/services/allocation"
	reservationsvc "github.com/Meridian-Commerce/reservation_engine/internal/app/services/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage/memory"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/system"
	"github.com/Meridian-Commerce/reservation_engine/internal/config"
	"github.com/Meridian-Commerce/reservation_engine/pkg/logger"
)

// Stores encapsulates persistence and the engine's external read sources.
// Nil fields default to in-memory implementations.
type Stores struct {
	Engine     storage.Store
	Ledger     storage.StockLedger
	LineItems  storage.LineItemSource
	Warehouses storage.WarehouseDirectory
}

// Application ties the engine's services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Reservations *reservationsvc.Service
	Allocations  *allocationsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Engine == nil {
		stores.Engine = memory.New()
	}
	if stores.Ledger == nil {
		log.Warn("no stock ledger configured; starting with an empty in-memory ledger")
		stores.Ledger = stockledger.NewMemory()
	}
	if stores.LineItems == nil {
		log.Warn("no line item source configured; starting with an empty in-memory source")
		stores.LineItems = orderline.NewMemory()
	}
	if stores.Warehouses == nil {
		log.Warn("no warehouse directory configured; starting with an empty in-memory directory")
		stores.Warehouses = warehousedir.NewMemory()
	}

	manager := system.NewManager()

	reservations := reservationsvc.New(stores.Engine, stores.Ledger, stores.LineItems, stores.Warehouses, log,
		reservationsvc.WithHoldWindows(
			time.Duration(cfg.Engine.ReservationTimeoutMin)*time.Minute,
			time.Duration(cfg.Engine.ConfirmationDeadlineMin)*time.Minute,
		))

	allocationOpts := []allocationsvc.Option{
		allocationsvc.WithLogisticsCosts(cfg.Engine.LogisticsBaseCost, cfg.Engine.LogisticsPerUnitCost),
	}
	if path := strings.TrimSpace(cfg.Engine.CustomStrategyScript); path != "" {
		source, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).Warn("custom strategy script unavailable; custom strategy disabled")
		} else {
			hook, err := allocationsvc.NewScriptHook(string(source),
				time.Duration(cfg.Engine.CustomStrategyTimeoutMS)*time.Millisecond, log)
			if err != nil {
				log.WithError(err).Warn("custom strategy script rejected; custom strategy disabled")
			} else {
				allocationOpts = append(allocationOpts, allocationsvc.WithScriptHook(hook))
			}
		}
	}
	allocations := allocationsvc.New(stores.Engine, stores.Ledger, stores.Warehouses, log, allocationOpts...)

	// Urgent holds allocate immediately after their automatic confirmation.
	reservations.AttachAllocator(reservationsvc.AllocatorFunc(
		func(ctx context.Context, reservationID int64, strategy reservation.Strategy) error {
			_, err := allocations.AllocateReservation(ctx, reservationID, strategy)
			return err
		}))

	sweeper := reservationsvc.NewSweeper(reservations, log)
	if spec := strings.TrimSpace(cfg.Engine.ExpirySchedule); spec != "" {
		if err := sweeper.WithSchedule(spec); err != nil {
			return nil, fmt.Errorf("expiry schedule: %w", err)
		}
	}

	monitor := reservationsvc.NewEscalationMonitor(reservations, log)
	if spec := strings.TrimSpace(cfg.Engine.EscalationSchedule); spec != "" {
		if err := monitor.WithSchedule(spec); err != nil {
			return nil, fmt.Errorf("escalation schedule: %w", err)
		}
	}
	if cfg.Engine.EscalationSLAMin > 0 {
		monitor.WithSLA(time.Duration(cfg.Engine.EscalationSLAMin) * time.Minute)
	}

	for _, svc := range []system.Service{sweeper, monitor} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:      manager,
		log:          log,
		Reservations: reservations,
		Allocations:  allocations,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
