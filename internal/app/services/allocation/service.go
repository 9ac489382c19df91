// Package allocation distributes confirmed holds across ranked warehouses
// and tracks the resulting fulfillment records.
package allocation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/allocation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/metrics"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/services/scoring"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
	"github.com/Meridian-Commerce/reservation_engine/pkg/logger"
)

const systemActor = "system"

// Default placeholder economics for logistics estimates.
const (
	DefaultBaseCost        = 5.0
	DefaultPerUnitCost     = 0.5
	distanceSurchargePerKM = 0.01
)

// Service places confirmed reservations against warehouses.
type Service struct {
	store      storage.Store
	stock      storage.StockLedger
	warehouses storage.WarehouseDirectory
	log        *logger.Logger

	baseCost    float64
	perUnitCost float64
	hook        *ScriptHook
}

// Option configures optional service behaviour.
type Option func(*Service)

// WithLogisticsCosts overrides the placeholder base and per-unit shipping
// costs used in logistics estimates.
func WithLogisticsCosts(base, perUnit float64) Option {
	return func(s *Service) {
		if base >= 0 {
			s.baseCost = base
		}
		if perUnit >= 0 {
			s.perUnitCost = perUnit
		}
	}
}

// WithScriptHook installs the JavaScript hook backing the custom strategy.
func WithScriptHook(hook *ScriptHook) Option {
	return func(s *Service) {
		s.hook = hook
	}
}

// New creates a configured allocation service.
func New(store storage.Store, ledger storage.StockLedger, warehouses storage.WarehouseDirectory, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("allocation")
	}
	s := &Service{
		store:       store,
		stock:       ledger,
		warehouses:  warehouses,
		log:         log,
		baseCost:    DefaultBaseCost,
		perUnitCost: DefaultPerUnitCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result describes the outcome of allocating one reservation.
type Result struct {
	Reservation reservation.Reservation
	Allocations []allocation.Allocation
	FullyPlaced bool
}

// AllocateReservation distributes one confirmed reservation across ranked
// warehouses. Full placement moves the reservation to allocated, anything
// less to partially_allocated. Reserved quantity is never increased here.
func (s *Service) AllocateReservation(ctx context.Context, reservationID int64, strategy reservation.Strategy) (Result, error) {
	start := time.Now()

	var result Result
	err := s.store.WithTx(ctx, func(tx storage.EngineStore) error {
		res, err := tx.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.Status != reservation.StatusConfirmed {
			return fmt.Errorf("reservation %d is %s, expected confirmed: %w", reservationID, res.Status, reservation.ErrInvalidState)
		}
		if strategy == "" {
			strategy = res.Strategy
		}
		if strategy == "" {
			strategy = reservation.StrategyFirstAvailable
		}

		candidates, err := s.liveCandidates(ctx, res)
		if err != nil {
			return err
		}
		ranked := scoring.Rank(candidates, res.ReservedQuantity, scoringContext(res.Data))
		ordered := s.orderCandidates(ctx, strategy, ranked, res)

		remaining := res.ReservedQuantity
		allocations := make([]allocation.Allocation, 0, len(ordered))
		for _, cand := range ordered {
			if remaining == 0 {
				break
			}
			take := remaining
			if cand.Available < take {
				take = cand.Available
			}
			if take <= 0 {
				continue
			}

			alloc := allocation.Allocation{
				ReservationID:     res.ID,
				WarehouseID:       cand.Warehouse.ID,
				AllocatedQuantity: take,
				StockSnapshot:     cand.Available,
				Algorithm:         string(strategy),
				AllocationScore:   cand.Score,
				Logistics:         s.logisticsEstimate(cand.Warehouse, take, res.Data),
				FulfillmentStatus: allocation.FulfillmentAllocated,
			}
			alloc, err = tx.CreateAllocation(ctx, alloc)
			if err != nil {
				return err
			}
			allocations = append(allocations, alloc)
			remaining -= take
		}

		placed := res.ReservedQuantity - remaining
		full := remaining == 0

		res.AllocatedQuantity = placed
		res.Status = reservation.StatusPartiallyAllocated
		if full {
			res.Status = reservation.StatusAllocated
		}
		res.AppendAudit(reservation.ActionAllocated, systemActor,
			fmt.Sprintf("allocated %d of %d across %d warehouses (%s)", placed, res.ReservedQuantity, len(allocations), strategy))

		res, err = tx.UpdateReservation(ctx, res)
		if err != nil {
			return err
		}

		result = Result{Reservation: res, Allocations: allocations, FullyPlaced: full}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.RecordAllocation(string(strategy), time.Since(start), result.FullyPlaced)
	s.log.WithField("reservation_id", reservationID).
		WithField("strategy", string(strategy)).
		WithField("allocations", len(result.Allocations)).
		WithField("fully_placed", result.FullyPlaced).
		Info("reservation allocated")
	return result, nil
}

// AllocateForOrder allocates every confirmed reservation of an order. Fails
// when the order has no confirmed reservations to place.
func (s *Service) AllocateForOrder(ctx context.Context, orderID string, strategy reservation.Strategy) ([]Result, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order_id is required: %w", reservation.ErrValidation)
	}

	reservations, err := s.store.ListReservationsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var confirmed []reservation.Reservation
	for _, res := range reservations {
		if res.Status == reservation.StatusConfirmed {
			confirmed = append(confirmed, res)
		}
	}
	if len(confirmed) == 0 {
		return nil, fmt.Errorf("order %s has no confirmed reservations: %w", orderID, reservation.ErrInvalidState)
	}

	results := make([]Result, 0, len(confirmed))
	for _, res := range confirmed {
		result, err := s.AllocateReservation(ctx, res.ID, strategy)
		if err != nil {
			return nil, fmt.Errorf("allocate reservation %d: %w", res.ID, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// GetAllocation returns one allocation by id.
func (s *Service) GetAllocation(ctx context.Context, id int64) (allocation.Allocation, error) {
	return s.store.GetAllocation(ctx, id)
}

// ListForReservation returns the allocations recorded for a reservation.
func (s *Service) ListForReservation(ctx context.Context, reservationID int64) ([]allocation.Allocation, error) {
	return s.store.ListAllocationsForReservation(ctx, reservationID)
}

// AdvanceFulfillment moves an allocation a single step along the
// picked/packed/shipped/delivered chain. When every allocation of the parent
// reservation is delivered, the reservation becomes fulfilled.
func (s *Service) AdvanceFulfillment(ctx context.Context, allocationID int64, target allocation.FulfillmentStatus) (allocation.Allocation, error) {
	if !target.Known() {
		return allocation.Allocation{}, fmt.Errorf("unknown fulfillment status %q: %w", target, reservation.ErrValidation)
	}

	var updated allocation.Allocation
	err := s.store.WithTx(ctx, func(tx storage.EngineStore) error {
		alloc, err := tx.GetAllocation(ctx, allocationID)
		if err != nil {
			return err
		}
		if !alloc.FulfillmentStatus.CanAdvance(target) {
			return fmt.Errorf("allocation %d is %s, cannot move to %s: %w",
				allocationID, alloc.FulfillmentStatus, target, reservation.ErrInvalidState)
		}
		alloc.FulfillmentStatus = target
		updated, err = tx.UpdateAllocation(ctx, alloc)
		if err != nil {
			return err
		}
		if target != allocation.FulfillmentDelivered {
			return nil
		}
		return s.fulfilWhenDelivered(ctx, tx, alloc.ReservationID)
	})
	if err != nil {
		return allocation.Allocation{}, err
	}

	s.log.WithField("allocation_id", allocationID).
		WithField("fulfillment_status", string(target)).
		Info("fulfillment advanced")
	return updated, nil
}

// fulfilWhenDelivered marks the parent reservation fulfilled once all of its
// allocations are delivered.
func (s *Service) fulfilWhenDelivered(ctx context.Context, tx storage.EngineStore, reservationID int64) error {
	res, err := tx.GetReservationForUpdate(ctx, reservationID)
	if err != nil {
		return err
	}
	if !res.Status.CanTransition(reservation.StatusFulfilled) {
		return nil
	}
	siblings, err := tx.ListAllocationsForReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		if sibling.FulfillmentStatus != allocation.FulfillmentDelivered {
			return nil
		}
	}
	res.Status = reservation.StatusFulfilled
	res.AppendAudit(reservation.ActionFulfilled, systemActor, "all allocations delivered")
	_, err = tx.UpdateReservation(ctx, res)
	return err
}

// liveCandidates joins fresh stock levels with the warehouse directory.
func (s *Service) liveCandidates(ctx context.Context, res reservation.Reservation) ([]scoring.Candidate, error) {
	levels, err := s.stock.StockLevels(ctx, res.VariantID)
	if err != nil {
		return nil, fmt.Errorf("read stock for variant %s: %w", res.VariantID, err)
	}
	all, err := s.warehouses.Warehouses(ctx)
	if err != nil {
		return nil, fmt.Errorf("load warehouse directory: %w", err)
	}
	return scoring.JoinLevels(levels, warehouse.Index(all)), nil
}

func (s *Service) logisticsEstimate(wh warehouse.Warehouse, units int, data reservation.Data) allocation.Logistics {
	dist, hasDist := destinationDistance(wh, data)

	cost := s.baseCost + s.perUnitCost*float64(units)
	if hasDist {
		cost += dist * distanceSurchargePerKM
	}

	return allocation.Logistics{
		ShippingCost:         round2(cost),
		EstimatedTransitDays: transitDays(dist, hasDist),
		DestinationZone:      data.DestinationZone,
		DistanceKM:           round2(dist),
	}
}

func destinationDistance(wh warehouse.Warehouse, data reservation.Data) (float64, bool) {
	if wh.Coordinates == nil || data.DestinationLat == nil || data.DestinationLon == nil {
		return 0, false
	}
	dest := warehouse.Coordinates{Lat: *data.DestinationLat, Lon: *data.DestinationLon}
	return scoring.Distance(*wh.Coordinates, dest), true
}

// transitDays is a coarse band lookup; unknown distances get a mid estimate.
func transitDays(dist float64, known bool) int {
	switch {
	case !known:
		return 3
	case dist < 200:
		return 1
	case dist < 1000:
		return 2
	case dist < 3000:
		return 3
	}
	return 5
}

func scoringContext(data reservation.Data) scoring.Context {
	octx := scoring.Context{OrderValue: data.OrderValue}
	if data.DestinationLat != nil && data.DestinationLon != nil {
		octx.Destination = &warehouse.Coordinates{Lat: *data.DestinationLat, Lon: *data.DestinationLon}
	}
	return octx
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
