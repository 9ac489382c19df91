// Package reservation implements the hold lifecycle: creation against ranked
// warehouses, confirmation under live stock, priority rationing, release and
// the periodic expiry and escalation tasks.
package reservation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/order"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/metrics"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/services/scoring"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
	"github.com/Meridian-Commerce/reservation_engine/pkg/logger"
)

// systemActor names the engine itself in audit entries it writes.
const systemActor = "system"

// sweepBatchSize bounds how many rows one periodic run touches.
const sweepBatchSize = 200

// Allocator fulfils a confirmed reservation. The allocation service
// implements it; attached after construction so auto-allocate can fire at
// creation time.
type Allocator interface {
	AllocateReservation(ctx context.Context, reservationID int64, strategy reservation.Strategy) error
}

// AllocatorFunc adapts a plain function to the Allocator interface.
type AllocatorFunc func(ctx context.Context, reservationID int64, strategy reservation.Strategy) error

// AllocateReservation calls f.
func (f AllocatorFunc) AllocateReservation(ctx context.Context, reservationID int64, strategy reservation.Strategy) error {
	return f(ctx, reservationID, strategy)
}

// Service owns reservation state transitions.
type Service struct {
	store      storage.Store
	stock      storage.StockLedger
	lines      storage.LineItemSource
	warehouses storage.WarehouseDirectory
	log        *logger.Logger

	timeout       time.Duration
	confirmWindow time.Duration
	allocator     Allocator
}

// Option configures optional service behaviour.
type Option func(*Service)

// WithHoldWindows overrides the default reservation timeout and confirmation
// deadline windows.
func WithHoldWindows(timeout, confirmation time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
		if confirmation > 0 {
			s.confirmWindow = confirmation
		}
	}
}

// New creates a configured reservation service.
func New(store storage.Store, ledger storage.StockLedger, lines storage.LineItemSource, warehouses storage.WarehouseDirectory, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("reservation")
	}
	s := &Service{
		store:         store,
		stock:         ledger,
		lines:         lines,
		warehouses:    warehouses,
		log:           log,
		timeout:       reservation.DefaultTimeout,
		confirmWindow: reservation.DefaultConfirmationDeadline,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachAllocator wires the allocator used for auto-allocation. Call before
// serving traffic.
func (s *Service) AttachAllocator(a Allocator) {
	s.allocator = a
}

// ReserveOptions tunes reservation creation for one order.
type ReserveOptions struct {
	Priority        reservation.Priority
	Timeout         time.Duration
	Strategy        reservation.Strategy
	Category        string
	DestinationZone string
	Destination     *warehouse.Coordinates
}

// ReserveForOrder creates one pending reservation per order line item
// against the top-ranked warehouse. The whole set is one atomic unit: if any
// line item has no warehouse with stock, nothing survives.
func (s *Service) ReserveForOrder(ctx context.Context, orderID string, opts ReserveOptions) ([]reservation.Reservation, error) {
	start := time.Now()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order_id is required: %w", reservation.ErrValidation)
	}
	if opts.Priority == 0 {
		opts.Priority = reservation.PriorityNormal
	}
	if opts.Timeout <= 0 {
		opts.Timeout = s.timeout
	}
	if opts.Strategy == "" {
		opts.Strategy = reservation.StrategyFirstAvailable
	}

	items, err := s.lines.LineItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load line items for order %s: %w", orderID, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("order %s has no line items: %w", orderID, reservation.ErrNotFound)
	}

	octx := scoring.Context{OrderValue: order.TotalValue(items), Destination: opts.Destination}
	data := reservation.Data{
		OrderValue:      octx.OrderValue,
		Category:        opts.Category,
		DestinationZone: opts.DestinationZone,
	}
	if opts.Destination != nil {
		lat, lon := opts.Destination.Lat, opts.Destination.Lon
		data.DestinationLat = &lat
		data.DestinationLon = &lon
	}

	directory, err := s.warehouseIndex(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	automation := reservation.Automation{
		AutoConfirm:  opts.Priority >= reservation.PriorityHigh,
		AutoAllocate: opts.Priority >= reservation.PriorityUrgent,
	}

	var created []reservation.Reservation
	err = s.store.WithTx(ctx, func(tx storage.EngineStore) error {
		created = created[:0]
		for _, item := range items {
			if item.Quantity <= 0 {
				return fmt.Errorf("line item %s has non-positive quantity: %w", item.ID, reservation.ErrValidation)
			}

			levels, err := s.stock.StockLevels(ctx, item.VariantID)
			if err != nil {
				return fmt.Errorf("read stock for variant %s: %w", item.VariantID, err)
			}
			ranked := scoring.Rank(scoring.JoinLevels(levels, directory), item.Quantity, octx)
			if len(ranked) == 0 {
				return fmt.Errorf("no warehouse has stock for variant %s: %w", item.VariantID, reservation.ErrInsufficientStock)
			}

			top := ranked[0]
			reserved := item.Quantity
			if top.Available < reserved {
				reserved = top.Available
			}

			res := reservation.Reservation{
				OrderID:              orderID,
				LineItemID:           item.ID,
				VariantID:            item.VariantID,
				WarehouseID:          top.Warehouse.ID,
				RequestedQuantity:    item.Quantity,
				ReservedQuantity:     reserved,
				Status:               reservation.StatusPending,
				Priority:             opts.Priority,
				Strategy:             opts.Strategy,
				ExpiresAt:            now.Add(opts.Timeout),
				ConfirmationDeadline: now.Add(s.confirmWindow),
				Data:                 data,
				Metrics: reservation.Metrics{
					CreationMS:          time.Since(start).Milliseconds(),
					WarehousesEvaluated: len(ranked),
					TopScore:            top.Score,
				},
				Automation: automation,
			}
			res.AppendAudit(reservation.ActionCreated, systemActor,
				fmt.Sprintf("reserved %d of %d requested at warehouse %s", reserved, item.Quantity, top.Warehouse.ID))

			res, err = tx.CreateReservation(ctx, res)
			if err != nil {
				return err
			}
			if err := s.resolveContention(ctx, tx, item.VariantID, top.Warehouse.ID, top.Available); err != nil {
				return err
			}
			// rationing may have re-partitioned the new row
			res, err = tx.GetReservation(ctx, res.ID)
			if err != nil {
				return err
			}
			created = append(created, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, res := range created {
		metrics.RecordReservationCreated(res.Priority.String())
	}
	s.log.WithField("order_id", orderID).
		WithField("reservations", len(created)).
		WithField("priority", opts.Priority.String()).
		Info("reservations created")

	return s.runAutomation(ctx, created), nil
}

// ConfirmReservation moves a pending reservation to confirmed after
// re-checking live stock. The contention set for the reservation's (variant,
// warehouse) pair is locked in id order so concurrent confirms serialize.
func (s *Service) ConfirmReservation(ctx context.Context, id int64, confirmedBy string) (reservation.Reservation, error) {
	confirmedBy = strings.TrimSpace(confirmedBy)
	if confirmedBy == "" {
		return reservation.Reservation{}, fmt.Errorf("confirmed_by is required: %w", reservation.ErrValidation)
	}

	var confirmed reservation.Reservation
	err := s.store.WithTx(ctx, func(tx storage.EngineStore) error {
		res, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if res.Status != reservation.StatusPending {
			return fmt.Errorf("reservation %d is %s, expected pending: %w", id, res.Status, reservation.ErrInvalidState)
		}

		contenders, err := tx.ListActiveForVariantWarehouse(ctx, res.VariantID, res.WarehouseID)
		if err != nil {
			return err
		}
		res, err = pickLocked(contenders, id)
		if err != nil {
			return err
		}

		live, err := s.stock.CurrentStock(ctx, res.VariantID, res.WarehouseID)
		if err != nil {
			return fmt.Errorf("read live stock for variant %s: %w", res.VariantID, err)
		}
		if live < res.ReservedQuantity {
			return fmt.Errorf("live stock %d below held quantity %d: %w", live, res.ReservedQuantity, reservation.ErrInsufficientStock)
		}

		now := time.Now().UTC()
		res.Status = reservation.StatusConfirmed
		res.ConfirmedBy = confirmedBy
		res.ConfirmedAt = &now
		res.AppendAudit(reservation.ActionConfirmed, confirmedBy, "")
		if _, err := tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
		if err := s.resolveContention(ctx, tx, res.VariantID, res.WarehouseID, live); err != nil {
			return err
		}
		confirmed, err = tx.GetReservation(ctx, id)
		return err
	})
	metrics.RecordConfirmation(err == nil)
	if err != nil {
		return reservation.Reservation{}, err
	}

	s.log.WithField("reservation_id", id).
		WithField("confirmed_by", confirmedBy).
		Info("reservation confirmed")
	return confirmed, nil
}

// CancelReservation short-circuits a pending reservation to cancelled.
func (s *Service) CancelReservation(ctx context.Context, id int64, cancelledBy, reason string) (reservation.Reservation, error) {
	cancelledBy = strings.TrimSpace(cancelledBy)
	if cancelledBy == "" {
		return reservation.Reservation{}, fmt.Errorf("cancelled_by is required: %w", reservation.ErrValidation)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by caller"
	}

	var cancelled reservation.Reservation
	err := s.store.WithTx(ctx, func(tx storage.EngineStore) error {
		res, err := tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if res.Status != reservation.StatusPending {
			return fmt.Errorf("reservation %d is %s, expected pending: %w", id, res.Status, reservation.ErrInvalidState)
		}
		res.Status = reservation.StatusCancelled
		res.AppendAudit(reservation.ActionCancelled, cancelledBy, reason)
		cancelled, err = tx.UpdateReservation(ctx, res)
		return err
	})
	if err != nil {
		return reservation.Reservation{}, err
	}

	s.log.WithField("reservation_id", id).
		WithField("cancelled_by", cancelledBy).
		Info("reservation cancelled")
	return cancelled, nil
}

// ReleaseForOrder releases every pending reservation of an order, typically
// when the order itself is cancelled upstream. Non-pending reservations are
// left untouched.
func (s *Service) ReleaseForOrder(ctx context.Context, orderID, reason string) ([]reservation.Reservation, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order_id is required: %w", reservation.ErrValidation)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "order released"
	}

	var released []reservation.Reservation
	err := s.store.WithTx(ctx, func(tx storage.EngineStore) error {
		released = released[:0]
		list, err := tx.ListReservationsForOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, res := range list {
			if res.Status != reservation.StatusPending {
				continue
			}
			locked, err := tx.GetReservationForUpdate(ctx, res.ID)
			if err != nil {
				return err
			}
			if locked.Status != reservation.StatusPending {
				continue
			}
			locked.Status = reservation.StatusReleased
			locked.AppendAudit(reservation.ActionReleased, systemActor, reason)
			updated, err := tx.UpdateReservation(ctx, locked)
			if err != nil {
				return err
			}
			released = append(released, updated)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("order_id", orderID).
		WithField("released", len(released)).
		Info("order reservations released")
	return released, nil
}

// GetReservation returns one reservation by id.
func (s *Service) GetReservation(ctx context.Context, id int64) (reservation.Reservation, error) {
	return s.store.GetReservation(ctx, id)
}

// ListForOrder returns all reservations belonging to an order.
func (s *Service) ListForOrder(ctx context.Context, orderID string) ([]reservation.Reservation, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order_id is required: %w", reservation.ErrValidation)
	}
	return s.store.ListReservationsForOrder(ctx, orderID)
}

// List returns reservations matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter storage.ReservationFilter) ([]reservation.Reservation, error) {
	return s.store.ListReservations(ctx, filter)
}

// runAutomation fires auto-confirm and auto-allocate for freshly created
// reservations. Automation failures leave the reservation pending and are
// logged rather than failing the creation.
func (s *Service) runAutomation(ctx context.Context, created []reservation.Reservation) []reservation.Reservation {
	out := make([]reservation.Reservation, 0, len(created))
	for _, res := range created {
		if !res.Automation.AutoConfirm {
			out = append(out, res)
			continue
		}

		confirmed, err := s.ConfirmReservation(ctx, res.ID, systemActor)
		if err != nil {
			s.log.WithError(err).WithField("reservation_id", res.ID).Warn("auto-confirm failed")
			out = append(out, res)
			continue
		}
		res = confirmed

		if res.Automation.AutoAllocate {
			switch {
			case s.allocator == nil:
				s.log.WithField("reservation_id", res.ID).Warn("auto-allocate requested but no allocator attached")
			default:
				if err := s.allocator.AllocateReservation(ctx, res.ID, res.Strategy); err != nil {
					s.log.WithError(err).WithField("reservation_id", res.ID).Warn("auto-allocate failed")
				} else if refreshed, err := s.store.GetReservation(ctx, res.ID); err == nil {
					res = refreshed
				}
			}
		}
		out = append(out, res)
	}
	return out
}

func (s *Service) warehouseIndex(ctx context.Context) (map[string]warehouse.Warehouse, error) {
	all, err := s.warehouses.Warehouses(ctx)
	if err != nil {
		return nil, fmt.Errorf("load warehouse directory: %w", err)
	}
	return warehouse.Index(all), nil
}

// pickLocked finds the target row in the freshly locked contention set and
// verifies it is still pending.
func pickLocked(contenders []reservation.Reservation, id int64) (reservation.Reservation, error) {
	for _, res := range contenders {
		if res.ID != id {
			continue
		}
		if res.Status != reservation.StatusPending {
			return reservation.Reservation{}, fmt.Errorf("reservation %d is %s, expected pending: %w", id, res.Status, reservation.ErrInvalidState)
		}
		return res, nil
	}
	return reservation.Reservation{}, fmt.Errorf("reservation %d is no longer pending: %w", id, reservation.ErrInvalidState)
}
