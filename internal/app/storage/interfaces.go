package storage

import (
	"context"
	"time"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/allocation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/order"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/stock"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
)

// ReservationFilter narrows admin reservation listings. Zero fields match
// everything.
type ReservationFilter struct {
	OrderID     string
	VariantID   string
	WarehouseID string
	Status      reservation.Status
	Limit       int
}

// ReservationStore persists reservation rows.
type ReservationStore interface {
	CreateReservation(ctx context.Context, res reservation.Reservation) (reservation.Reservation, error)
	UpdateReservation(ctx context.Context, res reservation.Reservation) (reservation.Reservation, error)
	GetReservation(ctx context.Context, id int64) (reservation.Reservation, error)
	// GetReservationForUpdate reads a row holding a write lock for the
	// remainder of the enclosing transaction.
	GetReservationForUpdate(ctx context.Context, id int64) (reservation.Reservation, error)
	ListReservationsForOrder(ctx context.Context, orderID string) ([]reservation.Reservation, error)
	// ListReservations returns matching rows newest first.
	ListReservations(ctx context.Context, filter ReservationFilter) ([]reservation.Reservation, error)
	// ListActiveForVariantWarehouse returns pending and confirmed holds on a
	// (variant, warehouse) pair ordered by id ascending; inside a transaction
	// the rows are locked in that order.
	ListActiveForVariantWarehouse(ctx context.Context, variantID, warehouseID string) ([]reservation.Reservation, error)
	// ListExpired returns pending holds whose ExpiresAt is before cutoff.
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]reservation.Reservation, error)
	// ListEscalatable returns pending holds with priority strictly above the
	// floor, created before cutoff, that carry no escalation flag yet.
	ListEscalatable(ctx context.Context, above reservation.Priority, cutoff time.Time, limit int) ([]reservation.Reservation, error)
}

// AllocationStore persists allocation rows.
type AllocationStore interface {
	CreateAllocation(ctx context.Context, alloc allocation.Allocation) (allocation.Allocation, error)
	UpdateAllocation(ctx context.Context, alloc allocation.Allocation) (allocation.Allocation, error)
	GetAllocation(ctx context.Context, id int64) (allocation.Allocation, error)
	ListAllocationsForReservation(ctx context.Context, reservationID int64) ([]allocation.Allocation, error)
}

// EngineStore combines the row stores the engine mutates.
type EngineStore interface {
	ReservationStore
	AllocationStore
}

// Store adds transactional execution over the engine stores. Multi-row
// read-modify-write sequences run inside WithTx so racing writers serialize.
type Store interface {
	EngineStore
	// WithTx runs fn against a transactional view. fn's writes are rolled
	// back when it returns an error.
	WithTx(ctx context.Context, fn func(tx EngineStore) error) error
}

// StockLedger is the external read-only view of on-hand stock.
type StockLedger interface {
	CurrentStock(ctx context.Context, variantID, warehouseID string) (int, error)
	StockLevels(ctx context.Context, variantID string) ([]stock.Level, error)
}

// LineItemSource reads an order's demand rows from the order system.
type LineItemSource interface {
	LineItems(ctx context.Context, orderID string) ([]order.LineItem, error)
}

// WarehouseDirectory reads warehouse master data.
type WarehouseDirectory interface {
	Warehouse(ctx context.Context, id string) (warehouse.Warehouse, error)
	Warehouses(ctx context.Context) ([]warehouse.Warehouse, error)
}
