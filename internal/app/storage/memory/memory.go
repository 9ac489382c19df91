package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/allocation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	nextReservationID int64
	nextAllocationID  int64
	reservations      map[int64]reservation.Reservation
	allocations       map[int64]allocation.Allocation
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextReservationID: 1,
		nextAllocationID:  1,
		reservations:      make(map[int64]reservation.Reservation),
		allocations:       make(map[int64]allocation.Allocation),
	}
}

func (s *Store) nextReservationIDLocked() int64 {
	id := s.nextReservationID
	s.nextReservationID++
	return id
}

func (s *Store) nextAllocationIDLocked() int64 {
	id := s.nextAllocationID
	s.nextAllocationID++
	return id
}

// ReservationStore implementation ---------------------------------------------

func (s *Store) CreateReservation(_ context.Context, res reservation.Reservation) (reservation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.ID == 0 {
		res.ID = s.nextReservationIDLocked()
	} else if _, exists := s.reservations[res.ID]; exists {
		return reservation.Reservation{}, fmt.Errorf("reservation %d already exists", res.ID)
	}

	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now
	res = cloneReservation(res)

	s.reservations[res.ID] = res
	return cloneReservation(res), nil
}

func (s *Store) UpdateReservation(_ context.Context, res reservation.Reservation) (reservation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.reservations[res.ID]
	if !ok {
		return reservation.Reservation{}, fmt.Errorf("reservation %d: %w", res.ID, reservation.ErrNotFound)
	}

	res.CreatedAt = original.CreatedAt
	res.UpdatedAt = time.Now().UTC()
	res = cloneReservation(res)

	s.reservations[res.ID] = res
	return cloneReservation(res), nil
}

func (s *Store) GetReservation(_ context.Context, id int64) (reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.reservations[id]
	if !ok {
		return reservation.Reservation{}, fmt.Errorf("reservation %d: %w", id, reservation.ErrNotFound)
	}
	return cloneReservation(res), nil
}

// GetReservationForUpdate behaves like GetReservation; transactional callers
// are already serialized by WithTx.
func (s *Store) GetReservationForUpdate(ctx context.Context, id int64) (reservation.Reservation, error) {
	return s.GetReservation(ctx, id)
}

func (s *Store) ListReservationsForOrder(_ context.Context, orderID string) ([]reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]reservation.Reservation, 0)
	for _, res := range s.reservations {
		if res.OrderID == orderID {
			result = append(result, cloneReservation(res))
		}
	}
	sortByID(result, false)
	return result, nil
}

func (s *Store) ListReservations(_ context.Context, filter storage.ReservationFilter) ([]reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]reservation.Reservation, 0)
	for _, res := range s.reservations {
		if filter.OrderID != "" && res.OrderID != filter.OrderID {
			continue
		}
		if filter.VariantID != "" && res.VariantID != filter.VariantID {
			continue
		}
		if filter.WarehouseID != "" && res.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Status != "" && res.Status != filter.Status {
			continue
		}
		result = append(result, cloneReservation(res))
	}
	sortByID(result, true)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListActiveForVariantWarehouse(_ context.Context, variantID, warehouseID string) ([]reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]reservation.Reservation, 0)
	for _, res := range s.reservations {
		if res.VariantID != variantID || res.WarehouseID != warehouseID {
			continue
		}
		if res.Status != reservation.StatusPending && res.Status != reservation.StatusConfirmed {
			continue
		}
		result = append(result, cloneReservation(res))
	}
	sortByID(result, false)
	return result, nil
}

func (s *Store) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]reservation.Reservation, 0)
	for _, res := range s.reservations {
		if res.Status != reservation.StatusPending {
			continue
		}
		if !res.ExpiresAt.Before(cutoff) {
			continue
		}
		result = append(result, cloneReservation(res))
	}
	sortByID(result, false)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListEscalatable(_ context.Context, above reservation.Priority, cutoff time.Time, limit int) ([]reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]reservation.Reservation, 0)
	for _, res := range s.reservations {
		if res.Status != reservation.StatusPending {
			continue
		}
		if res.Priority <= above {
			continue
		}
		if !res.CreatedAt.Before(cutoff) {
			continue
		}
		if res.Conflict != nil && res.Conflict.Type == reservation.ConflictPerformanceIssue {
			continue
		}
		result = append(result, cloneReservation(res))
	}
	sortByID(result, false)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// AllocationStore implementation ----------------------------------------------

func (s *Store) CreateAllocation(_ context.Context, alloc allocation.Allocation) (allocation.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alloc.ID == 0 {
		alloc.ID = s.nextAllocationIDLocked()
	} else if _, exists := s.allocations[alloc.ID]; exists {
		return allocation.Allocation{}, fmt.Errorf("allocation %d already exists", alloc.ID)
	}

	now := time.Now().UTC()
	alloc.CreatedAt = now
	alloc.UpdatedAt = now

	s.allocations[alloc.ID] = alloc
	return alloc, nil
}

func (s *Store) UpdateAllocation(_ context.Context, alloc allocation.Allocation) (allocation.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.allocations[alloc.ID]
	if !ok {
		return allocation.Allocation{}, fmt.Errorf("allocation %d: %w", alloc.ID, reservation.ErrNotFound)
	}

	alloc.CreatedAt = original.CreatedAt
	alloc.UpdatedAt = time.Now().UTC()

	s.allocations[alloc.ID] = alloc
	return alloc, nil
}

func (s *Store) GetAllocation(_ context.Context, id int64) (allocation.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alloc, ok := s.allocations[id]
	if !ok {
		return allocation.Allocation{}, fmt.Errorf("allocation %d: %w", id, reservation.ErrNotFound)
	}
	return alloc, nil
}

func (s *Store) ListAllocationsForReservation(_ context.Context, reservationID int64) ([]allocation.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]allocation.Allocation, 0)
	for _, alloc := range s.allocations {
		if alloc.ReservationID == reservationID {
			result = append(result, alloc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Transactions ----------------------------------------------------------------

// WithTx serializes transactional callers and rolls the store back to its
// pre-transaction snapshot when fn fails.
func (s *Store) WithTx(_ context.Context, fn func(tx storage.EngineStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapReservations := make(map[int64]reservation.Reservation, len(s.reservations))
	for id, res := range s.reservations {
		snapReservations[id] = cloneReservation(res)
	}
	snapAllocations := make(map[int64]allocation.Allocation, len(s.allocations))
	for id, alloc := range s.allocations {
		snapAllocations[id] = alloc
	}
	snapNextReservation := s.nextReservationID
	snapNextAllocation := s.nextAllocationID
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.reservations = snapReservations
		s.allocations = snapAllocations
		s.nextReservationID = snapNextReservation
		s.nextAllocationID = snapNextAllocation
		s.mu.Unlock()
		return err
	}
	return nil
}

// Helpers ---------------------------------------------------------------------

func sortByID(items []reservation.Reservation, descending bool) {
	sort.Slice(items, func(i, j int) bool {
		if descending {
			return items[i].ID > items[j].ID
		}
		return items[i].ID < items[j].ID
	})
}

func cloneReservation(res reservation.Reservation) reservation.Reservation {
	if res.ConfirmedAt != nil {
		confirmed := *res.ConfirmedAt
		res.ConfirmedAt = &confirmed
	}
	if res.Data.DestinationLat != nil {
		lat := *res.Data.DestinationLat
		res.Data.DestinationLat = &lat
	}
	if res.Data.DestinationLon != nil {
		lon := *res.Data.DestinationLon
		res.Data.DestinationLon = &lon
	}
	if res.Conflict != nil {
		conflict := *res.Conflict
		conflict.CompetingReservations = append([]int64(nil), res.Conflict.CompetingReservations...)
		res.Conflict = &conflict
	}
	res.AuditTrail = append([]reservation.AuditEntry(nil), res.AuditTrail...)
	return res
}
