package reservation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/metrics"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
)

// resolveContention re-partitions held quantity when the total requested by
// pending and confirmed reservations on one (variant, warehouse) pair
// exceeds available stock. Priority descending wins; ties go to earlier
// creation, then lower id. Deterministic and re-runnable: the same inputs
// always produce the same partition, and a second run changes nothing.
// Must run inside the enclosing transaction; contender rows are locked in id
// order by the list call.
func (s *Service) resolveContention(ctx context.Context, tx storage.EngineStore, variantID, warehouseID string, available int) error {
	contenders, err := tx.ListActiveForVariantWarehouse(ctx, variantID, warehouseID)
	if err != nil {
		return err
	}
	if len(contenders) < 2 {
		return nil
	}

	total := 0
	for _, res := range contenders {
		total += res.RequestedQuantity
	}
	if total <= available {
		return nil
	}

	// contenders arrive id-ascending; competing ids reuse that order
	allIDs := make([]int64, len(contenders))
	for i, res := range contenders {
		allIDs[i] = res.ID
	}

	ordered := make([]reservation.Reservation, len(contenders))
	copy(ordered, contenders)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	now := time.Now().UTC()
	remaining := available
	shorted := 0
	for _, res := range ordered {
		share := res.RequestedQuantity
		if share > remaining {
			share = remaining
		}
		remaining -= share

		needsUpdate := share != res.ReservedQuantity
		switch {
		case share < res.RequestedQuantity:
			shorted++
			if res.Conflict == nil || res.Conflict.Type != reservation.ConflictStockShortage {
				res.Conflict = &reservation.Conflict{
					Type:                  reservation.ConflictStockShortage,
					ResolutionStrategy:    reservation.ResolutionPriorityBased,
					CompetingReservations: competitorIDs(allIDs, res.ID),
					DetectedAt:            now,
					Notes:                 fmt.Sprintf("requested %d, rationed to %d of %d available", res.RequestedQuantity, share, available),
				}
				needsUpdate = true
			}
		case res.Conflict != nil && res.Conflict.Type == reservation.ConflictStockShortage:
			// hold restored to the full request; drop the stale flag
			res.Conflict = nil
			needsUpdate = true
		}
		if !needsUpdate {
			continue
		}

		res.ReservedQuantity = share
		res.AppendAudit(reservation.ActionConflictResolved, systemActor,
			fmt.Sprintf("priority rationing set hold to %d of %d requested", share, res.RequestedQuantity))
		if _, err := tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
	}

	metrics.RecordConflictRations(shorted)
	s.log.WithField("variant_id", variantID).
		WithField("warehouse_id", warehouseID).
		WithField("contenders", len(contenders)).
		WithField("shorted", shorted).
		Info("contention rationed by priority")
	return nil
}

func competitorIDs(all []int64, self int64) []int64 {
	others := make([]int64, 0, len(all)-1)
	for _, id := range all {
		if id != self {
			others = append(others, id)
		}
	}
	return others
}
