package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/metrics"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
)

// SweepExpired releases pending reservations whose hold lapsed before
// cutoff. Each row is transitioned in its own transaction so one bad row
// cannot block the rest of the sweep; a row that was confirmed between scan
// and lock is skipped. Idempotent: released rows no longer match the scan.
func (s *Service) SweepExpired(ctx context.Context, cutoff time.Time) (int, error) {
	candidates, err := s.store.ListExpired(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("scan expired reservations: %w", err)
	}

	released := 0
	for _, candidate := range candidates {
		swept := false
		err := s.store.WithTx(ctx, func(tx storage.EngineStore) error {
			res, err := tx.GetReservationForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if res.Status != reservation.StatusPending || !res.ExpiresAt.Before(cutoff) {
				return nil
			}
			res.Status = reservation.StatusReleased
			res.AppendAudit(reservation.ActionReleased, systemActor, reservation.ReasonExpired)
			if _, err := tx.UpdateReservation(ctx, res); err != nil {
				return err
			}
			swept = true
			return nil
		})
		if err != nil {
			s.log.WithError(err).WithField("reservation_id", candidate.ID).Warn("expiry sweep failed for reservation")
			continue
		}
		if swept {
			released++
		}
	}

	metrics.RecordSweep("expiry", released)
	if released > 0 {
		s.log.WithField("released", released).Info("expiry sweep released stale holds")
	}
	return released, nil
}

// EscalateStalled flags reservations with priority above high that are still
// pending past the SLA cutoff. Advisory only: status never changes, and a
// row already flagged is not re-flagged.
func (s *Service) EscalateStalled(ctx context.Context, cutoff time.Time) (int, error) {
	candidates, err := s.store.ListEscalatable(ctx, reservation.PriorityHigh, cutoff, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("scan stalled reservations: %w", err)
	}

	flagged := 0
	for _, candidate := range candidates {
		marked := false
		err := s.store.WithTx(ctx, func(tx storage.EngineStore) error {
			res, err := tx.GetReservationForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if res.Status != reservation.StatusPending || !res.CreatedAt.Before(cutoff) {
				return nil
			}
			if res.Conflict != nil && res.Conflict.Type == reservation.ConflictPerformanceIssue {
				return nil
			}
			res.Conflict = &reservation.Conflict{
				Type:               reservation.ConflictPerformanceIssue,
				ResolutionStrategy: reservation.ResolutionManualEscalation,
				DetectedAt:         time.Now().UTC(),
				Notes:              fmt.Sprintf("%s priority reservation pending since %s", res.Priority, res.CreatedAt.UTC().Format(time.RFC3339)),
			}
			res.AppendAudit(reservation.ActionEscalated, systemActor, "pending beyond SLA window")
			if _, err := tx.UpdateReservation(ctx, res); err != nil {
				return err
			}
			marked = true
			return nil
		})
		if err != nil {
			s.log.WithError(err).WithField("reservation_id", candidate.ID).Warn("escalation scan failed for reservation")
			continue
		}
		if marked {
			flagged++
		}
	}

	metrics.RecordSweep("escalation", flagged)
	if flagged > 0 {
		s.log.WithField("flagged", flagged).Warn("stalled high-priority reservations escalated")
	}
	return flagged, nil
}
