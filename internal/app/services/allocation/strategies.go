package allocation

import (
	"context"
	"sort"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/services/scoring"
)

// orderCandidates applies the strategy-specific reordering on top of the
// score ranking. The input ranking is never mutated.
func (s *Service) orderCandidates(ctx context.Context, strategy reservation.Strategy, ranked []scoring.Ranked, res reservation.Reservation) []scoring.Ranked {
	out := make([]scoring.Ranked, len(ranked))
	copy(out, ranked)

	switch strategy {
	case reservation.StrategyFirstAvailable:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Available != out[j].Available {
				return out[i].Available > out[j].Available
			}
			return beatsByScore(out[i], out[j])
		})
	case reservation.StrategyNearestWarehouse:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Breakdown.Proximity != out[j].Breakdown.Proximity {
				return out[i].Breakdown.Proximity > out[j].Breakdown.Proximity
			}
			return beatsByScore(out[i], out[j])
		})
	case reservation.StrategyLowestCost:
		sort.SliceStable(out, func(i, j int) bool {
			ci := s.perUnitEstimate(out[i], res)
			cj := s.perUnitEstimate(out[j], res)
			if ci != cj {
				return ci < cj
			}
			return beatsByScore(out[i], out[j])
		})
	case reservation.StrategyLoadBalancing:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Breakdown.Utilization != out[j].Breakdown.Utilization {
				return out[i].Breakdown.Utilization > out[j].Breakdown.Utilization
			}
			return beatsByScore(out[i], out[j])
		})
	case reservation.StrategyFIFO:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Warehouse.ID < out[j].Warehouse.ID
		})
	case reservation.StrategyLIFO:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Warehouse.ID > out[j].Warehouse.ID
		})
	case reservation.StrategyExpiryDateAware:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Warehouse.PerishablePriority && !out[j].Warehouse.PerishablePriority
		})
	case reservation.StrategyCustom:
		if s.hook == nil {
			s.log.Warn("custom strategy requested but no script hook configured; using score order")
			return out
		}
		rescored, err := s.hook.Rescore(ctx, res, out)
		if err != nil {
			s.log.WithError(err).Warn("custom strategy script failed; using score order")
			return out
		}
		return rescored
	}
	return out
}

// perUnitEstimate approximates the per-unit shipping cost of serving the
// reservation from one warehouse.
func (s *Service) perUnitEstimate(cand scoring.Ranked, res reservation.Reservation) float64 {
	units := res.ReservedQuantity
	if cand.Available < units {
		units = cand.Available
	}
	if units <= 0 {
		units = 1
	}
	estimate := s.logisticsEstimate(cand.Warehouse, units, res.Data)
	return estimate.ShippingCost / float64(units)
}

func beatsByScore(a, b scoring.Ranked) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Warehouse.ID < b.Warehouse.ID
}
