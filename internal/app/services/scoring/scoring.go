// Package scoring ranks candidate warehouses for a requested quantity.
// All functions are pure: no clock, no randomness, no store access.
package scoring

import (
	"math"
	"sort"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/stock"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
)

// Sub-score weights sum to 100.
const (
	MaxAvailability = 40.0
	MaxProximity    = 30.0
	MaxUtilization  = 20.0
	MaxStrategic    = 10.0

	// Mid-range defaults keep warehouses without coordinates or a capacity
	// signal eligible instead of dropping them to the bottom.
	neutralProximity   = MaxProximity / 2
	neutralUtilization = MaxUtilization / 2

	// Distances at or beyond this scale score zero proximity.
	proximityScaleKM = 5000.0

	earthRadiusKM = 6371.0
)

// Order value tiers for the strategic sub-score.
const (
	valueTier1 = 1_000.0
	valueTier2 = 5_000.0
	valueTier3 = 20_000.0
)

// Candidate pairs a warehouse with its live available stock for the variant
// under consideration.
type Candidate struct {
	Warehouse warehouse.Warehouse
	Available int
}

// Context carries the order attributes that influence scoring.
type Context struct {
	OrderValue  float64
	Destination *warehouse.Coordinates
}

// Breakdown holds the weighted sub-scores for one candidate.
type Breakdown struct {
	Availability float64
	Proximity    float64
	Utilization  float64
	Strategic    float64
}

// Total sums the sub-scores.
func (b Breakdown) Total() float64 {
	return b.Availability + b.Proximity + b.Utilization + b.Strategic
}

// Ranked is a scored candidate.
type Ranked struct {
	Candidate
	Breakdown Breakdown
	Score     float64
}

// Score computes the sub-scores for one candidate against the requested
// quantity and order context.
func Score(c Candidate, requested int, octx Context) Breakdown {
	return Breakdown{
		Availability: availabilityScore(c.Available, requested),
		Proximity:    proximityScore(c.Warehouse.Coordinates, octx.Destination),
		Utilization:  utilizationScore(c.Warehouse),
		Strategic:    strategicScore(octx.OrderValue),
	}
}

// JoinLevels pairs stock levels with directory records to build candidates.
// Warehouses the directory marks inactive are dropped; warehouses missing
// from the directory stay eligible with neutral scoring attributes.
func JoinLevels(levels []stock.Level, directory map[string]warehouse.Warehouse) []Candidate {
	candidates := make([]Candidate, 0, len(levels))
	for _, level := range levels {
		if level.Available <= 0 {
			continue
		}
		wh, ok := directory[level.WarehouseID]
		if ok && !wh.Active {
			continue
		}
		if !ok {
			wh = warehouse.Warehouse{ID: level.WarehouseID}
		}
		candidates = append(candidates, Candidate{Warehouse: wh, Available: level.Available})
	}
	return candidates
}

// Rank scores the candidates and returns them sorted by total score
// descending, ties broken by warehouse id ascending. Candidates with zero
// available stock are excluded before scoring.
func Rank(candidates []Candidate, requested int, octx Context) []Ranked {
	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		if c.Available <= 0 {
			continue
		}
		breakdown := Score(c, requested, octx)
		ranked = append(ranked, Ranked{
			Candidate: c,
			Breakdown: breakdown,
			Score:     breakdown.Total(),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Warehouse.ID < ranked[j].Warehouse.ID
	})
	return ranked
}

func availabilityScore(available, requested int) float64 {
	if requested <= 0 {
		return MaxAvailability
	}
	ratio := float64(available) / float64(requested)
	if ratio > 1 {
		ratio = 1
	}
	return ratio * MaxAvailability
}

func proximityScore(from, to *warehouse.Coordinates) float64 {
	if from == nil || to == nil {
		return neutralProximity
	}
	dist := Distance(*from, *to)
	closeness := 1 - math.Min(dist/proximityScaleKM, 1)
	return closeness * MaxProximity
}

func utilizationScore(wh warehouse.Warehouse) float64 {
	utilization, ok := wh.Utilization()
	if !ok {
		return neutralUtilization
	}
	return (1 - utilization) * MaxUtilization
}

func strategicScore(orderValue float64) float64 {
	score := 0.0
	if orderValue >= valueTier1 {
		score += 2
	}
	if orderValue >= valueTier2 {
		score += 3
	}
	if orderValue >= valueTier3 {
		score += 5
	}
	if score > MaxStrategic {
		score = MaxStrategic
	}
	return score
}

// Distance returns the haversine great-circle distance between two points
// in kilometres.
func Distance(a, b warehouse.Coordinates) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
