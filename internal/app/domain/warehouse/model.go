// Package warehouse defines the directory view of fulfillment locations the
// engine ranks and allocates against.
package warehouse

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Warehouse is the directory record for one fulfillment location. The engine
// references warehouses, it never owns them.
type Warehouse struct {
	ID                 string
	Code               string
	Name               string
	City               string
	Zone               string
	Coordinates        *Coordinates
	Capacity           int
	CommittedUnits     int
	PerishablePriority bool
	Active             bool
}

// Index maps warehouses by id for joining against stock levels.
func Index(list []Warehouse) map[string]Warehouse {
	index := make(map[string]Warehouse, len(list))
	for _, wh := range list {
		index[wh.ID] = wh
	}
	return index
}

// Utilization returns committed/capacity clamped to [0,1]. ok is false when
// the warehouse reports no capacity signal.
func (w Warehouse) Utilization() (float64, bool) {
	if w.Capacity <= 0 {
		return 0, false
	}
	ratio := float64(w.CommittedUnits) / float64(w.Capacity)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return ratio, true
}
