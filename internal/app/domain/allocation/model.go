// Package allocation defines the committed-quantity record produced when a
// confirmed reservation is placed against warehouses.
package allocation

import "time"

// FulfillmentStatus tracks an allocation through warehouse handling.
type FulfillmentStatus string

const (
	FulfillmentAllocated FulfillmentStatus = "allocated"
	FulfillmentPicked    FulfillmentStatus = "picked"
	FulfillmentPacked    FulfillmentStatus = "packed"
	FulfillmentShipped   FulfillmentStatus = "shipped"
	FulfillmentDelivered FulfillmentStatus = "delivered"
)

var fulfillmentRank = map[FulfillmentStatus]int{
	FulfillmentAllocated: 0,
	FulfillmentPicked:    1,
	FulfillmentPacked:    2,
	FulfillmentShipped:   3,
	FulfillmentDelivered: 4,
}

// Known reports whether s is a recognized fulfillment stage.
func (s FulfillmentStatus) Known() bool {
	_, ok := fulfillmentRank[s]
	return ok
}

// CanAdvance reports whether moving from s to target is the next forward
// step. Fulfillment never moves backwards or skips stages.
func (s FulfillmentStatus) CanAdvance(target FulfillmentStatus) bool {
	from, ok := fulfillmentRank[s]
	if !ok {
		return false
	}
	to, ok := fulfillmentRank[target]
	if !ok {
		return false
	}
	return to == from+1
}

// Logistics estimates shipping economics for one allocation.
type Logistics struct {
	ShippingCost         float64
	EstimatedTransitDays int
	DestinationZone      string
	DistanceKM           float64
}

// Allocation records quantity committed from one warehouse against one
// reservation.
type Allocation struct {
	ID                int64
	ReservationID     int64
	WarehouseID       string
	AllocatedQuantity int
	StockSnapshot     int
	Algorithm         string
	AllocationScore   float64
	Logistics         Logistics
	FulfillmentStatus FulfillmentStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
