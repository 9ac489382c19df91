package httpapi

import (
	"time"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/allocation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	allocationsvc "github.com/Meridian-Commerce/reservation_engine/internal/app/services/allocation"
)

// Wire shapes live here so domain types stay free of serialization concerns.

type reservationJSON struct {
	ID                   int64                 `json:"id"`
	OrderID              string                `json:"order_id"`
	LineItemID           string                `json:"line_item_id"`
	VariantID            string                `json:"variant_id"`
	WarehouseID          string                `json:"warehouse_id"`
	RequestedQuantity    int                   `json:"requested_quantity"`
	ReservedQuantity     int                   `json:"reserved_quantity"`
	AllocatedQuantity    int                   `json:"allocated_quantity"`
	Status               string                `json:"status"`
	Priority             string                `json:"priority"`
	Strategy             string                `json:"strategy"`
	ExpiresAt            time.Time             `json:"expires_at"`
	ConfirmationDeadline time.Time             `json:"confirmation_deadline"`
	ConfirmedBy          string                `json:"confirmed_by,omitempty"`
	ConfirmedAt          *time.Time            `json:"confirmed_at,omitempty"`
	Data                 reservationDataJSON   `json:"data"`
	Metrics              creationMetricsJSON   `json:"metrics"`
	Conflict             *conflictJSON         `json:"conflict,omitempty"`
	Automation           automationJSON        `json:"automation"`
	AuditTrail           []reservationAuditJSON `json:"audit_trail"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

type reservationDataJSON struct {
	OrderValue      float64  `json:"order_value"`
	Category        string   `json:"category,omitempty"`
	DestinationZone string   `json:"destination_zone,omitempty"`
	DestinationLat  *float64 `json:"destination_lat,omitempty"`
	DestinationLon  *float64 `json:"destination_lon,omitempty"`
}

type creationMetricsJSON struct {
	CreationMS          int64   `json:"creation_ms"`
	WarehousesEvaluated int     `json:"warehouses_evaluated"`
	TopScore            float64 `json:"top_score"`
}

type conflictJSON struct {
	Type                  string    `json:"type"`
	ResolutionStrategy    string    `json:"resolution_strategy"`
	CompetingReservations []int64   `json:"competing_reservations,omitempty"`
	DetectedAt            time.Time `json:"detected_at"`
	Notes                 string    `json:"notes,omitempty"`
}

type automationJSON struct {
	AutoConfirm  bool `json:"auto_confirm"`
	AutoAllocate bool `json:"auto_allocate"`
}

type reservationAuditJSON struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func reservationPayload(res reservation.Reservation) reservationJSON {
	out := reservationJSON{
		ID:                   res.ID,
		OrderID:              res.OrderID,
		LineItemID:           res.LineItemID,
		VariantID:            res.VariantID,
		WarehouseID:          res.WarehouseID,
		RequestedQuantity:    res.RequestedQuantity,
		ReservedQuantity:     res.ReservedQuantity,
		AllocatedQuantity:    res.AllocatedQuantity,
		Status:               string(res.Status),
		Priority:             res.Priority.String(),
		Strategy:             string(res.Strategy),
		ExpiresAt:            res.ExpiresAt,
		ConfirmationDeadline: res.ConfirmationDeadline,
		ConfirmedBy:          res.ConfirmedBy,
		ConfirmedAt:          res.ConfirmedAt,
		Data: reservationDataJSON{
			OrderValue:      res.Data.OrderValue,
			Category:        res.Data.Category,
			DestinationZone: res.Data.DestinationZone,
			DestinationLat:  res.Data.DestinationLat,
			DestinationLon:  res.Data.DestinationLon,
		},
		Metrics: creationMetricsJSON{
			CreationMS:          res.Metrics.CreationMS,
			WarehousesEvaluated: res.Metrics.WarehousesEvaluated,
			TopScore:            res.Metrics.TopScore,
		},
		Automation: automationJSON{
			AutoConfirm:  res.Automation.AutoConfirm,
			AutoAllocate: res.Automation.AutoAllocate,
		},
		CreatedAt: res.CreatedAt,
		UpdatedAt: res.UpdatedAt,
	}
	if res.Conflict != nil {
		out.Conflict = &conflictJSON{
			Type:                  string(res.Conflict.Type),
			ResolutionStrategy:    string(res.Conflict.ResolutionStrategy),
			CompetingReservations: res.Conflict.CompetingReservations,
			DetectedAt:            res.Conflict.DetectedAt,
			Notes:                 res.Conflict.Notes,
		}
	}
	out.AuditTrail = make([]reservationAuditJSON, len(res.AuditTrail))
	for i, entry := range res.AuditTrail {
		out.AuditTrail[i] = reservationAuditJSON{
			ID:        entry.ID,
			Action:    entry.Action,
			Actor:     entry.Actor,
			Reason:    entry.Reason,
			Timestamp: entry.Timestamp,
		}
	}
	return out
}

func reservationListPayload(list []reservation.Reservation) []reservationJSON {
	out := make([]reservationJSON, len(list))
	for i, res := range list {
		out[i] = reservationPayload(res)
	}
	return out
}

type allocationJSON struct {
	ID                int64         `json:"id"`
	ReservationID     int64         `json:"reservation_id"`
	WarehouseID       string        `json:"warehouse_id"`
	AllocatedQuantity int           `json:"allocated_quantity"`
	StockSnapshot     int           `json:"stock_snapshot"`
	Algorithm         string        `json:"algorithm"`
	AllocationScore   float64       `json:"allocation_score"`
	Logistics         logisticsJSON `json:"logistics"`
	FulfillmentStatus string        `json:"fulfillment_status"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

type logisticsJSON struct {
	ShippingCost         float64 `json:"shipping_cost"`
	EstimatedTransitDays int     `json:"estimated_transit_days"`
	DestinationZone      string  `json:"destination_zone,omitempty"`
	DistanceKM           float64 `json:"distance_km"`
}

func allocationPayload(alloc allocation.Allocation) allocationJSON {
	return allocationJSON{
		ID:                alloc.ID,
		ReservationID:     alloc.ReservationID,
		WarehouseID:       alloc.WarehouseID,
		AllocatedQuantity: alloc.AllocatedQuantity,
		StockSnapshot:     alloc.StockSnapshot,
		Algorithm:         alloc.Algorithm,
		AllocationScore:   alloc.AllocationScore,
		Logistics: logisticsJSON{
			ShippingCost:         alloc.Logistics.ShippingCost,
			EstimatedTransitDays: alloc.Logistics.EstimatedTransitDays,
			DestinationZone:      alloc.Logistics.DestinationZone,
			DistanceKM:           alloc.Logistics.DistanceKM,
		},
		FulfillmentStatus: string(alloc.FulfillmentStatus),
		CreatedAt:         alloc.CreatedAt,
		UpdatedAt:         alloc.UpdatedAt,
	}
}

func allocationListPayload(list []allocation.Allocation) []allocationJSON {
	out := make([]allocationJSON, len(list))
	for i, alloc := range list {
		out[i] = allocationPayload(alloc)
	}
	return out
}

type allocationResultPayload struct {
	Reservation reservationJSON  `json:"reservation"`
	Allocations []allocationJSON `json:"allocations"`
	FullyPlaced bool             `json:"fully_placed"`
}

func resultPayload(result allocationsvc.Result) allocationResultPayload {
	return allocationResultPayload{
		Reservation: reservationPayload(result.Reservation),
		Allocations: allocationListPayload(result.Allocations),
		FullyPlaced: result.FullyPlaced,
	}
}
