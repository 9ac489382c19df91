// Package reservation defines the inventory hold entity and its lifecycle
// vocabulary.
package reservation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status enumerates reservation lifecycle states.
type Status string

const (
	StatusPending            Status = "pending"
	StatusConfirmed          Status = "confirmed"
	StatusAllocated          Status = "allocated"
	StatusPartiallyAllocated Status = "partially_allocated"
	StatusFulfilled          Status = "fulfilled"
	StatusExpired            Status = "expired"
	StatusReleased           Status = "released"
	StatusCancelled          Status = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusFulfilled, StatusExpired, StatusReleased, StatusCancelled:
		return true
	}
	return false
}

// transitions lists the permitted target states per source state.
var transitions = map[Status][]Status{
	StatusPending:            {StatusConfirmed, StatusExpired, StatusReleased, StatusCancelled},
	StatusConfirmed:          {StatusAllocated, StatusPartiallyAllocated},
	StatusAllocated:          {StatusFulfilled},
	StatusPartiallyAllocated: {StatusAllocated, StatusFulfilled},
}

// CanTransition reports whether moving from s to target is a legal step.
func (s Status) CanTransition(target Status) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Priority orders reservations for conflict rationing. Higher wins.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// ParsePriority maps a caller-supplied label to a Priority.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	}
	return 0, fmt.Errorf("unknown priority %q", value)
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Strategy tags the allocation algorithm requested for a reservation.
type Strategy string

const (
	StrategyFirstAvailable   Strategy = "first_available"
	StrategyNearestWarehouse Strategy = "nearest_warehouse"
	StrategyLowestCost       Strategy = "lowest_cost"
	StrategyLoadBalancing    Strategy = "load_balancing"
	StrategyFIFO             Strategy = "fifo"
	StrategyLIFO             Strategy = "lifo"
	StrategyExpiryDateAware  Strategy = "expiry_date_aware"
	StrategyCustom           Strategy = "custom"
)

// ParseStrategy maps a caller-supplied label to a Strategy.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return StrategyFirstAvailable, nil
	case StrategyFirstAvailable, StrategyNearestWarehouse, StrategyLowestCost,
		StrategyLoadBalancing, StrategyFIFO, StrategyLIFO, StrategyExpiryDateAware,
		StrategyCustom:
		return Strategy(strings.ToLower(strings.TrimSpace(value))), nil
	}
	return "", fmt.Errorf("unknown allocation strategy %q", value)
}

// Default hold windows applied at creation time.
const (
	DefaultTimeout              = 30 * time.Minute
	DefaultConfirmationDeadline = 10 * time.Minute
)

// Data carries the order context captured when the hold was created.
type Data struct {
	OrderValue      float64
	Category        string
	DestinationZone string
	DestinationLat  *float64
	DestinationLon  *float64
}

// Metrics records creation-time measurements for later analysis.
type Metrics struct {
	CreationMS          int64
	WarehousesEvaluated int
	TopScore            float64
}

// ConflictType classifies why a reservation was flagged.
type ConflictType string

const (
	ConflictStockShortage    ConflictType = "stock_shortage"
	ConflictPerformanceIssue ConflictType = "performance_issue"
)

// ResolutionStrategy names how a flagged conflict is handled.
type ResolutionStrategy string

const (
	ResolutionPriorityBased    ResolutionStrategy = "priority_based"
	ResolutionManualEscalation ResolutionStrategy = "manual_escalation"
)

// Conflict records contention or escalation against a reservation. Nil on a
// reservation means no conflict was ever detected.
type Conflict struct {
	Type                  ConflictType
	ResolutionStrategy    ResolutionStrategy
	CompetingReservations []int64
	DetectedAt            time.Time
	Notes                 string
}

// Automation captures the auto-transition flags decided at creation.
type Automation struct {
	AutoConfirm  bool
	AutoAllocate bool
}

// AuditEntry is one append-only action record on a reservation.
type AuditEntry struct {
	ID        string
	Action    string
	Actor     string
	Reason    string
	Timestamp time.Time
}

// Audit action names.
const (
	ActionCreated          = "created"
	ActionConflictResolved = "conflict_resolved"
	ActionConfirmed        = "confirmed"
	ActionAllocated        = "allocated"
	ActionCancelled        = "cancelled"
	ActionReleased         = "released"
	ActionEscalated        = "escalated"
	ActionFulfilled        = "fulfilled"
)

// ReasonExpired is the audit reason recorded when a hold times out.
const ReasonExpired = "Reservation expired"

// Reservation is one hold of quantity against one (variant, warehouse,
// order-line) triple.
type Reservation struct {
	ID                   int64
	OrderID              string
	LineItemID           string
	VariantID            string
	WarehouseID          string
	RequestedQuantity    int
	ReservedQuantity     int
	AllocatedQuantity    int
	Status               Status
	Priority             Priority
	Strategy             Strategy
	ExpiresAt            time.Time
	ConfirmationDeadline time.Time
	ConfirmedBy          string
	ConfirmedAt          *time.Time
	Data                 Data
	Metrics              Metrics
	Conflict             *Conflict
	Automation           Automation
	AuditTrail           []AuditEntry
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// QuantitiesConsistent reports whether the quantity ordering invariant holds.
func (r Reservation) QuantitiesConsistent() bool {
	return 0 <= r.AllocatedQuantity &&
		r.AllocatedQuantity <= r.ReservedQuantity &&
		r.ReservedQuantity <= r.RequestedQuantity
}

// AppendAudit records an action on the reservation's append-only trail.
func (r *Reservation) AppendAudit(action, actor, reason string) {
	r.AuditTrail = append(r.AuditTrail, AuditEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Actor:     actor,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}
