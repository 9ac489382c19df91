package reservation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage/memory"
	"github.com/Meridian-Commerce/reservation_engine/pkg/testutil"
)

type fixture struct {
	store      *memory.Store
	ledger     *testutil.MockStockLedger
	lines      *testutil.MockLineItemSource
	warehouses *testutil.MockWarehouseDirectory
	svc        *Service
}

func newFixture(warehouseIDs ...string) *fixture {
	f := &fixture{
		store:      memory.New(),
		ledger:     testutil.NewMockStockLedger(),
		lines:      testutil.NewMockLineItemSource(),
		warehouses: testutil.NewMockWarehouseDirectory(),
	}
	for _, id := range warehouseIDs {
		f.warehouses.AddWarehouse(testutil.ActiveWarehouse(id))
	}
	f.svc = New(f.store, f.ledger, f.lines, f.warehouses, nil)
	return f
}

func TestService_ReserveForOrderPicksBestWarehouse(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a", "wh-b")
	f.ledger.SetStock("variant-1", "wh-a", 5)
	f.ledger.SetStock("variant-1", "wh-b", 10)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 8, 25)

	created, err := f.svc.ReserveForOrder(ctx, "order-1", ReserveOptions{})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(created))
	}

	res := created[0]
	if res.WarehouseID != "wh-b" {
		t.Errorf("expected wh-b (full availability), got %s", res.WarehouseID)
	}
	if res.RequestedQuantity != 8 || res.ReservedQuantity != 8 {
		t.Errorf("expected 8/8 quantities, got %d/%d", res.RequestedQuantity, res.ReservedQuantity)
	}
	if res.Status != reservation.StatusPending {
		t.Errorf("expected pending, got %s", res.Status)
	}
	if res.Priority != reservation.PriorityNormal {
		t.Errorf("expected defaulted normal priority, got %s", res.Priority)
	}
	if res.Strategy != reservation.StrategyFirstAvailable {
		t.Errorf("expected defaulted strategy, got %s", res.Strategy)
	}
	if res.Metrics.WarehousesEvaluated != 2 {
		t.Errorf("expected 2 warehouses evaluated, got %d", res.Metrics.WarehousesEvaluated)
	}
	if !res.ExpiresAt.After(time.Now().UTC()) {
		t.Error("expected expiry in the future")
	}
	if !res.ConfirmationDeadline.Before(res.ExpiresAt) {
		t.Error("expected confirmation deadline before expiry")
	}
	if len(res.AuditTrail) != 1 || res.AuditTrail[0].Action != reservation.ActionCreated {
		t.Errorf("expected single created audit entry, got %+v", res.AuditTrail)
	}
}

func TestService_ReserveForOrderPartialHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a")
	f.ledger.SetStock("variant-1", "wh-a", 5)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 8, 25)

	dest := &warehouse.Coordinates{Lat: 40.7, Lon: -74.0}
	created, err := f.svc.ReserveForOrder(ctx, "order-1", ReserveOptions{Destination: dest, DestinationZone: "us-east"})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	res := created[0]
	if res.ReservedQuantity != 5 {
		t.Errorf("expected hold capped at available 5, got %d", res.ReservedQuantity)
	}
	if res.RequestedQuantity != 8 {
		t.Errorf("expected requested 8 preserved, got %d", res.RequestedQuantity)
	}
	if res.Data.DestinationLat == nil || *res.Data.DestinationLat != 40.7 {
		t.Errorf("expected destination latitude captured, got %v", res.Data.DestinationLat)
	}
	if res.Data.DestinationZone != "us-east" {
		t.Errorf("expected destination zone captured, got %q", res.Data.DestinationZone)
	}
}

func TestService_ReserveForOrderAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a")
	f.ledger.SetStock("variant-1", "wh-a", 10)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 2, 10)
	f.lines.AddLineItem("order-1", "line-2", "variant-2", 3, 10)

	_, err := f.svc.ReserveForOrder(ctx, "order-1", ReserveOptions{})
	if !errors.Is(err, reservation.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	remaining, err := f.store.ListReservationsForOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected rollback to leave no reservations, got %d", len(remaining))
	}
}

func TestService_ReserveForOrderValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a")

	if _, err := f.svc.ReserveForOrder(ctx, "  ", ReserveOptions{}); !errors.Is(err, reservation.ErrValidation) {
		t.Errorf("expected validation error for blank order, got %v", err)
	}
	if _, err := f.svc.ReserveForOrder(ctx, "order-unknown", ReserveOptions{}); !errors.Is(err, reservation.ErrNotFound) {
		t.Errorf("expected not found for order without line items, got %v", err)
	}

	f.ledger.SetStock("variant-1", "wh-a", 10)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 0, 10)
	if _, err := f.svc.ReserveForOrder(ctx, "order-1", ReserveOptions{}); !errors.Is(err, reservation.ErrValidation) {
		t.Errorf("expected validation error for zero quantity, got %v", err)
	}
}

func TestService_PriorityRationing(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a")
	f.ledger.SetStock("variant-1", "wh-a", 10)
	f.lines.AddLineItem("order-normal", "line-n", "variant-1", 6, 20)
	f.lines.AddLineItem("order-high", "line-h", "variant-1", 7, 20)

	normalCreated, err := f.svc.ReserveForOrder(ctx, "order-normal", ReserveOptions{})
	if err != nil {
		t.Fatalf("reserve normal: %v", err)
	}
	if got := normalCreated[0].ReservedQuantity; got != 6 {
		t.Fatalf("expected uncontended hold of 6, got %d", got)
	}

	highCreated, err := f.svc.ReserveForOrder(ctx, "order-high", ReserveOptions{Priority: reservation.PriorityHigh})
	if err != nil {
		t.Fatalf("reserve high: %v", err)
	}

	high := highCreated[0]
	if high.ReservedQuantity != 7 {
		t.Errorf("expected high priority to win full 7, got %d", high.ReservedQuantity)
	}
	if high.Conflict != nil {
		t.Errorf("expected no conflict on the winning hold, got %+v", high.Conflict)
	}
	if high.Status != reservation.StatusConfirmed {
		t.Errorf("expected auto-confirm for high priority, got %s", high.Status)
	}
	if high.ConfirmedBy != "system" {
		t.Errorf("expected system auto-confirm actor, got %q", high.ConfirmedBy)
	}

	normal, err := f.svc.GetReservation(ctx, normalCreated[0].ID)
	if err != nil {
		t.Fatalf("get normal: %v", err)
	}
	if normal.ReservedQuantity != 3 {
		t.Errorf("expected normal rationed to 3, got %d", normal.ReservedQuantity)
	}
	if normal.RequestedQuantity != 6 {
		t.Errorf("expected requested 6 preserved, got %d", normal.RequestedQuantity)
	}
	if normal.Status != reservation.StatusPending {
		t.Errorf("expected normal still pending, got %s", normal.Status)
	}
	if normal.Conflict == nil {
		t.Fatal("expected stock shortage conflict on the shorted hold")
	}
	if normal.Conflict.Type != reservation.ConflictStockShortage {
		t.Errorf("expected stock_shortage, got %s", normal.Conflict.Type)
	}
	if normal.Conflict.ResolutionStrategy != reservation.ResolutionPriorityBased {
		t.Errorf("expected priority_based resolution, got %s", normal.Conflict.ResolutionStrategy)
	}
	if len(normal.Conflict.CompetingReservations) != 1 || normal.Conflict.CompetingReservations[0] != high.ID {
		t.Errorf("expected competing ids [%d], got %v", high.ID, normal.Conflict.CompetingReservations)
	}

	found := false
	for _, entry := range normal.AuditTrail {
		if entry.Action == reservation.ActionConflictResolved {
			found = true
		}
	}
	if !found {
		t.Error("expected conflict_resolved audit entry on the shorted hold")
	}
}

func TestService_ConfirmReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a")
	f.ledger.SetStock("variant-1", "wh-a", 10)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 4, 15)

	created, err := f.svc.ReserveForOrder(ctx, "order-1", ReserveOptions{})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	id := created[0].ID

	confirmed, err := f.svc.ConfirmReservation(ctx, id, "ops@example.com")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != reservation.StatusConfirmed {
		t.Errorf("expected confirmed, got %s", confirmed.Status)
	}
	if confirmed.ConfirmedBy != "ops@example.com" {
		t.Errorf("expected confirming actor recorded, got %q", confirmed.ConfirmedBy)
	}
	if confirmed.ConfirmedAt == nil {
		t.Error("expected confirmation timestamp")
	}
	last := confirmed.AuditTrail[len(confirmed.AuditTrail)-1]
	if last.Action != reservation.ActionConfirmed {
		t.Errorf("expected confirmed audit entry, got %s", last.Action)
	}

	if _, err := f.svc.ConfirmReservation(ctx, id, "ops@example.com"); !errors.Is(err, reservation.ErrInvalidState) {
		t.Errorf("expected invalid state on double confirm, got %v", err)
	}
	if _, err := f.svc.ConfirmReservation(ctx, 9999, "ops@example.com"); !errors.Is(err, reservation.ErrNotFound) {
		t.Errorf("expected not found for unknown id, got %v", err)
	}
	if _, err := f.svc.ConfirmReservation(ctx, id, "  "); !errors.Is(err, reservation.ErrValidation) {
		t.Errorf("expected validation error for blank actor, got %v", err)
	}
}

func TestService_ConfirmChecksLiveStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a")
	f.ledger.SetStock("variant-1", "wh-a", 5)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 5, 15)

	created, err := f.svc.ReserveForOrder(ctx, "order-1", ReserveOptions{})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	id := created[0].ID

	// stock drained between creation and confirmation
	f.ledger.SetStock("variant-1", "wh-a", 2)

	if _, err := f.svc.ConfirmReservation(ctx, id, "ops"); !errors.Is(err, reservation.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	res, err := f.svc.GetReservation(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.Status != reservation.StatusPending {
		t.Errorf("expected failed confirm to leave reservation pending, got %s", res.Status)
	}
}

func TestService_CancelReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a")
	f.ledger.SetStock("variant-1", "wh-a", 10)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 2, 15)

	created, err := f.svc.ReserveForOrder(ctx, "order-1", ReserveOptions{})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	id := created[0].ID

	cancelled, err := f.svc.CancelReservation(ctx, id, "cs-agent", "customer changed mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != reservation.StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	last := cancelled.AuditTrail[len(cancelled.AuditTrail)-1]
	if last.Action != reservation.ActionCancelled || last.Reason != "customer changed mind" {
		t.Errorf("expected cancelled audit entry with reason, got %+v", last)
	}

	if _, err := f.svc.CancelReservation(ctx, id, "cs-agent", ""); !errors.Is(err, reservation.ErrInvalidState) {
		t.Errorf("expected invalid state on cancelling a cancelled hold, got %v", err)
	}
}

func TestService_ReleaseForOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a")
	f.ledger.SetStock("variant-1", "wh-a", 10)
	f.ledger.SetStock("variant-2", "wh-a", 10)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 2, 15)
	f.lines.AddLineItem("order-1", "line-2", "variant-2", 3, 15)

	created, err := f.svc.ReserveForOrder(ctx, "order-1", ReserveOptions{})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := f.svc.ConfirmReservation(ctx, created[0].ID, "ops"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	released, err := f.svc.ReleaseForOrder(ctx, "order-1", "order cancelled upstream")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(released) != 1 {
		t.Fatalf("expected only the pending hold released, got %d", len(released))
	}
	if released[0].ID != created[1].ID {
		t.Errorf("expected reservation %d released, got %d", created[1].ID, released[0].ID)
	}
	if released[0].Status != reservation.StatusReleased {
		t.Errorf("expected released, got %s", released[0].Status)
	}

	confirmed, err := f.svc.GetReservation(ctx, created[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if confirmed.Status != reservation.StatusConfirmed {
		t.Errorf("expected confirmed hold untouched, got %s", confirmed.Status)
	}
}

func TestService_SweepExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a")
	f.ledger.SetStock("variant-1", "wh-a", 10)
	f.lines.AddLineItem("order-stale", "line-1", "variant-1", 2, 15)
	f.lines.AddLineItem("order-fresh", "line-2", "variant-1", 2, 15)

	stale, err := f.svc.ReserveForOrder(ctx, "order-stale", ReserveOptions{Timeout: time.Nanosecond})
	if err != nil {
		t.Fatalf("reserve stale: %v", err)
	}
	fresh, err := f.svc.ReserveForOrder(ctx, "order-fresh", ReserveOptions{})
	if err != nil {
		t.Fatalf("reserve fresh: %v", err)
	}

	released, err := f.svc.SweepExpired(ctx, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released, got %d", released)
	}

	swept, err := f.svc.GetReservation(ctx, stale[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if swept.Status != reservation.StatusReleased {
		t.Errorf("expected released, got %s", swept.Status)
	}
	last := swept.AuditTrail[len(swept.AuditTrail)-1]
	if last.Action != reservation.ActionReleased || last.Reason != reservation.ReasonExpired {
		t.Errorf("expected expiry audit entry, got %+v", last)
	}
	if last.Actor != "system" {
		t.Errorf("expected system actor, got %q", last.Actor)
	}

	untouched, err := f.svc.GetReservation(ctx, fresh[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if untouched.Status != reservation.StatusPending {
		t.Errorf("expected fresh hold untouched, got %s", untouched.Status)
	}

	released, err = f.svc.SweepExpired(ctx, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if released != 0 {
		t.Errorf("expected second sweep to be a no-op, got %d", released)
	}
}

func TestService_EscalateStalled(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a")
	now := time.Now().UTC()

	seed := func(orderID string, priority reservation.Priority, createdAt time.Time) int64 {
		res, err := f.store.CreateReservation(ctx, reservation.Reservation{
			OrderID:           orderID,
			LineItemID:        "line-1",
			VariantID:         "variant-1",
			WarehouseID:       "wh-a",
			RequestedQuantity: 2,
			ReservedQuantity:  2,
			Status:            reservation.StatusPending,
			Priority:          priority,
			Strategy:          reservation.StrategyFirstAvailable,
			ExpiresAt:         now.Add(time.Hour),
			CreatedAt:         createdAt,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", orderID, err)
		}
		return res.ID
	}

	staleUrgent := seed("order-urgent", reservation.PriorityUrgent, now.Add(-30*time.Minute))
	staleHigh := seed("order-high", reservation.PriorityHigh, now.Add(-30*time.Minute))
	seed("order-recent", reservation.PriorityUrgent, now.Add(-5*time.Minute))

	flagged, err := f.svc.EscalateStalled(ctx, now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if flagged != 1 {
		t.Fatalf("expected only the stale urgent hold flagged, got %d", flagged)
	}

	urgent, err := f.svc.GetReservation(ctx, staleUrgent)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if urgent.Status != reservation.StatusPending {
		t.Errorf("escalation must not change status, got %s", urgent.Status)
	}
	if urgent.Conflict == nil || urgent.Conflict.Type != reservation.ConflictPerformanceIssue {
		t.Fatalf("expected performance_issue conflict, got %+v", urgent.Conflict)
	}
	if urgent.Conflict.ResolutionStrategy != reservation.ResolutionManualEscalation {
		t.Errorf("expected manual_escalation, got %s", urgent.Conflict.ResolutionStrategy)
	}
	last := urgent.AuditTrail[len(urgent.AuditTrail)-1]
	if last.Action != reservation.ActionEscalated {
		t.Errorf("expected escalated audit entry, got %s", last.Action)
	}

	high, err := f.svc.GetReservation(ctx, staleHigh)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if high.Conflict != nil {
		t.Errorf("high priority sits at the floor and must not be flagged, got %+v", high.Conflict)
	}

	flagged, err = f.svc.EscalateStalled(ctx, now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("second escalate: %v", err)
	}
	if flagged != 0 {
		t.Errorf("expected no re-flagging, got %d", flagged)
	}
}

func TestService_AutoAllocateFiresForUrgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture("wh-a")
	f.ledger.SetStock("variant-1", "wh-a", 10)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 4, 500)

	var gotID int64
	var gotStrategy reservation.Strategy
	f.svc.AttachAllocator(AllocatorFunc(func(_ context.Context, id int64, strategy reservation.Strategy) error {
		gotID = id
		gotStrategy = strategy
		return nil
	}))

	created, err := f.svc.ReserveForOrder(ctx, "order-1", ReserveOptions{
		Priority: reservation.PriorityUrgent,
		Strategy: reservation.StrategyNearestWarehouse,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	res := created[0]
	if !res.Automation.AutoConfirm || !res.Automation.AutoAllocate {
		t.Errorf("expected both automation flags for urgent, got %+v", res.Automation)
	}
	if res.Status != reservation.StatusConfirmed {
		t.Errorf("expected auto-confirmed reservation, got %s", res.Status)
	}
	if gotID != res.ID {
		t.Errorf("expected allocator called with %d, got %d", res.ID, gotID)
	}
	if gotStrategy != reservation.StrategyNearestWarehouse {
		t.Errorf("expected allocator called with nearest_warehouse, got %s", gotStrategy)
	}
}
