package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	allocationsvc "github.com/Meridian-Commerce/reservation_engine/internal/app/services/allocation"
	reservationsvc "github.com/Meridian-Commerce/reservation_engine/internal/app/services/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage/memory"
	"github.com/Meridian-Commerce/reservation_engine/pkg/testutil"
)

type fixture struct {
	handler *Handler
	ledger  *testutil.MockStockLedger
	lines   *testutil.MockLineItemSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ledger := testutil.NewMockStockLedger()
	lines := testutil.NewMockLineItemSource()
	warehouses := testutil.NewMockWarehouseDirectory(
		testutil.ActiveWarehouse("wh-a"),
		testutil.ActiveWarehouse("wh-b"),
	)

	reservations := reservationsvc.New(store, ledger, lines, warehouses, nil)
	allocations := allocationsvc.New(store, ledger, warehouses, nil)
	reservations.AttachAllocator(reservationsvc.AllocatorFunc(
		func(ctx context.Context, reservationID int64, strategy reservation.Strategy) error {
			_, err := allocations.AllocateReservation(ctx, reservationID, strategy)
			return err
		}))

	handler, err := NewHandler(reservations, allocations, nil, Options{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	t.Cleanup(func() { handler.Close() })

	return &fixture{handler: handler, ledger: ledger, lines: lines}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHandler_CreateReservations(t *testing.T) {
	f := newFixture(t)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 5, 10.0)
	f.ledger.SetStock("variant-1", "wh-a", 20)

	rec := f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", map[string]string{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created []reservationJSON
	decodeBody(t, rec, &created)
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1", len(created))
	}
	res := created[0]
	if res.Status != "pending" || res.Priority != "normal" {
		t.Fatalf("unexpected defaults: status=%s priority=%s", res.Status, res.Priority)
	}
	if res.ReservedQuantity != 5 || res.WarehouseID != "wh-a" {
		t.Fatalf("unexpected hold: %+v", res)
	}
	if len(res.AuditTrail) == 0 || res.AuditTrail[0].Action != "created" {
		t.Fatalf("audit trail missing created entry: %+v", res.AuditTrail)
	}
}

func TestHandler_CreateReservationsHighAutoConfirms(t *testing.T) {
	f := newFixture(t)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 3, 10.0)
	f.ledger.SetStock("variant-1", "wh-a", 10)

	rec := f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", map[string]string{"priority": "high"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created []reservationJSON
	decodeBody(t, rec, &created)
	if created[0].Status != "confirmed" {
		t.Fatalf("status = %s, want confirmed for high priority", created[0].Status)
	}
	if !created[0].Automation.AutoConfirm {
		t.Fatal("auto_confirm flag not set")
	}
}

func TestHandler_CreateReservationsErrors(t *testing.T) {
	f := newFixture(t)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 5, 10.0)

	rec := f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", map[string]string{"priority": "extreme"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown priority status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", map[string]string{"surprise": "field"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d, want 400", rec.Code)
	}

	// variant-1 has no stock anywhere.
	rec = f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("out of stock status = %d, want 409", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/orders/order-ghost/reservations", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown order status = %d, want 404", rec.Code)
	}
}

func TestHandler_GetAndListReservations(t *testing.T) {
	f := newFixture(t)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 5, 10.0)
	f.ledger.SetStock("variant-1", "wh-a", 20)

	rec := f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", nil)
	var created []reservationJSON
	decodeBody(t, rec, &created)
	id := created[0].ID

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/reservations/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got reservationJSON
	decodeBody(t, rec, &got)
	if got.ID != id || got.OrderID != "order-1" {
		t.Fatalf("unexpected reservation: %+v", got)
	}

	rec = f.do(t, http.MethodGet, "/v1/reservations/999999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing id status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/reservations/not-a-number", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/orders/order-1/reservations", nil)
	var list []reservationJSON
	decodeBody(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("order list = %d, want 1", len(list))
	}

	rec = f.do(t, http.MethodGet, "/v1/reservations?status=pending&variant_id=variant-1", nil)
	decodeBody(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("filtered list = %d, want 1", len(list))
	}

	rec = f.do(t, http.MethodGet, "/v1/reservations?status=cancelled", nil)
	decodeBody(t, rec, &list)
	if len(list) != 0 {
		t.Fatalf("cancelled list = %d, want 0", len(list))
	}
}

func TestHandler_ConfirmAndCancel(t *testing.T) {
	f := newFixture(t)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 5, 10.0)
	f.ledger.SetStock("variant-1", "wh-a", 20)

	rec := f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", nil)
	var created []reservationJSON
	decodeBody(t, rec, &created)
	id := created[0].ID

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/v1/reservations/%d/confirm", id),
		map[string]string{"confirmed_by": "ops@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d, body %s", rec.Code, rec.Body.String())
	}
	var confirmed reservationJSON
	decodeBody(t, rec, &confirmed)
	if confirmed.Status != "confirmed" || confirmed.ConfirmedBy != "ops@example.com" {
		t.Fatalf("unexpected confirm result: %+v", confirmed)
	}

	// Confirmed reservations cannot be cancelled.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/v1/reservations/%d/cancel", id),
		map[string]string{"cancelled_by": "ops@example.com", "reason": "changed mind"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel-after-confirm status = %d, want 409", rec.Code)
	}

	// Double confirm conflicts too.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/v1/reservations/%d/confirm", id),
		map[string]string{"confirmed_by": "ops@example.com"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double confirm status = %d, want 409", rec.Code)
	}
}

func TestHandler_CancelPending(t *testing.T) {
	f := newFixture(t)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 5, 10.0)
	f.ledger.SetStock("variant-1", "wh-a", 20)

	rec := f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", nil)
	var created []reservationJSON
	decodeBody(t, rec, &created)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/v1/reservations/%d/cancel", created[0].ID),
		map[string]string{"cancelled_by": "customer", "reason": "duplicate order"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body.String())
	}
	var cancelled reservationJSON
	decodeBody(t, rec, &cancelled)
	if cancelled.Status != "cancelled" {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
}

func TestHandler_ReleaseOrder(t *testing.T) {
	f := newFixture(t)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 5, 10.0)
	f.ledger.SetStock("variant-1", "wh-a", 20)

	f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", nil)

	rec := f.do(t, http.MethodPost, "/v1/orders/order-1/release", map[string]string{"reason": "payment failed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("release status = %d, body %s", rec.Code, rec.Body.String())
	}
	var released struct {
		Released     int               `json:"released"`
		Reservations []reservationJSON `json:"reservations"`
	}
	decodeBody(t, rec, &released)
	if released.Released != 1 || len(released.Reservations) != 1 {
		t.Fatalf("unexpected release result: %+v", released)
	}
	if released.Reservations[0].Status != "released" {
		t.Fatalf("status = %s, want released", released.Reservations[0].Status)
	}
}

func TestHandler_AllocateOrderAndFulfillment(t *testing.T) {
	f := newFixture(t)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 5, 10.0)
	f.ledger.SetStock("variant-1", "wh-a", 20)

	// High priority auto-confirms, leaving the reservation allocatable.
	f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", map[string]string{"priority": "high"})

	rec := f.do(t, http.MethodPost, "/v1/orders/order-1/allocations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("allocate status = %d, body %s", rec.Code, rec.Body.String())
	}
	var results []allocationResultPayload
	decodeBody(t, rec, &results)
	if len(results) != 1 || !results[0].FullyPlaced {
		t.Fatalf("unexpected allocate result: %+v", results)
	}
	if results[0].Reservation.Status != "allocated" {
		t.Fatalf("reservation status = %s, want allocated", results[0].Reservation.Status)
	}
	if len(results[0].Allocations) != 1 {
		t.Fatalf("allocations = %d, want 1", len(results[0].Allocations))
	}
	allocID := results[0].Allocations[0].ID
	reservationID := results[0].Reservation.ID

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/allocations/%d", allocID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get allocation status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/reservations/%d/allocations", reservationID), nil)
	var allocs []allocationJSON
	decodeBody(t, rec, &allocs)
	if len(allocs) != 1 {
		t.Fatalf("reservation allocations = %d, want 1", len(allocs))
	}

	rec = f.do(t, http.MethodPatch, fmt.Sprintf("/v1/allocations/%d/fulfillment", allocID),
		map[string]string{"status": "picked"})
	if rec.Code != http.StatusOK {
		t.Fatalf("fulfillment status = %d, body %s", rec.Code, rec.Body.String())
	}
	var advanced allocationJSON
	decodeBody(t, rec, &advanced)
	if advanced.FulfillmentStatus != "picked" {
		t.Fatalf("fulfillment = %s, want picked", advanced.FulfillmentStatus)
	}

	// Skipping a stage conflicts, unknown stages are rejected.
	rec = f.do(t, http.MethodPatch, fmt.Sprintf("/v1/allocations/%d/fulfillment", allocID),
		map[string]string{"status": "shipped"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("skip stage status = %d, want 409", rec.Code)
	}
	rec = f.do(t, http.MethodPatch, fmt.Sprintf("/v1/allocations/%d/fulfillment", allocID),
		map[string]string{"status": "teleported"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown stage status = %d, want 400", rec.Code)
	}
}

func TestHandler_AllocatePendingConflicts(t *testing.T) {
	f := newFixture(t)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 5, 10.0)
	f.ledger.SetStock("variant-1", "wh-a", 20)

	f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", nil)

	rec := f.do(t, http.MethodPost, "/v1/orders/order-1/allocations", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("allocate pending status = %d, want 409", rec.Code)
	}
}

func TestHandler_AuditTrailEndpoint(t *testing.T) {
	f := newFixture(t)
	f.lines.AddLineItem("order-1", "line-1", "variant-1", 5, 10.0)
	f.ledger.SetStock("variant-1", "wh-a", 20)

	f.do(t, http.MethodPost, "/v1/orders/order-1/reservations", nil)
	f.do(t, http.MethodPost, "/v1/orders/order-1/release", map[string]string{"reason": "test"})

	rec := f.do(t, http.MethodGet, "/v1/audit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rec.Code)
	}
	var page struct {
		Entries []auditEntry `json:"entries"`
	}
	decodeBody(t, rec, &page)
	if len(page.Entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(page.Entries))
	}
	if page.Entries[0].Action != "create_reservations" || page.Entries[1].Action != "release_order" {
		t.Fatalf("unexpected actions: %+v", page.Entries)
	}

	rec = f.do(t, http.MethodGet, "/v1/audit?limit=1", nil)
	decodeBody(t, rec, &page)
	if len(page.Entries) != 1 || page.Entries[0].Action != "release_order" {
		t.Fatalf("limited audit = %+v", page.Entries)
	}
}

func TestHandler_HealthAndStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/system/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("system status = %d", rec.Code)
	}
	var status systemStatusResponse
	decodeBody(t, rec, &status)
	if status.Service != "reservation-engine" || status.Goroutines <= 0 {
		t.Fatalf("unexpected status payload: %+v", status)
	}

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}
