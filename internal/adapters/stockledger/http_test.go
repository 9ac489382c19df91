package stockledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewHTTPRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTP(nil, "   ", "", nil); err == nil {
		t.Fatal("expected error for blank endpoint")
	}
	ledger, err := NewHTTP(nil, "http://ledger.internal/stock", "key-1", nil)
	if err != nil {
		t.Fatalf("new http ledger: %v", err)
	}
	if ledger.quantityPath != DefaultQuantityPath || ledger.levelsPath != DefaultLevelsPath {
		t.Fatalf("default paths not applied: %q %q", ledger.quantityPath, ledger.levelsPath)
	}
}

func TestHTTPLedger_CurrentStock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("variant_id"); got != "variant-1" {
			t.Errorf("variant_id = %q", got)
		}
		if got := r.URL.Query().Get("warehouse_id"); got != "wh-a" {
			t.Errorf("warehouse_id = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"available": 9, "unit": "each"}`))
	}))
	defer server.Close()

	ledger, err := NewHTTP(server.Client(), server.URL, "key-1", nil)
	if err != nil {
		t.Fatalf("new http ledger: %v", err)
	}

	qty, err := ledger.CurrentStock(context.Background(), "variant-1", "wh-a")
	if err != nil {
		t.Fatalf("current stock: %v", err)
	}
	if qty != 9 {
		t.Fatalf("quantity = %d, want 9", qty)
	}
}

func TestHTTPLedger_CurrentStockCustomPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"inventory": {"on_hand": 4}}}`))
	}))
	defer server.Close()

	ledger, err := NewHTTP(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("new http ledger: %v", err)
	}
	ledger.WithPaths("$.data.inventory.on_hand", "")

	qty, err := ledger.CurrentStock(context.Background(), "variant-1", "wh-a")
	if err != nil {
		t.Fatalf("current stock: %v", err)
	}
	if qty != 4 {
		t.Fatalf("quantity = %d, want 4", qty)
	}
}

func TestHTTPLedger_StockLevels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("variant_id"); got != "variant-1" {
			t.Errorf("variant_id = %q", got)
		}
		w.Write([]byte(`{"levels": [
			{"warehouse_id": "wh-a", "available": 3},
			{"warehouse_id": "wh-b", "available": 8},
			{"available": 99},
			{"warehouse_id": "wh-c", "available": "soon"}
		]}`))
	}))
	defer server.Close()

	ledger, err := NewHTTP(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("new http ledger: %v", err)
	}

	levels, err := ledger.StockLevels(context.Background(), "variant-1")
	if err != nil {
		t.Fatalf("stock levels: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("levels = %d, want 2 after skipping malformed entries", len(levels))
	}
	if levels[0].WarehouseID != "wh-a" || levels[0].Available != 3 {
		t.Fatalf("unexpected first level: %+v", levels[0])
	}
	if levels[1].WarehouseID != "wh-b" || levels[1].Available != 8 {
		t.Fatalf("unexpected second level: %+v", levels[1])
	}
	if levels[0].VariantID != "variant-1" {
		t.Fatalf("variant id not stamped: %+v", levels[0])
	}
}

func TestHTTPLedger_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ledger, err := NewHTTP(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("new http ledger: %v", err)
	}

	if _, err := ledger.CurrentStock(context.Background(), "variant-1", "wh-a"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if _, err := ledger.StockLevels(context.Background(), "variant-1"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestHTTPLedger_QuantityNotNumeric(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"available": "plenty"}`))
	}))
	defer server.Close()

	ledger, err := NewHTTP(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("new http ledger: %v", err)
	}

	if _, err := ledger.CurrentStock(context.Background(), "variant-1", "wh-a"); err == nil {
		t.Fatal("expected error for non-numeric quantity")
	}
}
