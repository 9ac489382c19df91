// Package testutil provides common testing utilities and mock
// implementations of the engine's external collaborators.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/order"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/stock"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
)

// MockStockLedger is a test implementation of the StockLedger interface.
type MockStockLedger struct {
	mu     sync.RWMutex
	levels map[string]map[string]int // variantID -> warehouseID -> available
}

// NewMockStockLedger creates an empty mock stock ledger.
func NewMockStockLedger() *MockStockLedger {
	return &MockStockLedger{levels: make(map[string]map[string]int)}
}

// SetStock records the on-hand quantity for a (variant, warehouse) pair.
func (m *MockStockLedger) SetStock(variantID, warehouseID string, available int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels[variantID] == nil {
		m.levels[variantID] = make(map[string]int)
	}
	m.levels[variantID][warehouseID] = available
}

// CurrentStock returns the on-hand quantity for one pair. Unknown pairs
// report zero stock rather than an error, matching an empty ledger row.
func (m *MockStockLedger) CurrentStock(_ context.Context, variantID, warehouseID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levels[variantID][warehouseID], nil
}

// StockLevels returns all per-warehouse quantities for a variant, warehouse
// id ascending for determinism.
func (m *MockStockLedger) StockLevels(_ context.Context, variantID string) ([]stock.Level, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byWarehouse := m.levels[variantID]
	levels := make([]stock.Level, 0, len(byWarehouse))
	for warehouseID, available := range byWarehouse {
		levels = append(levels, stock.Level{VariantID: variantID, WarehouseID: warehouseID, Available: available})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].WarehouseID < levels[j].WarehouseID })
	return levels, nil
}

// MockLineItemSource is a test implementation of the LineItemSource
// interface.
type MockLineItemSource struct {
	mu    sync.RWMutex
	items map[string][]order.LineItem
}

// NewMockLineItemSource creates an empty mock line item source.
func NewMockLineItemSource() *MockLineItemSource {
	return &MockLineItemSource{items: make(map[string][]order.LineItem)}
}

// AddLineItem appends a line item to an order.
func (m *MockLineItemSource) AddLineItem(orderID, lineItemID, variantID string, quantity int, unitPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[orderID] = append(m.items[orderID], order.LineItem{
		ID:        lineItemID,
		OrderID:   orderID,
		VariantID: variantID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
	})
}

// LineItems returns the line items recorded for an order.
func (m *MockLineItemSource) LineItems(_ context.Context, orderID string) ([]order.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]order.LineItem, len(m.items[orderID]))
	copy(items, m.items[orderID])
	return items, nil
}

// MockWarehouseDirectory is a test implementation of the WarehouseDirectory
// interface.
type MockWarehouseDirectory struct {
	mu         sync.RWMutex
	warehouses map[string]warehouse.Warehouse
}

// NewMockWarehouseDirectory creates a directory pre-populated with the given
// warehouses.
func NewMockWarehouseDirectory(warehouses ...warehouse.Warehouse) *MockWarehouseDirectory {
	m := &MockWarehouseDirectory{warehouses: make(map[string]warehouse.Warehouse)}
	for _, wh := range warehouses {
		m.warehouses[wh.ID] = wh
	}
	return m
}

// AddWarehouse records or replaces a directory entry.
func (m *MockWarehouseDirectory) AddWarehouse(wh warehouse.Warehouse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warehouses[wh.ID] = wh
}

// Warehouse returns one directory record.
func (m *MockWarehouseDirectory) Warehouse(_ context.Context, id string) (warehouse.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wh, ok := m.warehouses[id]
	if !ok {
		return warehouse.Warehouse{}, fmt.Errorf("warehouse not found: %s", id)
	}
	return wh, nil
}

// Warehouses returns all directory records, id ascending.
func (m *MockWarehouseDirectory) Warehouses(_ context.Context) ([]warehouse.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]warehouse.Warehouse, 0, len(m.warehouses))
	for _, wh := range m.warehouses {
		all = append(all, wh)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// ActiveWarehouse builds a minimal active directory record for tests.
func ActiveWarehouse(id string) warehouse.Warehouse {
	return warehouse.Warehouse{ID: id, Code: id, Name: id, Active: true}
}

// GenerateID generates a new UUID string.
func GenerateID() string {
	return uuid.NewString()
}

// Now returns the current UTC time.
func Now() time.Time {
	return time.Now().UTC()
}
