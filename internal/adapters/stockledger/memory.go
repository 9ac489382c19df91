package stockledger

import (
	"context"
	"sort"
	"sync"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/stock"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
)

// MemoryLedger is an in-process ledger for development and seeding. Unknown
// pairs read as zero stock, matching the SQL adapter.
type MemoryLedger struct {
	mu     sync.RWMutex
	levels map[string]map[string]int
}

var _ storage.StockLedger = (*MemoryLedger)(nil)

// NewMemory creates an empty ledger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{levels: make(map[string]map[string]int)}
}

// SetStock records availability for one variant/warehouse pair.
func (l *MemoryLedger) SetStock(variantID, warehouseID string, available int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byWarehouse, ok := l.levels[variantID]
	if !ok {
		byWarehouse = make(map[string]int)
		l.levels[variantID] = byWarehouse
	}
	byWarehouse[warehouseID] = available
}

func (l *MemoryLedger) CurrentStock(_ context.Context, variantID, warehouseID string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.levels[variantID][warehouseID], nil
}

func (l *MemoryLedger) StockLevels(_ context.Context, variantID string) ([]stock.Level, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byWarehouse := l.levels[variantID]
	levels := make([]stock.Level, 0, len(byWarehouse))
	for warehouseID, available := range byWarehouse {
		levels = append(levels, stock.Level{
			VariantID:   variantID,
			WarehouseID: warehouseID,
			Available:   available,
		})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].WarehouseID < levels[j].WarehouseID })
	return levels, nil
}
