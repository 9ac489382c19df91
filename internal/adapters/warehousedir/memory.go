package warehousedir

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
)

// MemoryDirectory is an in-process directory for development and seeding.
type MemoryDirectory struct {
	mu         sync.RWMutex
	warehouses map[string]warehouse.Warehouse
}

var _ storage.WarehouseDirectory = (*MemoryDirectory)(nil)

// NewMemory creates a directory holding the given warehouses.
func NewMemory(warehouses ...warehouse.Warehouse) *MemoryDirectory {
	d := &MemoryDirectory{warehouses: make(map[string]warehouse.Warehouse, len(warehouses))}
	for _, wh := range warehouses {
		d.warehouses[wh.ID] = wh
	}
	return d
}

// Add inserts or replaces one warehouse record.
func (d *MemoryDirectory) Add(wh warehouse.Warehouse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.warehouses[wh.ID] = wh
}

func (d *MemoryDirectory) Warehouse(_ context.Context, id string) (warehouse.Warehouse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	wh, ok := d.warehouses[id]
	if !ok {
		return warehouse.Warehouse{}, fmt.Errorf("warehouse %s: %w", id, reservation.ErrNotFound)
	}
	return wh, nil
}

func (d *MemoryDirectory) Warehouses(_ context.Context) ([]warehouse.Warehouse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	list := make([]warehouse.Warehouse, 0, len(d.warehouses))
	for _, wh := range d.warehouses {
		list = append(list, wh)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}
