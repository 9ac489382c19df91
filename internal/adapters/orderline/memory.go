package orderline

import (
	"context"
	"sync"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/order"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
)

// MemorySource is an in-process line-item source for development and seeding.
type MemorySource struct {
	mu    sync.RWMutex
	items map[string][]order.LineItem
}

var _ storage.LineItemSource = (*MemorySource)(nil)

// NewMemory creates an empty source.
func NewMemory() *MemorySource {
	return &MemorySource{items: make(map[string][]order.LineItem)}
}

// Add appends one demand row under its order.
func (s *MemorySource) Add(item order.LineItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.OrderID] = append(s.items[item.OrderID], item)
}

func (s *MemorySource) LineItems(_ context.Context, orderID string) ([]order.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.items[orderID]
	out := make([]order.LineItem, len(items))
	copy(out, items)
	return out, nil
}
