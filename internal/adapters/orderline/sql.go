// Package orderline reads order demand rows from the order system's tables.
package orderline

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/order"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
)

// SQLSource reads line items from the order_line_items table.
type SQLSource struct {
	db *sqlx.DB
}

var _ storage.LineItemSource = (*SQLSource)(nil)

// NewSQL creates a line-item source backed by db.
func NewSQL(db *sqlx.DB) *SQLSource {
	return &SQLSource{db: db}
}

type lineItemRow struct {
	ID        string  `db:"id"`
	OrderID   string  `db:"order_id"`
	VariantID string  `db:"variant_id"`
	Quantity  int     `db:"quantity"`
	UnitPrice float64 `db:"unit_price"`
}

// LineItems returns the demand rows of an order in line-item id order. An
// unknown order simply yields no rows; the caller decides whether that is an
// error.
func (s *SQLSource) LineItems(ctx context.Context, orderID string) ([]order.LineItem, error) {
	var rows []lineItemRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, order_id, variant_id, quantity, unit_price FROM order_line_items WHERE order_id = $1 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("read line items: %w", err)
	}

	items := make([]order.LineItem, len(rows))
	for i, row := range rows {
		items[i] = order.LineItem{
			ID:        row.ID,
			OrderID:   row.OrderID,
			VariantID: row.VariantID,
			Quantity:  row.Quantity,
			UnitPrice: row.UnitPrice,
		}
	}
	return items, nil
}
