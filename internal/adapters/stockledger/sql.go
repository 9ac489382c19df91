// Package stockledger provides read-only adapters over the systems that own
// physical stock counts. The engine never writes through these adapters;
// committed quantities live in its own reservation rows.
package stockledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/stock"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
)

// SQLLedger reads stock levels from the stock_levels table, typically shared
// with the warehouse management system.
type SQLLedger struct {
	db *sqlx.DB
}

var _ storage.StockLedger = (*SQLLedger)(nil)

// NewSQL creates a ledger backed by db.
func NewSQL(db *sqlx.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

// CurrentStock returns the on-hand quantity for one variant/warehouse pair.
// A missing row reads as zero stock rather than an error.
func (l *SQLLedger) CurrentStock(ctx context.Context, variantID, warehouseID string) (int, error) {
	var available int
	err := l.db.GetContext(ctx, &available,
		`SELECT available FROM stock_levels WHERE variant_id = $1 AND warehouse_id = $2`,
		variantID, warehouseID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read stock level: %w", err)
	}
	return available, nil
}

type levelRow struct {
	VariantID   string `db:"variant_id"`
	WarehouseID string `db:"warehouse_id"`
	Available   int    `db:"available"`
}

// StockLevels returns every warehouse quantity recorded for a variant,
// ordered by warehouse id so callers see a stable sequence.
func (l *SQLLedger) StockLevels(ctx context.Context, variantID string) ([]stock.Level, error) {
	var rows []levelRow
	err := l.db.SelectContext(ctx, &rows,
		`SELECT variant_id, warehouse_id, available FROM stock_levels WHERE variant_id = $1 ORDER BY warehouse_id`,
		variantID)
	if err != nil {
		return nil, fmt.Errorf("read stock levels: %w", err)
	}

	levels := make([]stock.Level, len(rows))
	for i, row := range rows {
		levels[i] = stock.Level{
			VariantID:   row.VariantID,
			WarehouseID: row.WarehouseID,
			Available:   row.Available,
		}
	}
	return levels, nil
}
