package stockledger

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func TestSQLLedger_CurrentStock(t *testing.T) {
	db, mock := newMockDB(t)
	ledger := NewSQL(db)

	mock.ExpectQuery("SELECT available FROM stock_levels").
		WithArgs("variant-1", "wh-a").
		WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow(7))

	qty, err := ledger.CurrentStock(context.Background(), "variant-1", "wh-a")
	if err != nil {
		t.Fatalf("current stock: %v", err)
	}
	if qty != 7 {
		t.Fatalf("quantity = %d, want 7", qty)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLLedger_CurrentStockMissingRowIsZero(t *testing.T) {
	db, mock := newMockDB(t)
	ledger := NewSQL(db)

	mock.ExpectQuery("SELECT available FROM stock_levels").
		WithArgs("variant-1", "wh-ghost").
		WillReturnRows(sqlmock.NewRows([]string{"available"}))

	qty, err := ledger.CurrentStock(context.Background(), "variant-1", "wh-ghost")
	if err != nil {
		t.Fatalf("current stock: %v", err)
	}
	if qty != 0 {
		t.Fatalf("quantity = %d, want 0 for missing row", qty)
	}
}

func TestSQLLedger_CurrentStockQueryError(t *testing.T) {
	db, mock := newMockDB(t)
	ledger := NewSQL(db)

	mock.ExpectQuery("SELECT available FROM stock_levels").
		WithArgs("variant-1", "wh-a").
		WillReturnError(errors.New("connection reset"))

	if _, err := ledger.CurrentStock(context.Background(), "variant-1", "wh-a"); err == nil {
		t.Fatal("expected error from failing query")
	}
}

func TestSQLLedger_StockLevels(t *testing.T) {
	db, mock := newMockDB(t)
	ledger := NewSQL(db)

	rows := sqlmock.NewRows([]string{"variant_id", "warehouse_id", "available"}).
		AddRow("variant-1", "wh-a", 5).
		AddRow("variant-1", "wh-b", 12)
	mock.ExpectQuery("SELECT variant_id, warehouse_id, available FROM stock_levels").
		WithArgs("variant-1").
		WillReturnRows(rows)

	levels, err := ledger.StockLevels(context.Background(), "variant-1")
	if err != nil {
		t.Fatalf("stock levels: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("levels = %d, want 2", len(levels))
	}
	if levels[0].WarehouseID != "wh-a" || levels[0].Available != 5 {
		t.Fatalf("unexpected first level: %+v", levels[0])
	}
	if levels[1].WarehouseID != "wh-b" || levels[1].Available != 12 {
		t.Fatalf("unexpected second level: %+v", levels[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLLedger_StockLevelsEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	ledger := NewSQL(db)

	mock.ExpectQuery("SELECT variant_id, warehouse_id, available FROM stock_levels").
		WithArgs("variant-unknown").
		WillReturnRows(sqlmock.NewRows([]string{"variant_id", "warehouse_id", "available"}))

	levels, err := ledger.StockLevels(context.Background(), "variant-unknown")
	if err != nil {
		t.Fatalf("stock levels: %v", err)
	}
	if len(levels) != 0 {
		t.Fatalf("levels = %d, want 0", len(levels))
	}
}
