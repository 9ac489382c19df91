package warehousedir

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
)

var warehouseTestColumns = []string{
	"id", "code", "name", "city", "zone", "latitude", "longitude",
	"capacity", "committed_units", "perishable_priority", "active",
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func TestSQLDirectory_Warehouse(t *testing.T) {
	db, mock := newMockDB(t)
	dir := NewSQL(db)

	rows := sqlmock.NewRows(warehouseTestColumns).
		AddRow("wh-a", "BER1", "Berlin East", "Berlin", "eu-central", 52.52, 13.405, 1000, 250, true, true)
	mock.ExpectQuery("SELECT (.+) FROM warehouses WHERE id").
		WithArgs("wh-a").
		WillReturnRows(rows)

	wh, err := dir.Warehouse(context.Background(), "wh-a")
	if err != nil {
		t.Fatalf("warehouse: %v", err)
	}
	if wh.ID != "wh-a" || wh.Code != "BER1" || wh.Zone != "eu-central" {
		t.Fatalf("unexpected warehouse: %+v", wh)
	}
	if wh.Coordinates == nil || wh.Coordinates.Lat != 52.52 || wh.Coordinates.Lon != 13.405 {
		t.Fatalf("coordinates not mapped: %+v", wh.Coordinates)
	}
	if !wh.PerishablePriority || !wh.Active {
		t.Fatalf("flags not mapped: %+v", wh)
	}
}

func TestSQLDirectory_WarehouseNullCoordinates(t *testing.T) {
	db, mock := newMockDB(t)
	dir := NewSQL(db)

	rows := sqlmock.NewRows(warehouseTestColumns).
		AddRow("wh-b", "HAM1", "Hamburg", "Hamburg", "eu-central", nil, nil, 500, 10, false, true)
	mock.ExpectQuery("SELECT (.+) FROM warehouses WHERE id").
		WithArgs("wh-b").
		WillReturnRows(rows)

	wh, err := dir.Warehouse(context.Background(), "wh-b")
	if err != nil {
		t.Fatalf("warehouse: %v", err)
	}
	if wh.Coordinates != nil {
		t.Fatalf("expected nil coordinates for NULL columns, got %+v", wh.Coordinates)
	}
}

func TestSQLDirectory_WarehouseNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	dir := NewSQL(db)

	mock.ExpectQuery("SELECT (.+) FROM warehouses WHERE id").
		WithArgs("wh-ghost").
		WillReturnRows(sqlmock.NewRows(warehouseTestColumns))

	_, err := dir.Warehouse(context.Background(), "wh-ghost")
	if !errors.Is(err, reservation.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLDirectory_Warehouses(t *testing.T) {
	db, mock := newMockDB(t)
	dir := NewSQL(db)

	rows := sqlmock.NewRows(warehouseTestColumns).
		AddRow("wh-a", "BER1", "Berlin East", "Berlin", "eu-central", 52.52, 13.405, 1000, 250, false, true).
		AddRow("wh-b", "HAM1", "Hamburg", "Hamburg", "eu-central", nil, nil, 500, 10, false, false)
	mock.ExpectQuery("SELECT (.+) FROM warehouses ORDER BY id").
		WillReturnRows(rows)

	list, err := dir.Warehouses(context.Background())
	if err != nil {
		t.Fatalf("warehouses: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("warehouses = %d, want 2", len(list))
	}
	if list[0].ID != "wh-a" || list[1].ID != "wh-b" {
		t.Fatalf("unexpected order: %s, %s", list[0].ID, list[1].ID)
	}
	if list[1].Active {
		t.Fatal("inactive warehouse should map as inactive")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
