// Package warehousedir provides directory adapters over the systems that own
// warehouse master data, plus a cache decorator for the hot read path.
package warehousedir

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
)

// SQLDirectory reads warehouse records from the warehouses table.
type SQLDirectory struct {
	db *sqlx.DB
}

var _ storage.WarehouseDirectory = (*SQLDirectory)(nil)

// NewSQL creates a directory backed by db.
func NewSQL(db *sqlx.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

const warehouseColumns = `id, code, name, city, zone, latitude, longitude, capacity, committed_units, perishable_priority, active`

type warehouseRow struct {
	ID                 string          `db:"id"`
	Code               string          `db:"code"`
	Name               string          `db:"name"`
	City               string          `db:"city"`
	Zone               string          `db:"zone"`
	Latitude           sql.NullFloat64 `db:"latitude"`
	Longitude          sql.NullFloat64 `db:"longitude"`
	Capacity           int             `db:"capacity"`
	CommittedUnits     int             `db:"committed_units"`
	PerishablePriority bool            `db:"perishable_priority"`
	Active             bool            `db:"active"`
}

func (row warehouseRow) toDomain() warehouse.Warehouse {
	wh := warehouse.Warehouse{
		ID:                 row.ID,
		Code:               row.Code,
		Name:               row.Name,
		City:               row.City,
		Zone:               row.Zone,
		Capacity:           row.Capacity,
		CommittedUnits:     row.CommittedUnits,
		PerishablePriority: row.PerishablePriority,
		Active:             row.Active,
	}
	// Coordinates only exist as a pair. A row with one side NULL stays
	// coordinate-less and scores neutral proximity.
	if row.Latitude.Valid && row.Longitude.Valid {
		wh.Coordinates = &warehouse.Coordinates{
			Lat: row.Latitude.Float64,
			Lon: row.Longitude.Float64,
		}
	}
	return wh
}

// Warehouse returns one directory record by id.
func (d *SQLDirectory) Warehouse(ctx context.Context, id string) (warehouse.Warehouse, error) {
	var row warehouseRow
	err := d.db.GetContext(ctx, &row,
		`SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return warehouse.Warehouse{}, fmt.Errorf("warehouse %s: %w", id, reservation.ErrNotFound)
	}
	if err != nil {
		return warehouse.Warehouse{}, fmt.Errorf("read warehouse: %w", err)
	}
	return row.toDomain(), nil
}

// Warehouses returns the full directory ordered by id.
func (d *SQLDirectory) Warehouses(ctx context.Context) ([]warehouse.Warehouse, error) {
	var rows []warehouseRow
	err := d.db.SelectContext(ctx, &rows,
		`SELECT `+warehouseColumns+` FROM warehouses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read warehouses: %w", err)
	}

	list := make([]warehouse.Warehouse, len(rows))
	for i, row := range rows {
		list[i] = row.toDomain()
	}
	return list, nil
}
