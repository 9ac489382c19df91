package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/allocation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
	q  querier
}

var _ storage.Store = (*Store)(nil)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// WithTx runs fn inside a database transaction. Row locks taken by the
// ForUpdate reads hold until commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.EngineStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txStore := &Store{db: s.db, q: tx}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const reservationColumns = `
	id, order_id, line_item_id, variant_id, warehouse_id,
	requested_qty, reserved_qty, allocated_qty,
	status, priority, strategy,
	expires_at, confirmation_deadline, confirmed_by, confirmed_at,
	reservation_data, performance_metrics,
	conflict_type, competing_ids, conflict_data,
	automation_config, audit_trail,
	created_at, updated_at`

// --- ReservationStore -------------------------------------------------------

func (s *Store) CreateReservation(ctx context.Context, res reservation.Reservation) (reservation.Reservation, error) {
	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now

	enc, err := encodeReservation(res)
	if err != nil {
		return reservation.Reservation{}, err
	}

	row := s.q.QueryRowContext(ctx, `
		INSERT INTO reservations (
			order_id, line_item_id, variant_id, warehouse_id,
			requested_qty, reserved_qty, allocated_qty,
			status, priority, strategy,
			expires_at, confirmation_deadline, confirmed_by, confirmed_at,
			reservation_data, performance_metrics,
			conflict_type, competing_ids, conflict_data,
			automation_config, audit_trail,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23)
		RETURNING id
	`, res.OrderID, res.LineItemID, res.VariantID, res.WarehouseID,
		res.RequestedQuantity, res.ReservedQuantity, res.AllocatedQuantity,
		string(res.Status), int(res.Priority), string(res.Strategy),
		res.ExpiresAt, res.ConfirmationDeadline, res.ConfirmedBy, toNullTime(res.ConfirmedAt),
		enc.data, enc.metrics,
		enc.conflictType, enc.competingIDs, enc.conflict,
		enc.automation, enc.audit,
		res.CreatedAt, res.UpdatedAt)

	if err := row.Scan(&res.ID); err != nil {
		return reservation.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	return res, nil
}

func (s *Store) UpdateReservation(ctx context.Context, res reservation.Reservation) (reservation.Reservation, error) {
	existing, err := s.GetReservation(ctx, res.ID)
	if err != nil {
		return reservation.Reservation{}, err
	}

	res.CreatedAt = existing.CreatedAt
	res.UpdatedAt = time.Now().UTC()

	enc, err := encodeReservation(res)
	if err != nil {
		return reservation.Reservation{}, err
	}

	result, err := s.q.ExecContext(ctx, `
		UPDATE reservations
		SET order_id = $2, line_item_id = $3, variant_id = $4, warehouse_id = $5,
			requested_qty = $6, reserved_qty = $7, allocated_qty = $8,
			status = $9, priority = $10, strategy = $11,
			expires_at = $12, confirmation_deadline = $13, confirmed_by = $14, confirmed_at = $15,
			reservation_data = $16, performance_metrics = $17,
			conflict_type = $18, competing_ids = $19, conflict_data = $20,
			automation_config = $21, audit_trail = $22,
			updated_at = $23
		WHERE id = $1
	`, res.ID, res.OrderID, res.LineItemID, res.VariantID, res.WarehouseID,
		res.RequestedQuantity, res.ReservedQuantity, res.AllocatedQuantity,
		string(res.Status), int(res.Priority), string(res.Strategy),
		res.ExpiresAt, res.ConfirmationDeadline, res.ConfirmedBy, toNullTime(res.ConfirmedAt),
		enc.data, enc.metrics,
		enc.conflictType, enc.competingIDs, enc.conflict,
		enc.automation, enc.audit,
		res.UpdatedAt)
	if err != nil {
		return reservation.Reservation{}, fmt.Errorf("update reservation: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return reservation.Reservation{}, fmt.Errorf("reservation %d: %w", res.ID, reservation.ErrNotFound)
	}
	return res, nil
}

func (s *Store) GetReservation(ctx context.Context, id int64) (reservation.Reservation, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id)

	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reservation.Reservation{}, fmt.Errorf("reservation %d: %w", id, reservation.ErrNotFound)
	}
	return res, err
}

func (s *Store) GetReservationForUpdate(ctx context.Context, id int64) (reservation.Reservation, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`, id)

	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reservation.Reservation{}, fmt.Errorf("reservation %d: %w", id, reservation.ErrNotFound)
	}
	return res, err
}

func (s *Store) ListReservationsForOrder(ctx context.Context, orderID string) ([]reservation.Reservation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

func (s *Store) ListReservations(ctx context.Context, filter storage.ReservationFilter) ([]reservation.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE 1=1`
	args := make([]any, 0, 5)

	if filter.OrderID != "" {
		args = append(args, filter.OrderID)
		query += fmt.Sprintf(" AND order_id = $%d", len(args))
	}
	if filter.VariantID != "" {
		args = append(args, filter.VariantID)
		query += fmt.Sprintf(" AND variant_id = $%d", len(args))
	}
	if filter.WarehouseID != "" {
		args = append(args, filter.WarehouseID)
		query += fmt.Sprintf(" AND warehouse_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

func (s *Store) ListActiveForVariantWarehouse(ctx context.Context, variantID, warehouseID string) ([]reservation.Reservation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE variant_id = $1 AND warehouse_id = $2 AND status IN ('pending', 'confirmed')
		ORDER BY id
		FOR UPDATE
	`, variantID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

func (s *Store) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]reservation.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY id`
	args := []any{cutoff}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

func (s *Store) ListEscalatable(ctx context.Context, above reservation.Priority, cutoff time.Time, limit int) ([]reservation.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = 'pending'
			AND priority > $1
			AND created_at < $2
			AND (conflict_type IS NULL OR conflict_type <> 'performance_issue')
		ORDER BY id`
	args := []any{int(above), cutoff}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $3"
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

// --- AllocationStore --------------------------------------------------------

const allocationColumns = `
	id, reservation_id, warehouse_id, allocated_qty, stock_snapshot,
	algorithm, allocation_score, logistics, fulfillment_status,
	created_at, updated_at`

func (s *Store) CreateAllocation(ctx context.Context, alloc allocation.Allocation) (allocation.Allocation, error) {
	now := time.Now().UTC()
	alloc.CreatedAt = now
	alloc.UpdatedAt = now

	logisticsJSON, err := json.Marshal(alloc.Logistics)
	if err != nil {
		return allocation.Allocation{}, err
	}

	row := s.q.QueryRowContext(ctx, `
		INSERT INTO allocations (
			reservation_id, warehouse_id, allocated_qty, stock_snapshot,
			algorithm, allocation_score, logistics, fulfillment_status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, alloc.ReservationID, alloc.WarehouseID, alloc.AllocatedQuantity, alloc.StockSnapshot,
		alloc.Algorithm, alloc.AllocationScore, logisticsJSON, string(alloc.FulfillmentStatus),
		alloc.CreatedAt, alloc.UpdatedAt)

	if err := row.Scan(&alloc.ID); err != nil {
		return allocation.Allocation{}, fmt.Errorf("insert allocation: %w", err)
	}
	return alloc, nil
}

func (s *Store) UpdateAllocation(ctx context.Context, alloc allocation.Allocation) (allocation.Allocation, error) {
	existing, err := s.GetAllocation(ctx, alloc.ID)
	if err != nil {
		return allocation.Allocation{}, err
	}

	alloc.CreatedAt = existing.CreatedAt
	alloc.UpdatedAt = time.Now().UTC()

	logisticsJSON, err := json.Marshal(alloc.Logistics)
	if err != nil {
		return allocation.Allocation{}, err
	}

	result, err := s.q.ExecContext(ctx, `
		UPDATE allocations
		SET reservation_id = $2, warehouse_id = $3, allocated_qty = $4, stock_snapshot = $5,
			algorithm = $6, allocation_score = $7, logistics = $8, fulfillment_status = $9,
			updated_at = $10
		WHERE id = $1
	`, alloc.ID, alloc.ReservationID, alloc.WarehouseID, alloc.AllocatedQuantity, alloc.StockSnapshot,
		alloc.Algorithm, alloc.AllocationScore, logisticsJSON, string(alloc.FulfillmentStatus),
		alloc.UpdatedAt)
	if err != nil {
		return allocation.Allocation{}, fmt.Errorf("update allocation: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return allocation.Allocation{}, fmt.Errorf("allocation %d: %w", alloc.ID, reservation.ErrNotFound)
	}
	return alloc, nil
}

func (s *Store) GetAllocation(ctx context.Context, id int64) (allocation.Allocation, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+allocationColumns+`
		FROM allocations
		WHERE id = $1
	`, id)

	alloc, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return allocation.Allocation{}, fmt.Errorf("allocation %d: %w", id, reservation.ErrNotFound)
	}
	return alloc, err
}

func (s *Store) ListAllocationsForReservation(ctx context.Context, reservationID int64) ([]allocation.Allocation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+allocationColumns+`
		FROM allocations
		WHERE reservation_id = $1
		ORDER BY id
	`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []allocation.Allocation
	for rows.Next() {
		alloc, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, alloc)
	}
	return result, rows.Err()
}

// --- row helpers ------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

type encodedReservation struct {
	data         []byte
	metrics      []byte
	automation   []byte
	audit        []byte
	conflict     []byte
	conflictType sql.NullString
	competingIDs any
}

func encodeReservation(res reservation.Reservation) (encodedReservation, error) {
	var enc encodedReservation
	var err error

	if enc.data, err = json.Marshal(res.Data); err != nil {
		return enc, err
	}
	if enc.metrics, err = json.Marshal(res.Metrics); err != nil {
		return enc, err
	}
	if enc.automation, err = json.Marshal(res.Automation); err != nil {
		return enc, err
	}
	audit := res.AuditTrail
	if audit == nil {
		audit = []reservation.AuditEntry{}
	}
	if enc.audit, err = json.Marshal(audit); err != nil {
		return enc, err
	}

	if res.Conflict != nil {
		if enc.conflict, err = json.Marshal(res.Conflict); err != nil {
			return enc, err
		}
		enc.conflictType = sql.NullString{String: string(res.Conflict.Type), Valid: true}
		enc.competingIDs = pq.Array(res.Conflict.CompetingReservations)
	} else {
		enc.competingIDs = pq.Array([]int64(nil))
	}
	return enc, nil
}

func scanReservation(row rowScanner) (reservation.Reservation, error) {
	var (
		res          reservation.Reservation
		status       string
		priority     int
		strategy     string
		confirmedAt  sql.NullTime
		dataRaw      []byte
		metricsRaw   []byte
		conflictType sql.NullString
		competingIDs pq.Int64Array
		conflictRaw  []byte
		autoRaw      []byte
		auditRaw     []byte
	)

	if err := row.Scan(
		&res.ID, &res.OrderID, &res.LineItemID, &res.VariantID, &res.WarehouseID,
		&res.RequestedQuantity, &res.ReservedQuantity, &res.AllocatedQuantity,
		&status, &priority, &strategy,
		&res.ExpiresAt, &res.ConfirmationDeadline, &res.ConfirmedBy, &confirmedAt,
		&dataRaw, &metricsRaw,
		&conflictType, &competingIDs, &conflictRaw,
		&autoRaw, &auditRaw,
		&res.CreatedAt, &res.UpdatedAt,
	); err != nil {
		return reservation.Reservation{}, err
	}

	res.Status = reservation.Status(status)
	res.Priority = reservation.Priority(priority)
	res.Strategy = reservation.Strategy(strategy)
	if confirmedAt.Valid {
		t := confirmedAt.Time.UTC()
		res.ConfirmedAt = &t
	}
	if len(dataRaw) > 0 {
		_ = json.Unmarshal(dataRaw, &res.Data)
	}
	if len(metricsRaw) > 0 {
		_ = json.Unmarshal(metricsRaw, &res.Metrics)
	}
	if len(conflictRaw) > 0 {
		var conflict reservation.Conflict
		if err := json.Unmarshal(conflictRaw, &conflict); err == nil {
			if len(competingIDs) > 0 {
				conflict.CompetingReservations = append([]int64(nil), competingIDs...)
			}
			res.Conflict = &conflict
		}
	}
	if len(autoRaw) > 0 {
		_ = json.Unmarshal(autoRaw, &res.Automation)
	}
	if len(auditRaw) > 0 {
		_ = json.Unmarshal(auditRaw, &res.AuditTrail)
	}
	return res, nil
}

func collectReservations(rows *sql.Rows) ([]reservation.Reservation, error) {
	var result []reservation.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, rows.Err()
}

func scanAllocation(row rowScanner) (allocation.Allocation, error) {
	var (
		alloc        allocation.Allocation
		status       string
		logisticsRaw []byte
	)

	if err := row.Scan(
		&alloc.ID, &alloc.ReservationID, &alloc.WarehouseID, &alloc.AllocatedQuantity, &alloc.StockSnapshot,
		&alloc.Algorithm, &alloc.AllocationScore, &logisticsRaw, &status,
		&alloc.CreatedAt, &alloc.UpdatedAt,
	); err != nil {
		return allocation.Allocation{}, err
	}

	alloc.FulfillmentStatus = allocation.FulfillmentStatus(status)
	if len(logisticsRaw) > 0 {
		_ = json.Unmarshal(logisticsRaw, &alloc.Logistics)
	}
	return alloc, nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
