package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

const defaultLogLimit = 200

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// Get returns the current row or the implicit zero state.
func (r *Repository) Get(ctx context.Context, warehouseID, variantID int64) (Inventory, error) {
	inv, err := scanInventory(r.pool.QueryRow(ctx, `SELECT warehouse_id, variant_id, available, reserved, min_stock, updated_at
FROM inventory WHERE warehouse_id = $1 AND variant_id = $2`, warehouseID, variantID))
	if errors.Is(err, ErrInventoryNotFound) {
		return Inventory{WarehouseID: warehouseID, VariantID: variantID}, nil
	}
	return inv, err
}

// ListWarehouses returns warehouses ordered by id.
func (r *Repository) ListWarehouses(ctx context.Context, activeOnly bool) ([]Warehouse, error) {
	query := `SELECT id, code, name, type, is_active, created_at FROM warehouses`
	if activeOnly {
		query += ` WHERE is_active`
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Warehouse
	for rows.Next() {
		var wh Warehouse
		if err := rows.Scan(&wh.ID, &wh.Code, &wh.Name, &wh.Type, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

// ListLogs returns log rows newest first.
func (r *Repository) ListLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	var conditions []string
	var args []any
	argPos := 1
	if filter.WarehouseID != nil {
		conditions = append(conditions, fmt.Sprintf("warehouse_id = $%d", argPos))
		args = append(args, *filter.WarehouseID)
		argPos++
	}
	if filter.VariantID != nil {
		conditions = append(conditions, fmt.Sprintf("variant_id = $%d", argPos))
		args = append(args, *filter.VariantID)
		argPos++
	}
	if filter.Reference != "" {
		conditions = append(conditions, fmt.Sprintf("reference = $%d", argPos))
		args = append(args, filter.Reference)
		argPos++
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultLogLimit
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id, warehouse_id, variant_id, action, quantity, available_after, reserved_after,
       reference, reason, actor_id, created_at
FROM inventory_logs
%s
ORDER BY id DESC
LIMIT $%d`, where, argPos)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.WarehouseID, &e.VariantID, &e.Action, &e.Quantity, &e.AvailableAfter,
			&e.ReservedAfter, &e.Reference, &e.Reason, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListTransferable returns rows with free stock at the warehouse.
func (r *Repository) ListTransferable(ctx context.Context, warehouseID int64) ([]Inventory, error) {
	return r.listInventory(ctx, `WHERE warehouse_id = $1 AND available > 0 ORDER BY variant_id`, warehouseID)
}

// ListLowStock returns rows at or below their threshold, optionally for one warehouse.
func (r *Repository) ListLowStock(ctx context.Context, warehouseID *int64) ([]Inventory, error) {
	if warehouseID != nil {
		return r.listInventory(ctx, `WHERE warehouse_id = $1 AND available <= min_stock ORDER BY variant_id`, *warehouseID)
	}
	return r.listInventory(ctx, `WHERE available <= min_stock ORDER BY warehouse_id, variant_id`)
}

func (r *Repository) listInventory(ctx context.Context, clause string, args ...any) ([]Inventory, error) {
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id, variant_id, available, reserved, min_stock, updated_at FROM inventory `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Inventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// TxStore implements TxRepository on top of a transaction handle.
type TxStore struct {
	q db.Querier
}

// NewTxStore wraps q, normally a pgx.Tx owned by the caller's unit of work.
func NewTxStore(q db.Querier) *TxStore {
	return &TxStore{q: q}
}

func (s *TxStore) LockInventory(ctx context.Context, warehouseID, variantID int64) (Inventory, error) {
	tag, err := s.q.Exec(ctx, `INSERT INTO inventory (warehouse_id, variant_id, available, reserved, min_stock, updated_at)
VALUES ($1, $2, 0, 0, $3, NOW())
ON CONFLICT (warehouse_id, variant_id) DO NOTHING`, warehouseID, variantID, DefaultMinStock)
	if err != nil {
		return Inventory{}, err
	}
	inv, err := scanInventory(s.q.QueryRow(ctx, `SELECT warehouse_id, variant_id, available, reserved, min_stock, updated_at
FROM inventory WHERE warehouse_id = $1 AND variant_id = $2 FOR UPDATE`, warehouseID, variantID))
	if err != nil {
		return Inventory{}, err
	}
	inv.Exists = tag.RowsAffected() == 0
	return inv, nil
}

func (s *TxStore) SaveInventory(ctx context.Context, inv Inventory) error {
	tag, err := s.q.Exec(ctx, `UPDATE inventory SET available = $3, reserved = $4, updated_at = $5
WHERE warehouse_id = $1 AND variant_id = $2`, inv.WarehouseID, inv.VariantID, inv.Available, inv.Reserved, inv.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

func (s *TxStore) InsertLog(ctx context.Context, entry LogEntry) (LogEntry, error) {
	err := s.q.QueryRow(ctx, `INSERT INTO inventory_logs (warehouse_id, variant_id, action, quantity, available_after,
    reserved_after, reference, reason, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`, entry.WarehouseID, entry.VariantID, entry.Action, entry.Quantity, entry.AvailableAfter,
		entry.ReservedAfter, entry.Reference, entry.Reason, entry.ActorID, entry.CreatedAt).Scan(&entry.ID)
	return entry, err
}

func (s *TxStore) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	return scanWarehouse(s.q.QueryRow(ctx, `SELECT id, code, name, type, is_active, created_at FROM warehouses WHERE id = $1`, id))
}

func (s *TxStore) FindActiveWarehouse(ctx context.Context, typ WarehouseType) (Warehouse, error) {
	if typ == "" {
		return scanWarehouse(s.q.QueryRow(ctx, `SELECT id, code, name, type, is_active, created_at
FROM warehouses WHERE is_active ORDER BY id LIMIT 1`))
	}
	return scanWarehouse(s.q.QueryRow(ctx, `SELECT id, code, name, type, is_active, created_at
FROM warehouses WHERE is_active AND type = $1 ORDER BY id LIMIT 1`, typ))
}

func scanInventory(row pgx.Row) (Inventory, error) {
	var inv Inventory
	err := row.Scan(&inv.WarehouseID, &inv.VariantID, &inv.Available, &inv.Reserved, &inv.MinStock, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inventory{}, ErrInventoryNotFound
		}
		return Inventory{}, err
	}
	inv.Exists = true
	return inv, nil
}

func scanWarehouse(row pgx.Row) (Warehouse, error) {
	var wh Warehouse
	if err := row.Scan(&wh.ID, &wh.Code, &wh.Name, &wh.Type, &wh.IsActive, &wh.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, ErrWarehouseNotFound
		}
		return Warehouse{}, err
	}
	return wh, nil
}
