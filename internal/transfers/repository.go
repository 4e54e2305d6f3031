package transfers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const transferColumns = `id, number, from_warehouse_id, to_warehouse_id, status, notes, created_by, approved_by, shipped_by,
       received_by, cancelled_by, cancel_reason, created_at, approved_at, shipped_at, received_at, cancelled_at, updated_at`

// Repository persists transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxStore: inventory.NewTxStore(tx), q: tx})
	})
}

// Get loads a transfer with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE id = $1`, id))
	if err != nil {
		return Transfer{}, err
	}
	t.Items, err = loadItems(ctx, r.pool, id)
	return t, err
}

// List returns one page of transfers newest first and the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	var conditions []string
	var args []any
	argPos := 1
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, filter.Status)
		argPos++
	}
	if filter.WarehouseID != nil {
		conditions = append(conditions, fmt.Sprintf("(from_warehouse_id = $%d OR to_warehouse_id = $%d)", argPos, argPos))
		args = append(args, *filter.WarehouseID)
		argPos++
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_transfers `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transfers: %w", err)
	}

	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	query := fmt.Sprintf(`SELECT %s FROM stock_transfers %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		transferColumns, where, argPos, argPos+1)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

type txRepo struct {
	*inventory.TxStore
	q db.Querier
}

func (r *txRepo) InsertTransfer(ctx context.Context, t Transfer) (Transfer, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO stock_transfers (number, from_warehouse_id, to_warehouse_id, status, notes, created_by, created_at, updated_at)
VALUES ('TRF-' || lpad(nextval('stock_transfer_number_seq')::text, 6, '0'), $1, $2, $3, $4, $5, $6, $6)
RETURNING id, number`, t.FromWarehouseID, t.ToWarehouseID, t.Status, t.Notes, t.CreatedBy, t.CreatedAt).Scan(&t.ID, &t.Number)
	return t, err
}

func (r *txRepo) InsertItems(ctx context.Context, transferID int64, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		item.TransferID = transferID
		if err := r.q.QueryRow(ctx, `INSERT INTO stock_transfer_items (transfer_id, variant_id, requested_qty)
VALUES ($1, $2, $3) RETURNING id`, transferID, item.VariantID, item.RequestedQty).Scan(&item.ID); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *txRepo) LockTransfer(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.q.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Transfer{}, err
	}
	t.Items, err = loadItems(ctx, r.q, id)
	return t, err
}

func (r *txRepo) UpdateTransfer(ctx context.Context, t Transfer) error {
	tag, err := r.q.Exec(ctx, `UPDATE stock_transfers SET status = $2, approved_by = $3, shipped_by = $4, received_by = $5,
    cancelled_by = $6, cancel_reason = $7, approved_at = $8, shipped_at = $9, received_at = $10, cancelled_at = $11, updated_at = $12
WHERE id = $1`, t.ID, t.Status, t.ApprovedBy, t.ShippedBy, t.ReceivedBy, t.CancelledBy, t.CancelReason,
		t.ApprovedAt, t.ShippedAt, t.ReceivedAt, t.CancelledAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transfer %d update affected zero rows", shared.ErrIntegrity, t.ID)
	}
	return nil
}

func (r *txRepo) UpdateItems(ctx context.Context, items []Item) error {
	for _, item := range items {
		tag, err := r.q.Exec(ctx, `UPDATE stock_transfer_items SET sent_qty = $2, received_qty = $3, notes = $4 WHERE id = $1`,
			item.ID, item.SentQty, item.ReceivedQty, item.Notes)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: transfer item %d update affected zero rows", shared.ErrIntegrity, item.ID)
		}
	}
	return nil
}

func (r *txRepo) InsertAuditLog(ctx context.Context, log shared.AuditLog) error {
	return shared.InsertAuditLog(ctx, r.q, log)
}

func loadItems(ctx context.Context, q db.Querier, transferID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, variant_id, requested_qty, sent_qty, received_qty, notes
FROM stock_transfer_items WHERE transfer_id = $1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.TransferID, &item.VariantID, &item.RequestedQty, &item.SentQty,
			&item.ReceivedQty, &item.Notes); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.Number, &t.FromWarehouseID, &t.ToWarehouseID, &t.Status, &t.Notes, &t.CreatedBy,
		&t.ApprovedBy, &t.ShippedBy, &t.ReceivedBy, &t.CancelledBy, &t.CancelReason, &t.CreatedAt, &t.ApprovedAt,
		&t.ShippedAt, &t.ReceivedAt, &t.CancelledAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrTransferNotFound
		}
		return Transfer{}, err
	}
	return t, nil
}
