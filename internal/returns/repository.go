package returns

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const requestColumns = `id, order_id, status, reason, description, refund_amount, requires_manual_processing, admin_note,
       transaction_ref, requested_by, approved_by, rejected_by, completed_by, created_at, approved_at, rejected_at,
       completed_at, updated_at`

// Repository persists return requests and reads orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within repeatable-read transaction shared by stock and ledger writes.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			stockTx:  stockTx{inventory.NewTxStore(tx)},
			ledgerTx: ledgerTx{accounting.NewTxStore(tx)},
			q:        tx,
		})
	})
}

// Get loads a request with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM return_requests WHERE id = $1`, id))
	if err != nil {
		return Request{}, err
	}
	req.Items, err = loadItems(ctx, r.pool, id)
	return req, err
}

// List returns one page of requests newest first and the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Request, int, error) {
	where, args := "", []any{}
	if filter.Status != "" {
		where = "WHERE status = $1"
		args = append(args, filter.Status)
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM return_requests `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count return requests: %w", err)
	}
	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	query := fmt.Sprintf(`SELECT %s FROM return_requests %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		requestColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

// GetOrder reads an order outside any unit of work.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	return getOrder(ctx, r.pool, id)
}

// HasRequestForOrder reports whether the order already has a return request.
func (r *Repository) HasRequestForOrder(ctx context.Context, orderID int64) (bool, error) {
	return hasRequest(ctx, r.pool, orderID)
}

type stockTx struct{ *inventory.TxStore }

type ledgerTx struct{ *accounting.TxStore }

type txRepo struct {
	stockTx
	ledgerTx
	q db.Querier
}

func (r *txRepo) GetOrder(ctx context.Context, id int64) (Order, error) {
	return getOrder(ctx, r.q, id)
}

func (r *txRepo) ListOrderItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := r.q.Query(ctx, `SELECT id, order_id, variant_id, warehouse_id, quantity, unit_price, discounted_price, unit_cost
FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.VariantID, &item.WarehouseID, &item.Quantity, &item.UnitPrice,
			&item.DiscountedPrice, &item.UnitCost); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepo) HasRequestForOrder(ctx context.Context, orderID int64) (bool, error) {
	return hasRequest(ctx, r.q, orderID)
}

func (r *txRepo) InsertRequest(ctx context.Context, req Request) (Request, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO return_requests (order_id, status, reason, description, requested_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`, req.OrderID, req.Status, req.Reason, req.Description, req.RequestedBy,
		req.CreatedAt).Scan(&req.ID)
	if db.IsUniqueViolation(err) {
		return Request{}, ErrRequestExists
	}
	return req, err
}

func (r *txRepo) InsertItems(ctx context.Context, requestID int64, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		item.RequestID = requestID
		if err := r.q.QueryRow(ctx, `INSERT INTO return_request_items (return_request_id, order_item_id, quantity)
VALUES ($1, $2, $3) RETURNING id`, requestID, item.OrderItemID, item.Quantity).Scan(&item.ID); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *txRepo) LockRequest(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(r.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM return_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Request{}, err
	}
	req.Items, err = loadItems(ctx, r.q, id)
	return req, err
}

func (r *txRepo) UpdateRequest(ctx context.Context, req Request) error {
	tag, err := r.q.Exec(ctx, `UPDATE return_requests SET status = $2, refund_amount = $3, requires_manual_processing = $4,
    admin_note = $5, transaction_ref = $6, approved_by = $7, rejected_by = $8, completed_by = $9, approved_at = $10,
    rejected_at = $11, completed_at = $12, updated_at = $13
WHERE id = $1`, req.ID, req.Status, req.RefundAmount, req.RequiresManualProcessing, req.AdminNote, req.TransactionRef,
		req.ApprovedBy, req.RejectedBy, req.CompletedBy, req.ApprovedAt, req.RejectedAt, req.CompletedAt, req.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: return request %d update affected zero rows", shared.ErrIntegrity, req.ID)
	}
	return nil
}

func (r *txRepo) InsertAuditLog(ctx context.Context, log shared.AuditLog) error {
	return shared.InsertAuditLog(ctx, r.q, log)
}

func getOrder(ctx context.Context, q db.Querier, id int64) (Order, error) {
	var o Order
	err := q.QueryRow(ctx, `SELECT id, status, total, payment_method, payment_intent_id, delivered_at, created_at
FROM orders WHERE id = $1`, id).Scan(&o.ID, &o.Status, &o.Total, &o.PaymentMethod, &o.PaymentIntentID, &o.DeliveredAt, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

func hasRequest(ctx context.Context, q db.Querier, orderID int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM return_requests WHERE order_id = $1)`, orderID).Scan(&exists)
	return exists, err
}

func loadItems(ctx context.Context, q db.Querier, requestID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, return_request_id, order_item_id, quantity
FROM return_request_items WHERE return_request_id = $1 ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.RequestID, &item.OrderItemID, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanRequest(row pgx.Row) (Request, error) {
	var r Request
	err := row.Scan(&r.ID, &r.OrderID, &r.Status, &r.Reason, &r.Description, &r.RefundAmount, &r.RequiresManualProcessing,
		&r.AdminNote, &r.TransactionRef, &r.RequestedBy, &r.ApprovedBy, &r.RejectedBy, &r.CompletedBy, &r.CreatedAt,
		&r.ApprovedAt, &r.RejectedAt, &r.CompletedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, err
	}
	return r, nil
}
