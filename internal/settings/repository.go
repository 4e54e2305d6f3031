package settings

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository persists the single store_settings row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Load returns the stored row or ErrSettingsNotFound.
func (r *Repository) Load(ctx context.Context) (Settings, error) {
	var s Settings
	err := r.pool.QueryRow(ctx, `SELECT tax_rate, refund_window_days, updated_at FROM store_settings WHERE id = 1`).
		Scan(&s.TaxRate, &s.RefundWindowDays, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, ErrSettingsNotFound
	}
	return s, err
}

// Save upserts the row and writes the audit record in the same transaction.
func (r *Repository) Save(ctx context.Context, s Settings, audit shared.AuditLog) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO store_settings (id, tax_rate, refund_window_days, updated_at)
VALUES (1, $1, $2, $3)
ON CONFLICT (id) DO UPDATE SET tax_rate = EXCLUDED.tax_rate, refund_window_days = EXCLUDED.refund_window_days,
    updated_at = EXCLUDED.updated_at`, s.TaxRate, s.RefundWindowDays, s.UpdatedAt); err != nil {
			return err
		}
		return shared.InsertAuditLog(ctx, tx, audit)
	})
}
