package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository reads audit_logs from PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Timeline returns matching rows newest first and the total count.
func (r *PgRepository) Timeline(ctx context.Context, f TimelineFilters, limit, offset int) ([]Entry, int, error) {
	conds := []string{"occurred_at >= $1", "occurred_at <= $2"}
	args := []any{f.From, f.To}
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.ActorID != nil {
		add("actor_id", *f.ActorID)
	}
	if f.Entity != "" {
		add("entity", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id", f.EntityID)
	}
	if f.Action != "" {
		add("action", f.Action)
	}
	where := "WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT id, actor_id, action, entity, entity_id, meta, occurred_at FROM audit_logs %s
ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &meta, &e.At); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, 0, fmt.Errorf("decode audit meta %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
