package accounting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const (
	accountColumns = `id, code, name, type, balance, is_active, created_at, updated_at`
	entryColumns   = `id, number, description, reference, date, status, order_id, source, source_id, posted_by, posted_at`
)

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// ListAccounts returns the chart ordered by code.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// GetAccount returns one account by code.
func (r *Repository) GetAccount(ctx context.Context, code string) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code = $1`, code))
}

// GetJournal returns an entry with its lines.
func (r *Repository) GetJournal(ctx context.Context, id int64) (JournalEntry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id = $1`, id))
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines, err = r.listLines(ctx, entry.ID)
	return entry, err
}

// ListJournalsByOrder returns every entry linked to the order, oldest first.
func (r *Repository) ListJournalsByOrder(ctx context.Context, orderID int64) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Lines, err = r.listLines(ctx, entries[i].ID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (r *Repository) listLines(ctx context.Context, entryID int64) ([]JournalLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.id, l.journal_entry_id, l.account_id, a.code, l.debit, l.credit, l.memo
FROM transaction_lines l JOIN accounts a ON a.id = l.account_id
WHERE l.journal_entry_id = $1 ORDER BY l.id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.JournalID, &line.AccountID, &line.AccountCode, &line.Debit, &line.Credit, &line.Memo); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// TxStore implements TxRepository on top of a transaction handle.
type TxStore struct {
	q db.Querier
}

// NewTxStore wraps q so postings can join a unit of work owned by another module.
func NewTxStore(q db.Querier) *TxStore {
	return &TxStore{q: q}
}

func (s *TxStore) LockAccountByCode(ctx context.Context, code string) (Account, error) {
	return scanAccount(s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code = $1 AND is_active FOR UPDATE`, code))
}

func (s *TxStore) InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error) {
	entry := JournalEntry{
		Description: in.Description,
		Reference:   in.Reference,
		Date:        in.Date,
		Status:      JournalStatusPosted,
		OrderID:     in.OrderID,
		Source:      in.Source,
		SourceID:    in.SourceID,
		PostedBy:    in.PostedBy,
	}
	err := s.q.QueryRow(ctx, `INSERT INTO journal_entries (number, description, reference, date, status, order_id, source, source_id, posted_by)
VALUES ('JE-' || lpad(nextval('journal_entry_number_seq')::text, 6, '0'), $1, $2, $3, 'POSTED', $4, $5, $6, $7)
RETURNING id, number, posted_at`, in.Description, in.Reference, in.Date, in.OrderID, in.Source, nullUUID(in.SourceID), nullInt(in.PostedBy)).
		Scan(&entry.ID, &entry.Number, &entry.PostedAt)
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (s *TxStore) InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	for _, line := range lines {
		if _, err := s.q.Exec(ctx, `INSERT INTO transaction_lines (journal_entry_id, account_id, debit, credit, memo)
VALUES ($1, $2, $3, $4, $5)`, entryID, line.AccountID, line.Debit, line.Credit, line.Memo); err != nil {
			return err
		}
	}
	return nil
}

func (s *TxStore) UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	tag, err := s.q.Exec(ctx, `UPDATE accounts SET balance = $2, updated_at = NOW() WHERE id = $1`, accountID, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %d balance update affected zero rows", shared.ErrIntegrity, accountID)
	}
	return nil
}

func (s *TxStore) LinkSource(ctx context.Context, source string, sourceID uuid.UUID, entryID int64) error {
	_, err := s.q.Exec(ctx, `INSERT INTO journal_sources (source, source_id, journal_entry_id) VALUES ($1, $2, $3)`, source, sourceID, entryID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}

func (s *TxStore) FindEntryByOrder(ctx context.Context, orderID int64, source string) (JournalEntry, error) {
	return scanEntry(s.q.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE order_id = $1 AND source = $2 ORDER BY id LIMIT 1`, orderID, source))
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var (
		e        JournalEntry
		sourceID *uuid.UUID
		postedBy *int64
	)
	err := row.Scan(&e.ID, &e.Number, &e.Description, &e.Reference, &e.Date, &e.Status, &e.OrderID, &e.Source, &sourceID, &postedBy, &e.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	if sourceID != nil {
		e.SourceID = *sourceID
	}
	if postedBy != nil {
		e.PostedBy = *postedBy
	}
	return e, nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullUUID(val uuid.UUID) any {
	if val == uuid.Nil {
		return nil
	}
	return val
}
