package accounting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	// LockAccountByCode returns the account locked for update or ErrAccountNotFound.
	LockAccountByCode(ctx context.Context, code string) (Account, error)
	InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error
	UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
	// LinkSource records (source, sourceID) uniquely or returns ErrSourceConflict.
	LinkSource(ctx context.Context, source string, sourceID uuid.UUID, entryID int64) error
	// FindEntryByOrder returns the first entry of the source linked to the order or ErrJournalNotFound.
	FindEntryByOrder(ctx context.Context, orderID int64, source string) (JournalEntry, error)
}

// Post validates, then posts the entry and applies every line to its account inside the
// caller's unit of work. Any failure leaves balances untouched once the unit is rolled back.
func Post(ctx context.Context, tx TxRepository, in PostingInput) (JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if in.Date.IsZero() {
		in.Date = time.Now().UTC()
	}

	codes := make([]string, 0, len(in.Lines))
	seen := make(map[string]bool, len(in.Lines))
	for _, line := range in.Lines {
		if !seen[line.AccountCode] {
			seen[line.AccountCode] = true
			codes = append(codes, line.AccountCode)
		}
	}
	// Fixed lock order keeps concurrent postings from deadlocking.
	sort.Strings(codes)
	accounts := make(map[string]Account, len(codes))
	for _, code := range codes {
		acc, err := tx.LockAccountByCode(ctx, code)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return JournalEntry{}, fmt.Errorf("%w: code %s", ErrMissingAccount, code)
			}
			return JournalEntry{}, fmt.Errorf("lock account %s: %w", code, err)
		}
		accounts[code] = acc
	}

	entry, err := tx.InsertJournalEntry(ctx, in)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("insert journal entry: %w", err)
	}
	if in.SourceID != uuid.Nil {
		if err := tx.LinkSource(ctx, in.Source, in.SourceID, entry.ID); err != nil {
			if errors.Is(err, ErrSourceConflict) {
				return JournalEntry{}, ErrSourceAlreadyLinked
			}
			return JournalEntry{}, fmt.Errorf("link journal source: %w", err)
		}
	}

	lines := make([]JournalLine, 0, len(in.Lines))
	for _, line := range in.Lines {
		acc := accounts[line.AccountCode]
		lines = append(lines, JournalLine{
			JournalID:   entry.ID,
			AccountID:   acc.ID,
			AccountCode: acc.Code,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Memo:        line.Memo,
		})
		acc.Balance = acc.Apply(line.Debit, line.Credit)
		accounts[line.AccountCode] = acc
	}
	if err := tx.InsertJournalLines(ctx, entry.ID, lines); err != nil {
		return JournalEntry{}, fmt.Errorf("insert journal lines: %w", err)
	}
	for _, code := range codes {
		acc := accounts[code]
		if err := tx.UpdateAccountBalance(ctx, acc.ID, acc.Balance); err != nil {
			return JournalEntry{}, fmt.Errorf("update account %s balance: %w", code, err)
		}
	}
	entry.Lines = lines
	return entry, nil
}
