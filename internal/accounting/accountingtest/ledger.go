// Package accountingtest provides an in-memory ledger for tests of packages that post journals.
package accountingtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/accounting"
)

type sourceKey struct {
	source string
	id     uuid.UUID
}

// Ledger is a map-backed accounting.TxRepository and accounting.RepositoryPort.
type Ledger struct {
	txMu sync.Mutex
	mu   sync.Mutex

	accounts map[string]accounting.Account
	entries  []accounting.JournalEntry
	lines    []accounting.JournalLine
	sources  map[sourceKey]int64
	nextLine int64
}

// NewLedger returns a ledger seeded with accounting.DefaultChart at zero balances.
func NewLedger() *Ledger {
	l := &Ledger{accounts: make(map[string]accounting.Account), sources: make(map[sourceKey]int64)}
	for i, acc := range accounting.DefaultChart() {
		l.accounts[acc.Code] = accounting.Account{
			ID:       int64(i + 1),
			Code:     acc.Code,
			Name:     acc.Name,
			Type:     acc.Type,
			Balance:  decimal.Zero,
			IsActive: true,
		}
	}
	return l
}

// RemoveAccount deletes an account from the chart.
func (l *Ledger) RemoveAccount(code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.accounts, code)
}

// SetBalance overrides an account balance.
func (l *Ledger) SetBalance(code string, balance decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accounts[code]
	acc.Balance = balance
	l.accounts[code] = acc
}

// Balance returns the running balance of an account.
func (l *Ledger) Balance(code string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[code].Balance
}

// Entries returns every posted entry with its lines.
func (l *Ledger) Entries() []accounting.JournalEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]accounting.JournalEntry, len(l.entries))
	for i, e := range l.entries {
		e.Lines = l.linesFor(e.ID)
		out[i] = e
	}
	return out
}

// Checkpoint snapshots the ledger and returns a function restoring it.
func (l *Ledger) Checkpoint() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	accounts := make(map[string]accounting.Account, len(l.accounts))
	for k, v := range l.accounts {
		accounts[k] = v
	}
	sources := make(map[sourceKey]int64, len(l.sources))
	for k, v := range l.sources {
		sources[k] = v
	}
	entries := append([]accounting.JournalEntry(nil), l.entries...)
	lines := append([]accounting.JournalLine(nil), l.lines...)
	nextLine := l.nextLine
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.accounts = accounts
		l.sources = sources
		l.entries = entries
		l.lines = lines
		l.nextLine = nextLine
	}
}

// WithTx runs fn against the ledger, rolling back on error.
func (l *Ledger) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()
	restore := l.Checkpoint()
	if err := fn(ctx, l); err != nil {
		restore()
		return err
	}
	return nil
}

func (l *Ledger) LockAccountByCode(_ context.Context, code string) (accounting.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[code]
	if !ok || !acc.IsActive {
		return accounting.Account{}, accounting.ErrAccountNotFound
	}
	return acc, nil
}

func (l *Ledger) InsertJournalEntry(_ context.Context, in accounting.PostingInput) (accounting.JournalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := int64(len(l.entries) + 1)
	entry := accounting.JournalEntry{
		ID:          id,
		Number:      fmt.Sprintf("JE-%06d", id),
		Description: in.Description,
		Reference:   in.Reference,
		Date:        in.Date,
		Status:      accounting.JournalStatusPosted,
		OrderID:     in.OrderID,
		Source:      in.Source,
		SourceID:    in.SourceID,
		PostedBy:    in.PostedBy,
		PostedAt:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *Ledger) InsertJournalLines(_ context.Context, entryID int64, lines []accounting.JournalLine) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range lines {
		l.nextLine++
		line.ID = l.nextLine
		line.JournalID = entryID
		l.lines = append(l.lines, line)
	}
	return nil
}

func (l *Ledger) UpdateAccountBalance(_ context.Context, accountID int64, balance decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for code, acc := range l.accounts {
		if acc.ID == accountID {
			acc.Balance = balance
			l.accounts[code] = acc
			return nil
		}
	}
	return fmt.Errorf("account %d not found", accountID)
}

func (l *Ledger) LinkSource(_ context.Context, source string, sourceID uuid.UUID, entryID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := sourceKey{source, sourceID}
	if _, ok := l.sources[k]; ok {
		return accounting.ErrSourceConflict
	}
	l.sources[k] = entryID
	return nil
}

func (l *Ledger) FindEntryByOrder(_ context.Context, orderID int64, source string) (accounting.JournalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.OrderID != nil && *e.OrderID == orderID && e.Source == source {
			return e, nil
		}
	}
	return accounting.JournalEntry{}, accounting.ErrJournalNotFound
}

func (l *Ledger) ListAccounts(_ context.Context) ([]accounting.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]accounting.Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (l *Ledger) GetAccount(_ context.Context, code string) (accounting.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[code]
	if !ok {
		return accounting.Account{}, accounting.ErrAccountNotFound
	}
	return acc, nil
}

func (l *Ledger) GetJournal(_ context.Context, id int64) (accounting.JournalEntry, error) {
	for _, e := range l.Entries() {
		if e.ID == id {
			return e, nil
		}
	}
	return accounting.JournalEntry{}, accounting.ErrJournalNotFound
}

func (l *Ledger) ListJournalsByOrder(_ context.Context, orderID int64) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	for _, e := range l.Entries() {
		if e.OrderID != nil && *e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Ledger) linesFor(entryID int64) []accounting.JournalLine {
	var out []accounting.JournalLine
	for _, line := range l.lines {
		if line.JournalID == entryID {
			out = append(out, line)
		}
	}
	return out
}
