package accounting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// DebitNormal reports whether debits increase the balance.
func (t AccountType) DebitNormal() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// Account codes are an external contract: reports look accounts up by code, never by name.
const (
	CodeCash                = "1000"
	CodeAccountsReceivable  = "1100"
	CodeInventory           = "1200"
	CodeAccountsPayable     = "2000"
	CodeDeferredRevenue     = "2100"
	CodeSalesTaxPayable     = "2200"
	CodeOwnersEquity        = "3000"
	CodeSalesRevenue        = "4000"
	CodeCOGS                = "5000"
	CodeInventoryAdjustment = "5300"
)

// ChartAccount describes one seeded account.
type ChartAccount struct {
	Code string
	Name string
	Type AccountType
}

// DefaultChart lists the accounts the back office posts against.
func DefaultChart() []ChartAccount {
	return []ChartAccount{
		{CodeCash, "Cash", AccountTypeAsset},
		{CodeAccountsReceivable, "Accounts Receivable", AccountTypeAsset},
		{CodeInventory, "Inventory", AccountTypeAsset},
		{CodeAccountsPayable, "Accounts Payable", AccountTypeLiability},
		{CodeDeferredRevenue, "Deferred Revenue", AccountTypeLiability},
		{CodeSalesTaxPayable, "Sales Tax Payable", AccountTypeLiability},
		{CodeOwnersEquity, "Owner's Equity", AccountTypeEquity},
		{CodeSalesRevenue, "Sales Revenue", AccountTypeRevenue},
		{CodeCOGS, "Cost of Goods Sold", AccountTypeExpense},
		{CodeInventoryAdjustment, "Inventory Adjustment", AccountTypeExpense},
	}
}

// Account models a chart of accounts node with its running balance.
type Account struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Apply returns the balance after a debit/credit pair according to the account's normal side.
func (a Account) Apply(debit, credit decimal.Decimal) decimal.Decimal {
	if a.Type.DebitNormal() {
		return a.Balance.Add(debit).Sub(credit)
	}
	return a.Balance.Add(credit).Sub(debit)
}

// JournalStatus enumerates journal lifecycle values. Entries are posted on creation and never edited.
type JournalStatus string

const JournalStatusPosted JournalStatus = "POSTED"

// Journal sources classify why an entry exists.
const (
	SourceManual       = "MANUAL"
	SourceRevenue      = "REVENUE"
	SourceCOGS         = "COGS"
	SourceRefund       = "REFUND"
	SourceCOGSReversal = "COGS_REVERSAL"
)

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID          int64         `json:"id"`
	Number      string        `json:"number"`
	Description string        `json:"description"`
	Reference   string        `json:"reference,omitempty"`
	Date        time.Time     `json:"date"`
	Status      JournalStatus `json:"status"`
	OrderID     *int64        `json:"order_id,omitempty"`
	Source      string        `json:"source"`
	SourceID    uuid.UUID     `json:"source_id"`
	PostedBy    int64         `json:"posted_by"`
	PostedAt    time.Time     `json:"posted_at"`
	Lines       []JournalLine `json:"lines,omitempty"`
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID          int64           `json:"id"`
	JournalID   int64           `json:"journal_id"`
	AccountID   int64           `json:"account_id"`
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Memo        string          `json:"memo,omitempty"`
}

// PostingLineInput describes a journal line for posting request.
type PostingLineInput struct {
	AccountCode string          `json:"account_code" validate:"required"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Memo        string          `json:"memo" validate:"max=255"`
}

// Debit builds a debit line.
func Debit(code string, amount decimal.Decimal, memo string) PostingLineInput {
	return PostingLineInput{AccountCode: code, Debit: amount, Memo: memo}
}

// Credit builds a credit line.
func Credit(code string, amount decimal.Decimal, memo string) PostingLineInput {
	return PostingLineInput{AccountCode: code, Credit: amount, Memo: memo}
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	Description string
	Reference   string
	Date        time.Time
	OrderID     *int64
	Source      string
	SourceID    uuid.UUID
	PostedBy    int64
	Lines       []PostingLineInput
}

// CreateJournalInput is the admin request for a manual entry.
type CreateJournalInput struct {
	Description string             `json:"description" validate:"required,max=255"`
	Reference   string             `json:"reference" validate:"max=100"`
	Date        *time.Time         `json:"date"`
	OrderID     *int64             `json:"order_id" validate:"omitempty,gt=0"`
	Lines       []PostingLineInput `json:"lines" validate:"required,min=2,dive"`
}

var (
	// ErrBalanceMismatch indicates debit != credit. Generated postings that fail it are corrupt.
	ErrBalanceMismatch = shared.NewIntegrityError("accounting: journal lines must balance")
	// ErrUnbalancedRequest is the caller-facing form of ErrBalanceMismatch for manual entries.
	ErrUnbalancedRequest = shared.NewValidationError("accounting: total debit must equal total credit")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = shared.NewValidationError("accounting: journal requires at least two lines")
	// ErrInvalidLine indicates a malformed line.
	ErrInvalidLine = shared.NewValidationError("accounting: invalid journal line")
	// ErrMissingAccount indicates a line references an unknown account code.
	ErrMissingAccount = shared.NewIntegrityError("accounting: required account missing")
	// ErrSourceAlreadyLinked indicates the source already produced an entry.
	ErrSourceAlreadyLinked = shared.NewStateError("accounting: source already linked")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = shared.NewNotFoundError("accounting: journal entry not found")
	// ErrAccountNotFound indicates a lookup by code found nothing.
	ErrAccountNotFound = shared.NewNotFoundError("accounting: account not found")
	// ErrSourceConflict is returned by repositories when the source link already exists.
	ErrSourceConflict = shared.NewStateError("accounting: source link conflict")
)

// Validate ensures posting input is well formed and balanced. It touches no account.
func (in PostingInput) Validate() error {
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	if in.Source == "" {
		return fmt.Errorf("%w: source required", ErrInvalidLine)
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range in.Lines {
		if line.AccountCode == "" {
			return fmt.Errorf("%w: line %d missing account", ErrInvalidLine, idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d negative amount", ErrInvalidLine, idx)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("%w: line %d must carry exactly one of debit or credit", ErrInvalidLine, idx)
		}
		if !line.Debit.Equal(line.Debit.Round(2)) || !line.Credit.Equal(line.Credit.Round(2)) {
			return fmt.Errorf("%w: line %d has more than two decimal places", ErrInvalidLine, idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s, credit %s", ErrBalanceMismatch, debit.StringFixed(2), credit.StringFixed(2))
	}
	return nil
}
