package reports

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/accounting"
)

// AccountLister reads the chart with current balances.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]accounting.Account, error)
}

// TrialBalanceAccount is one account placed in its debit or credit column.
type TrialBalanceAccount struct {
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Debit  decimal.Decimal `json:"debit"`
	Credit decimal.Decimal `json:"credit"`
}

// TrialBalanceGroup aggregates accounts of one type.
type TrialBalanceGroup struct {
	Type     accounting.AccountType `json:"type"`
	Accounts []TrialBalanceAccount  `json:"accounts"`
	Debit    decimal.Decimal        `json:"debit"`
	Credit   decimal.Decimal        `json:"credit"`
}

// TrialBalance lists every account balance; Balanced holds whenever every
// posted entry was balanced.
type TrialBalance struct {
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  decimal.Decimal     `json:"total_debit"`
	TotalCredit decimal.Decimal     `json:"total_credit"`
	Balanced    bool                `json:"balanced"`
}

var typeOrder = map[accounting.AccountType]int{
	accounting.AccountTypeAsset:     0,
	accounting.AccountTypeLiability: 1,
	accounting.AccountTypeEquity:    2,
	accounting.AccountTypeRevenue:   3,
	accounting.AccountTypeExpense:   4,
}

// BuildTrialBalance places each balance in the column of its normal side, or the
// opposite column when the balance is negative.
func BuildTrialBalance(accounts []accounting.Account) TrialBalance {
	groups := make(map[accounting.AccountType]*TrialBalanceGroup)
	tb := TrialBalance{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, acc := range accounts {
		grp, ok := groups[acc.Type]
		if !ok {
			grp = &TrialBalanceGroup{Type: acc.Type, Debit: decimal.Zero, Credit: decimal.Zero}
			groups[acc.Type] = grp
		}
		row := TrialBalanceAccount{Code: acc.Code, Name: acc.Name, Debit: decimal.Zero, Credit: decimal.Zero}
		onDebit := acc.Type.DebitNormal() != acc.Balance.IsNegative()
		if onDebit {
			row.Debit = acc.Balance.Abs()
		} else {
			row.Credit = acc.Balance.Abs()
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.Debit = grp.Debit.Add(row.Debit)
		grp.Credit = grp.Credit.Add(row.Credit)
		tb.TotalDebit = tb.TotalDebit.Add(row.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(row.Credit)
	}
	for _, grp := range groups {
		sort.Slice(grp.Accounts, func(i, j int) bool { return grp.Accounts[i].Code < grp.Accounts[j].Code })
		tb.Groups = append(tb.Groups, *grp)
	}
	sort.Slice(tb.Groups, func(i, j int) bool { return typeOrder[tb.Groups[i].Type] < typeOrder[tb.Groups[j].Type] })
	tb.Balanced = tb.TotalDebit.Equal(tb.TotalCredit)
	return tb
}

// TrialBalanceFor loads the chart and builds its trial balance.
func TrialBalanceFor(ctx context.Context, accounts AccountLister) (TrialBalance, error) {
	list, err := accounts.ListAccounts(ctx)
	if err != nil {
		return TrialBalance{}, err
	}
	return BuildTrialBalance(list), nil
}
