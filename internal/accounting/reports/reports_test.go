package reports_test

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/accounting/accountingtest"
	"github.com/odyssey-erp/backoffice/internal/accounting/reports"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildTrialBalance(t *testing.T) {
	tb := reports.BuildTrialBalance([]accounting.Account{
		{Code: "4000", Name: "Sales Revenue", Type: accounting.AccountTypeRevenue, Balance: dec("110")},
		{Code: "1000", Name: "Cash", Type: accounting.AccountTypeAsset, Balance: dec("110")},
		{Code: "5000", Name: "COGS", Type: accounting.AccountTypeExpense, Balance: dec("60")},
		{Code: "1200", Name: "Inventory", Type: accounting.AccountTypeAsset, Balance: dec("-60")},
	})

	require.Len(t, tb.Groups, 3)
	require.Equal(t, accounting.AccountTypeAsset, tb.Groups[0].Type)
	require.Equal(t, "1000", tb.Groups[0].Accounts[0].Code)
	require.True(t, tb.Groups[0].Accounts[1].Credit.Equal(dec("60")), "negative asset lands in credit")
	require.Equal(t, accounting.AccountTypeExpense, tb.Groups[2].Type)
	require.True(t, tb.TotalDebit.Equal(dec("170")))
	require.True(t, tb.TotalCredit.Equal(dec("170")))
	require.True(t, tb.Balanced)

	tb = reports.BuildTrialBalance([]accounting.Account{
		{Code: "1000", Type: accounting.AccountTypeAsset, Balance: dec("5")},
	})
	require.False(t, tb.Balanced)
}

func TestTrialBalanceStaysBalancedAfterRandomPostings(t *testing.T) {
	ledger := accountingtest.NewLedger()
	rng := rand.New(rand.NewSource(42))
	codes := []string{accounting.CodeCash, accounting.CodeInventory, accounting.CodeSalesTaxPayable,
		accounting.CodeSalesRevenue, accounting.CodeCOGS}
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		amount := decimal.New(int64(rng.Intn(100000)+1), -2)
		d := rng.Intn(len(codes))
		debit, credit := codes[d], codes[(d+1+rng.Intn(len(codes)-1))%len(codes)]
		err := ledger.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			_, err := accounting.Post(ctx, tx, accounting.PostingInput{
				Description: "random",
				Source:      accounting.SourceManual,
				SourceID:    uuid.New(),
				PostedBy:    1,
				Lines: []accounting.PostingLineInput{
					accounting.Debit(debit, amount, ""),
					accounting.Credit(credit, amount, ""),
				},
			})
			return err
		})
		require.NoError(t, err)
	}

	tb, err := reports.TrialBalanceFor(ctx, ledger)
	require.NoError(t, err)
	require.True(t, tb.Balanced, "debit %s credit %s", tb.TotalDebit, tb.TotalCredit)
}

func TestTrialBalanceHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/reports", reports.NewHandler(nil, accountingtest.NewLedger()).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reports/trial-balance", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"balanced":true`)
}
