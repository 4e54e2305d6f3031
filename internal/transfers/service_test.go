package transfers_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/transfers"
)

const (
	whA     int64 = 1
	whB     int64 = 2
	variant int64 = 100
)

var admin = shared.Actor{ID: 7}

type fixture struct {
	svc      *transfers.Service
	repo     *memoryRepo
	idem     *memoryIdempotency
	notifier *notifierSpy
	metrics  *metricsSpy
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := newMemoryRepo()
	repo.AddWarehouse(whA, inventory.WarehouseTypeMain, true)
	repo.AddWarehouse(whB, inventory.WarehouseTypeBranch, true)
	f := fixture{
		repo:     repo,
		idem:     &memoryIdempotency{keys: map[string]bool{}},
		notifier: &notifierSpy{},
		metrics:  newMetricsSpy(),
	}
	f.svc = transfers.NewService(repo, f.idem, f.notifier, f.metrics, nil)
	f.svc.WithNow(func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) })
	return f
}

func (f fixture) create(t *testing.T, qty int) transfers.Transfer {
	t.Helper()
	tr, err := f.svc.Create(context.Background(), admin, transfers.CreateInput{
		FromWarehouseID: whA,
		ToWarehouseID:   whB,
		Items:           []transfers.CreateItem{{VariantID: variant, Quantity: qty}},
	}, "")
	require.NoError(t, err)
	return tr
}

func onHand(f fixture) int {
	return f.repo.Row(whA, variant).OnHand() + f.repo.Row(whB, variant).OnHand()
}

func TestScenarioTransferWithShrinkage(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 30, 0)
	ctx := context.Background()
	before := onHand(f)

	tr := f.create(t, 10)
	require.Equal(t, transfers.StatusPending, tr.Status)
	require.Equal(t, "TRF-000001", tr.Number)
	require.Equal(t, 30, f.repo.Row(whA, variant).Available, "create must not reserve")

	_, err := f.svc.Approve(ctx, admin, tr.ID)
	require.NoError(t, err)
	require.Equal(t, 20, f.repo.Row(whA, variant).Available)
	require.Equal(t, 10, f.repo.Row(whA, variant).Reserved)

	_, err = f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{})
	require.NoError(t, err)
	require.Equal(t, 20, f.repo.Row(whA, variant).Available)
	require.Equal(t, 0, f.repo.Row(whA, variant).Reserved)

	itemID := tr.Items[0].ID
	done, err := f.svc.Receive(ctx, admin, tr.ID, transfers.ReceiveInput{
		Items: []transfers.LineQuantity{{ItemID: itemID, Quantity: 8}},
	})
	require.NoError(t, err)
	require.Equal(t, transfers.StatusReceived, done.Status)
	require.Equal(t, 8, f.repo.Row(whB, variant).Available)
	require.Equal(t, 10, *done.Items[0].SentQty)
	require.Equal(t, 8, *done.Items[0].ReceivedQty)

	logs := f.repo.LogsFor(tr.Number)
	require.Len(t, logs, 3)
	require.Equal(t, inventory.ActionReserve, logs[0].Action)
	require.Equal(t, inventory.ActionTransferOut, logs[1].Action)
	require.Equal(t, -10, logs[1].Quantity)
	require.Equal(t, 20, logs[1].AvailableAfter)
	require.Equal(t, inventory.ActionTransferIn, logs[2].Action)
	require.Equal(t, 8, logs[2].Quantity)
	require.Equal(t, whB, logs[2].WarehouseID)

	// Conservation: the only change is the logged shipped-vs-received delta.
	shrinkage := -(logs[1].Quantity + logs[2].Quantity)
	require.Equal(t, 2, shrinkage)
	require.Equal(t, before-shrinkage, onHand(f))
}

func TestConservationWithoutLoss(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 12, 3)
	f.repo.Seed(whB, variant, 4, 0)
	ctx := context.Background()
	before := onHand(f)

	tr := f.create(t, 9)
	_, err := f.svc.Approve(ctx, admin, tr.ID)
	require.NoError(t, err)
	require.Equal(t, before, onHand(f))
	_, err = f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{})
	require.NoError(t, err)
	_, err = f.svc.Receive(ctx, admin, tr.ID, transfers.ReceiveInput{})
	require.NoError(t, err)

	require.Equal(t, before, onHand(f))
	require.Equal(t, 13, f.repo.Row(whB, variant).Available)
	require.Equal(t, 3, f.repo.Row(whA, variant).Reserved, "unrelated reservation untouched")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 5, 0)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, admin, transfers.CreateInput{FromWarehouseID: whA, ToWarehouseID: whA,
		Items: []transfers.CreateItem{{VariantID: variant, Quantity: 1}}}, "")
	require.ErrorIs(t, err, transfers.ErrInvalidRoute)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(ctx, admin, transfers.CreateInput{FromWarehouseID: whA, ToWarehouseID: whB}, "")
	require.ErrorIs(t, err, transfers.ErrEmptyTransfer)

	_, err = f.svc.Create(ctx, admin, transfers.CreateInput{FromWarehouseID: whA, ToWarehouseID: whB,
		Items: []transfers.CreateItem{{VariantID: variant, Quantity: 6}}}, "")
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	_, err = f.svc.Create(ctx, admin, transfers.CreateInput{FromWarehouseID: whA, ToWarehouseID: whB,
		Items: []transfers.CreateItem{{VariantID: variant, Quantity: 1}, {VariantID: variant, Quantity: 1}}}, "")
	require.ErrorIs(t, err, transfers.ErrDuplicateVariant)

	_, err = f.svc.Create(ctx, admin, transfers.CreateInput{FromWarehouseID: whA, ToWarehouseID: whB,
		Items: []transfers.CreateItem{{VariantID: 555, Quantity: 1}}}, "")
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.False(t, f.repo.Row(whA, 555).Exists, "failed create leaves no row behind")

	_, err = f.svc.Create(ctx, shared.Actor{}, transfers.CreateInput{}, "")
	require.ErrorIs(t, err, shared.ErrActorRequired)

	require.Empty(t, f.repo.transfers)
	require.Empty(t, f.repo.Logs())
}

func TestCreateRejectsInactiveWarehouse(t *testing.T) {
	f := newFixture(t)
	f.repo.AddWarehouse(3, inventory.WarehouseTypeBranch, false)
	f.repo.Seed(whA, variant, 5, 0)

	_, err := f.svc.Create(context.Background(), admin, transfers.CreateInput{FromWarehouseID: whA, ToWarehouseID: 3,
		Items: []transfers.CreateItem{{VariantID: variant, Quantity: 1}}}, "")
	require.ErrorIs(t, err, inventory.ErrWarehouseInactive)
}

func TestCreateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 5, 0)
	ctx := context.Background()
	input := transfers.CreateInput{FromWarehouseID: whA, ToWarehouseID: whB,
		Items: []transfers.CreateItem{{VariantID: variant, Quantity: 2}}}

	_, err := f.svc.Create(ctx, admin, input, "req-1")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, admin, input, "req-1")
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, f.repo.transfers, 1)

	input.Items[0].Quantity = 50
	_, err = f.svc.Create(ctx, admin, input, "req-2")
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.False(t, f.idem.keys["transfers:req-2"], "failed create releases its key")
}

func TestApproveTwiceMutatesOnce(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 30, 0)
	tr := f.create(t, 10)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, admin, tr.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, admin, tr.ID)
	require.ErrorIs(t, err, transfers.ErrInvalidState)
	require.ErrorIs(t, err, shared.ErrState)

	require.Equal(t, 20, f.repo.Row(whA, variant).Available)
	require.Equal(t, 10, f.repo.Row(whA, variant).Reserved)
	require.Len(t, f.repo.LogsFor(tr.Number), 1)
	require.Equal(t, 1, f.metrics.transitions[string(transfers.StatusApproved)])
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 30, 0)
	tr := f.create(t, 10)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Approve(context.Background(), admin, tr.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, shared.ErrState)
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 10, f.repo.Row(whA, variant).Reserved)
}

func TestApproveIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 30, 0)
	f.repo.Seed(whA, variant+1, 5, 0)
	ctx := context.Background()

	tr, err := f.svc.Create(ctx, admin, transfers.CreateInput{FromWarehouseID: whA, ToWarehouseID: whB,
		Items: []transfers.CreateItem{{VariantID: variant, Quantity: 10}, {VariantID: variant + 1, Quantity: 5}}}, "")
	require.NoError(t, err)

	// Stock moved elsewhere after creation; the create-time check is stale now.
	f.repo.Seed(whA, variant+1, 4, 0)

	_, err = f.svc.Approve(ctx, admin, tr.ID)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Equal(t, 30, f.repo.Row(whA, variant).Available)
	require.Equal(t, 0, f.repo.Row(whA, variant).Reserved)
	require.Empty(t, f.repo.LogsFor(tr.Number))

	got, err := f.svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, transfers.StatusPending, got.Status)
}

func TestApproveRollsBackOnAuditFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 30, 0)
	tr := f.create(t, 10)
	f.repo.failAudit = errors.New("audit insert failed")

	_, err := f.svc.Approve(context.Background(), admin, tr.ID)
	require.Error(t, err)
	require.Equal(t, 30, f.repo.Row(whA, variant).Available)
	require.Equal(t, 0, f.repo.Row(whA, variant).Reserved)
}

func TestCancelApprovedRestoresExactly(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 30, 2)
	tr := f.create(t, 10)
	ctx := context.Background()
	before := f.repo.Row(whA, variant)

	_, err := f.svc.Approve(ctx, admin, tr.ID)
	require.NoError(t, err)
	cancelled, err := f.svc.Cancel(ctx, admin, tr.ID, "customer order withdrawn")
	require.NoError(t, err)
	require.Equal(t, transfers.StatusCancelled, cancelled.Status)
	require.Equal(t, "customer order withdrawn", *cancelled.CancelReason)

	after := f.repo.Row(whA, variant)
	require.Equal(t, before.Available, after.Available)
	require.Equal(t, before.Reserved, after.Reserved)

	logs := f.repo.LogsFor(tr.Number)
	require.Len(t, logs, 2)
	require.Equal(t, inventory.ActionRelease, logs[1].Action)
}

func TestCancelPendingTouchesNoStock(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 30, 0)
	tr := f.create(t, 10)

	_, err := f.svc.Cancel(context.Background(), admin, tr.ID, "duplicate request")
	require.NoError(t, err)
	require.Equal(t, 30, f.repo.Row(whA, variant).Available)
	require.Empty(t, f.repo.LogsFor(tr.Number))
}

func TestCancelGuards(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 30, 0)
	tr := f.create(t, 10)
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, admin, tr.ID, "   ")
	require.ErrorIs(t, err, transfers.ErrCancelReasonRequired)

	_, err = f.svc.Approve(ctx, admin, tr.ID)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, admin, tr.ID, "too late now")
	require.ErrorIs(t, err, transfers.ErrInvalidState)

	_, err = f.svc.Cancel(ctx, admin, 999, "missing transfer")
	require.ErrorIs(t, err, transfers.ErrTransferNotFound)
}

func TestPartialShipmentReleasesRemainder(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 30, 0)
	tr := f.create(t, 10)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, admin, tr.ID)
	require.NoError(t, err)
	shipped, err := f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{
		Items: []transfers.LineQuantity{{ItemID: tr.Items[0].ID, Quantity: 6}},
	})
	require.NoError(t, err)
	require.Equal(t, 6, *shipped.Items[0].SentQty)

	row := f.repo.Row(whA, variant)
	require.Equal(t, 24, row.Available)
	require.Equal(t, 0, row.Reserved)

	received, err := f.svc.Receive(ctx, admin, tr.ID, transfers.ReceiveInput{})
	require.NoError(t, err)
	require.Equal(t, 6, *received.Items[0].ReceivedQty)
	require.Equal(t, 6, f.repo.Row(whB, variant).Available)
}

func TestOverShipmentDrawsFromAvailable(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 12, 0)
	tr := f.create(t, 10)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, admin, tr.ID)
	require.NoError(t, err)

	_, err = f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{
		Items: []transfers.LineQuantity{{ItemID: tr.Items[0].ID, Quantity: 13}},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Equal(t, 10, f.repo.Row(whA, variant).Reserved)

	_, err = f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{
		Items: []transfers.LineQuantity{{ItemID: tr.Items[0].ID, Quantity: 11}},
	})
	require.NoError(t, err)
	row := f.repo.Row(whA, variant)
	require.Equal(t, 1, row.Available)
	require.Equal(t, 0, row.Reserved)
}

func TestShipRejectsForeignItems(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 12, 0)
	tr := f.create(t, 10)
	ctx := context.Background()
	_, err := f.svc.Approve(ctx, admin, tr.ID)
	require.NoError(t, err)

	_, err = f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{Items: []transfers.LineQuantity{{ItemID: 404, Quantity: 1}}})
	require.ErrorIs(t, err, transfers.ErrUnknownItem)

	_, err = f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{Items: []transfers.LineQuantity{{ItemID: tr.Items[0].ID, Quantity: -1}}})
	require.ErrorIs(t, err, transfers.ErrNegativeQuantity)
}

func TestDuplicateItemOverrideRejected(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 12, 0)
	tr := f.create(t, 10)
	ctx := context.Background()
	_, err := f.svc.Approve(ctx, admin, tr.ID)
	require.NoError(t, err)
	itemID := tr.Items[0].ID

	_, err = f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{
		Items: []transfers.LineQuantity{{ItemID: itemID, Quantity: 2}, {ItemID: itemID, Quantity: 10}},
	})
	require.ErrorIs(t, err, transfers.ErrDuplicateItem)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, 10, f.repo.Row(whA, variant).Reserved)
	require.Equal(t, 2, f.repo.Row(whA, variant).Available)

	_, err = f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{})
	require.NoError(t, err)
	_, err = f.svc.Receive(ctx, admin, tr.ID, transfers.ReceiveInput{
		Items: []transfers.LineQuantity{{ItemID: itemID, Quantity: 10}, {ItemID: itemID, Quantity: 0}},
	})
	require.ErrorIs(t, err, transfers.ErrDuplicateItem)
	require.Equal(t, 0, f.repo.Row(whB, variant).Available)

	got, err := f.svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, transfers.StatusInTransit, got.Status)
}

func TestReceiveNothingRecordsLoss(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 12, 0)
	tr := f.create(t, 10)
	ctx := context.Background()
	before := onHand(f)

	_, err := f.svc.Approve(ctx, admin, tr.ID)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{})
	require.NoError(t, err)
	done, err := f.svc.Receive(ctx, admin, tr.ID, transfers.ReceiveInput{
		Items: []transfers.LineQuantity{{ItemID: tr.Items[0].ID, Quantity: 0}},
	})
	require.NoError(t, err)
	require.Equal(t, transfers.StatusReceived, done.Status)
	require.Equal(t, 0, *done.Items[0].ReceivedQty)

	logs := f.repo.LogsFor(tr.Number)
	require.Len(t, logs, 2)
	require.Equal(t, inventory.ActionTransferOut, logs[1].Action)
	require.Equal(t, before-10, onHand(f))

	received := f.repo.audits[len(f.repo.audits)-1]
	require.Equal(t, string(transfers.StatusReceived), received.Meta["to_status"])
	require.Equal(t, map[string]int{"100": -10}, received.Meta["discrepancies"])
	require.Equal(t, []int64{variant}, received.Meta["lost"])
}

func TestTransitionsOutOfOrder(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 12, 0)
	tr := f.create(t, 10)
	ctx := context.Background()

	_, err := f.svc.Ship(ctx, admin, tr.ID, transfers.ShipInput{})
	require.ErrorIs(t, err, transfers.ErrInvalidState)
	_, err = f.svc.Receive(ctx, admin, tr.ID, transfers.ReceiveInput{})
	require.ErrorIs(t, err, transfers.ErrInvalidState)
	require.Empty(t, f.repo.Logs())
}

func TestLowStockAlertAfterApprove(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 12, 0)
	tr := f.create(t, 10)

	_, err := f.svc.Approve(context.Background(), admin, tr.ID)
	require.NoError(t, err)
	require.Len(t, f.notifier.rows, 1)
	require.Equal(t, 2, f.notifier.rows[0].Available)
}

func TestZeroRowUpdateIsIntegrityViolation(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 12, 0)
	tr := f.create(t, 10)
	f.repo.ZeroRowUpdates = true

	_, err := f.svc.Approve(context.Background(), admin, tr.ID)
	require.True(t, shared.IsIntegrity(err))
	require.Equal(t, 1, f.metrics.violations["transfer.approve"])
	f.repo.ZeroRowUpdates = false
	require.Equal(t, 12, f.repo.Row(whA, variant).Available)
}

func TestListFiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 50, 0)
	for i := 0; i < 3; i++ {
		f.create(t, 1)
	}
	ctx := context.Background()
	_, err := f.svc.Approve(ctx, admin, 1)
	require.NoError(t, err)

	res, err := f.svc.List(ctx, transfers.ListFilter{Status: transfers.StatusPending})
	require.NoError(t, err)
	require.Len(t, res.Transfers, 2)
	require.Equal(t, 2, res.Pagination.Total)

	res, err = f.svc.List(ctx, transfers.ListFilter{PerPage: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, res.Transfers, 1)
	require.Equal(t, 2, res.Pagination.TotalPages)

	_, err = f.svc.List(ctx, transfers.ListFilter{Status: "LOST"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransitionTable(t *testing.T) {
	require.True(t, transfers.CanTransition(transfers.StatusPending, transfers.StatusApproved))
	require.True(t, transfers.CanTransition(transfers.StatusApproved, transfers.StatusCancelled))
	require.False(t, transfers.CanTransition(transfers.StatusInTransit, transfers.StatusCancelled))
	require.False(t, transfers.CanTransition(transfers.StatusApproved, transfers.StatusPending))
	for _, to := range []transfers.Status{transfers.StatusPending, transfers.StatusApproved, transfers.StatusInTransit, transfers.StatusCancelled} {
		require.False(t, transfers.CanTransition(transfers.StatusReceived, to))
		require.False(t, transfers.CanTransition(transfers.StatusCancelled, to))
	}
}
