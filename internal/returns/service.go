package returns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/settings"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const idempotencyModule = "returns"

// Audit actions written by the orchestrator.
const (
	AuditRequested = "REFUND_REQUESTED"
	AuditApproved  = "REFUND_APPROVED"
	AuditRejected  = "REFUND_REJECTED"
	AuditCompleted = "REFUND_COMPLETED"
)

// TxRepository is the unit of work for one return operation. A completion moves stock and posts
// journals through the same handle, so it commits or rolls back as a whole.
type TxRepository interface {
	inventory.TxRepository
	accounting.TxRepository
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrderItems(ctx context.Context, orderID int64) ([]OrderItem, error)
	HasRequestForOrder(ctx context.Context, orderID int64) (bool, error)
	InsertRequest(ctx context.Context, r Request) (Request, error)
	InsertItems(ctx context.Context, requestID int64, items []Item) ([]Item, error)
	// LockRequest loads the request and its items, locking the request row for update.
	LockRequest(ctx context.Context, id int64) (Request, error)
	UpdateRequest(ctx context.Context, r Request) error
	InsertAuditLog(ctx context.Context, log shared.AuditLog) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Request, error)
	List(ctx context.Context, filter ListFilter) ([]Request, int, error)
	GetOrder(ctx context.Context, id int64) (Order, error)
	HasRequestForOrder(ctx context.Context, orderID int64) (bool, error)
}

// SettingsProvider supplies the tax rate and refund window.
type SettingsProvider interface {
	Current(ctx context.Context) (settings.Settings, error)
}

// IdempotencyPort guards create against client retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// PayoutDispatcher hands an approved refund to the payment collaborator.
type PayoutDispatcher interface {
	EnqueueRefundPayout(ctx context.Context, requestID, orderID int64, amount decimal.Decimal, manual bool) error
}

// MetricsRecorder counts request outcomes and fatal conditions.
type MetricsRecorder interface {
	RecordRefund(status string)
	RecordIntegrityViolation(operation string)
}

// Service orchestrates return requests from eligibility to completed refund.
type Service struct {
	repo     RepositoryPort
	settings SettingsProvider
	idem     IdempotencyPort
	payouts  PayoutDispatcher
	metrics  MetricsRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service. idem, payouts and metrics are optional.
func NewService(repo RepositoryPort, settings SettingsProvider, idem IdempotencyPort, payouts PayoutDispatcher, metrics MetricsRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, settings: settings, idem: idem, payouts: payouts, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns a request with items.
func (s *Service) Get(ctx context.Context, id int64) (Request, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of requests.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return ListResult{}, shared.NewValidationError(fmt.Sprintf("returns: unknown status %q", filter.Status))
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	if items == nil {
		items = []Request{}
	}
	return ListResult{Requests: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

// CheckEligibility reports whether the order can be returned now. Ineligibility is a result,
// not an error.
func (s *Service) CheckEligibility(ctx context.Context, orderID int64) (Eligibility, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return Eligibility{}, err
	}
	exists, err := s.repo.HasRequestForOrder(ctx, orderID)
	if err != nil {
		return Eligibility{}, err
	}
	st, err := s.settings.Current(ctx)
	if err != nil {
		return Eligibility{}, fmt.Errorf("load settings: %w", err)
	}
	result, _ := Evaluate(order, exists, st.RefundWindowDays, s.now().UTC())
	return result, nil
}

// Create opens a PENDING request for selected order lines.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput, idempotencyKey string) (Request, error) {
	if !actor.Valid() {
		return Request{}, shared.ErrActorRequired
	}
	if err := validateCreate(input); err != nil {
		return Request{}, err
	}
	st, err := s.settings.Current(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("load settings: %w", err)
	}
	key := strings.TrimSpace(idempotencyKey)
	if key != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return Request{}, err
		}
	}
	var created Request
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		exists, err := tx.HasRequestForOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if _, err := Evaluate(order, exists, st.RefundWindowDays, now); err != nil {
			return err
		}
		orderItems, err := tx.ListOrderItems(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("list order items: %w", err)
		}
		purchased := make(map[int64]int, len(orderItems))
		for _, item := range orderItems {
			purchased[item.ID] = item.Quantity
		}
		items := make([]Item, 0, len(input.Items))
		for _, line := range input.Items {
			bought, ok := purchased[line.OrderItemID]
			if !ok {
				return fmt.Errorf("%w: order item %d", ErrUnknownOrderItem, line.OrderItemID)
			}
			if line.Quantity > bought {
				return fmt.Errorf("%w: order item %d bought %d, returning %d", ErrQuantityExceedsPurchased,
					line.OrderItemID, bought, line.Quantity)
			}
			items = append(items, Item{OrderItemID: line.OrderItemID, Quantity: line.Quantity})
		}
		r, err := tx.InsertRequest(ctx, Request{
			OrderID:     order.ID,
			Status:      StatusPending,
			Reason:      strings.TrimSpace(input.Reason),
			Description: strings.TrimSpace(input.Description),
			RequestedBy: actor.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("insert return request: %w", err)
		}
		if r.Items, err = tx.InsertItems(ctx, r.ID, items); err != nil {
			return fmt.Errorf("insert return items: %w", err)
		}
		created = r
		return tx.InsertAuditLog(ctx, s.auditEntry(actor, AuditRequested, r, map[string]any{
			"order_id": order.ID,
			"items":    len(r.Items),
		}))
	})
	if err != nil {
		if key != "" && s.idem != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			if delErr := s.idem.Delete(ctx, key, idempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return Request{}, s.fail("refund.create", 0, err)
	}
	s.record(StatusPending)
	s.logger.Info("return requested", slog.Int64("return_request_id", created.ID), slog.Int64("order_id", created.OrderID),
		slog.Int64("actor_id", actor.ID))
	return created, nil
}

// Approve records the refund amount to pay. No stock or money moves until completion.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id int64, amount *decimal.Decimal) (Request, error) {
	if amount != nil && !amount.IsPositive() {
		return Request{}, ErrInvalidAmount
	}
	st, err := s.settings.Current(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("load settings: %w", err)
	}
	r, err := s.transition(ctx, actor, id, StatusApproved, func(ctx context.Context, tx TxRepository, r *Request, now time.Time) (map[string]any, error) {
		order, err := tx.GetOrder(ctx, r.OrderID)
		if err != nil {
			return nil, err
		}
		// The window is judged at the time the customer asked, not when an admin got to it.
		if _, err := Evaluate(order, false, st.RefundWindowDays, r.CreatedAt); err != nil {
			return nil, err
		}
		orderItems, err := tx.ListOrderItems(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("list order items: %w", err)
		}
		b, err := ComputeRefund(order, orderItems, r.Items)
		if err != nil {
			return nil, err
		}
		approved := b.Refund
		if amount != nil {
			approved = amount.Round(2)
		}
		if approved.GreaterThan(order.Total) {
			return nil, fmt.Errorf("%w: %s > %s", ErrAmountExceedsTotal, approved, order.Total)
		}
		r.RefundAmount = &approved
		r.RequiresManualProcessing = order.RequiresManualRefund()
		r.ApprovedBy, r.ApprovedAt = &actor.ID, &now
		return map[string]any{
			"order_id":                   order.ID,
			"refund_amount":              approved.StringFixed(2),
			"requires_manual_processing": r.RequiresManualProcessing,
		}, nil
	})
	if err != nil {
		return Request{}, err
	}
	if s.payouts != nil {
		if err := s.payouts.EnqueueRefundPayout(ctx, r.ID, r.OrderID, *r.RefundAmount, r.RequiresManualProcessing); err != nil {
			s.logger.Warn("enqueue refund payout", slog.Int64("return_request_id", r.ID), slog.Any("error", err))
		}
	}
	return r, nil
}

// Reject closes a pending request with a customer-facing reason.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id int64, reason string) (Request, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < MinRejectReasonLength {
		return Request{}, ErrRejectReasonTooShort
	}
	return s.transition(ctx, actor, id, StatusRejected, func(_ context.Context, _ TxRepository, r *Request, now time.Time) (map[string]any, error) {
		note := "Rejected: " + reason
		r.AdminNote = &note
		r.RejectedBy, r.RejectedAt = &actor.ID, &now
		return map[string]any{"order_id": r.OrderID, "reason": reason}, nil
	})
}

// CompleteRefund restocks the returned lines and reverses revenue and COGS in one unit of work.
// Any failure leaves stock, ledger and request untouched.
func (s *Service) CompleteRefund(ctx context.Context, actor shared.Actor, id int64, txRef *string) (Completion, error) {
	st, err := s.settings.Current(ctx)
	if err != nil {
		return Completion{}, fmt.Errorf("load settings: %w", err)
	}
	if txRef != nil {
		trimmed := strings.TrimSpace(*txRef)
		txRef = nil
		if trimmed != "" {
			txRef = &trimmed
		}
	}
	var result Completion
	r, err := s.transition(ctx, actor, id, StatusCompleted, func(ctx context.Context, tx TxRepository, r *Request, now time.Time) (map[string]any, error) {
		order, err := tx.GetOrder(ctx, r.OrderID)
		if err != nil {
			return nil, err
		}
		orderItems, err := tx.ListOrderItems(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("list order items: %w", err)
		}
		b, err := ComputeRefund(order, orderItems, r.Items)
		if err != nil {
			return nil, err
		}
		result = Completion{RefundAmount: b.Refund, COGSReversed: decimal.Zero, Legacy: b.Legacy}

		ref := r.Reference()
		for _, line := range b.Lines {
			wh, err := inventory.ResolveReturnWarehouse(ctx, tx, line.Item.WarehouseID)
			if err != nil {
				return nil, err
			}
			if _, _, err := inventory.Apply(ctx, tx, inventory.Adjustment{
				WarehouseID:    wh.ID,
				VariantID:      line.Item.VariantID,
				DeltaAvailable: line.Quantity,
				Action:         inventory.ActionReturn,
				Quantity:       line.Quantity,
				Reference:      ref,
				Reason:         fmt.Sprintf("refund completed for order %d", order.ID),
				ActorID:        actor.ID,
				At:             now,
			}); err != nil {
				return nil, err
			}
			result.RestockedUnits += line.Quantity
		}

		if _, err := tx.FindEntryByOrder(ctx, order.ID, accounting.SourceRevenue); err == nil {
			if err := s.reverseLedger(ctx, tx, actor, *r, order, b, st.TaxRate, now, &result); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, accounting.ErrJournalNotFound) {
			return nil, fmt.Errorf("find revenue entry: %w", err)
		}

		note := "Refund completed (manual)"
		if txRef != nil {
			note = "Refund completed. Ref: " + *txRef
		}
		r.AdminNote, r.TransactionRef = &note, txRef
		r.CompletedBy, r.CompletedAt = &actor.ID, &now
		meta := map[string]any{
			"order_id":        order.ID,
			"refund_amount":   b.Refund.StringFixed(2),
			"cogs_reversed":   result.COGSReversed.StringFixed(2),
			"ledger_reversed": result.LedgerReversed,
			"legacy":          b.Legacy,
		}
		if txRef != nil {
			meta["transaction_ref"] = *txRef
		}
		return meta, nil
	})
	if err != nil {
		return Completion{}, err
	}
	result.Request = r
	return result, nil
}

func (s *Service) reverseLedger(ctx context.Context, tx TxRepository, actor shared.Actor, r Request, order Order, b Breakdown, rate decimal.Decimal, now time.Time, result *Completion) error {
	ref := r.Reference()
	if b.Refund.IsPositive() {
		net, tax := SplitTax(b.Refund, rate)
		var lines []accounting.PostingLineInput
		if net.IsPositive() {
			lines = append(lines, accounting.Debit(accounting.CodeSalesRevenue, net, "revenue reversal"))
		}
		if tax.IsPositive() {
			lines = append(lines, accounting.Debit(accounting.CodeSalesTaxPayable, tax, "sales tax reversal"))
		}
		lines = append(lines, accounting.Credit(accounting.CodeCash, b.Refund, "refund paid"))
		entry, err := accounting.Post(ctx, tx, accounting.PostingInput{
			Description: fmt.Sprintf("Refund %s for order %d", ref, order.ID),
			Reference:   ref,
			Date:        now,
			OrderID:     &order.ID,
			Source:      accounting.SourceRefund,
			SourceID:    sourceID(r.ID, "refund"),
			PostedBy:    actor.ID,
			Lines:       lines,
		})
		if err != nil {
			return fmt.Errorf("post refund entry: %w", err)
		}
		result.LedgerReversed = true
		result.RevenueEntryID = &entry.ID
	}
	if b.COGS.IsPositive() {
		entry, err := accounting.Post(ctx, tx, accounting.PostingInput{
			Description: fmt.Sprintf("Inventory returned %s for order %d", ref, order.ID),
			Reference:   ref,
			Date:        now,
			OrderID:     &order.ID,
			Source:      accounting.SourceCOGSReversal,
			SourceID:    sourceID(r.ID, "cogs"),
			PostedBy:    actor.ID,
			Lines: []accounting.PostingLineInput{
				accounting.Debit(accounting.CodeInventory, b.COGS, "goods returned to stock"),
				accounting.Credit(accounting.CodeCOGS, b.COGS, "cost of goods reversed"),
			},
		})
		if err != nil {
			return fmt.Errorf("post cogs reversal: %w", err)
		}
		result.COGSReversed = b.COGS
		result.COGSEntryID = &entry.ID
	}
	return nil
}

type mutation func(ctx context.Context, tx TxRepository, r *Request, now time.Time) (map[string]any, error)

// transition runs one status change as a single unit of work: lock, guard, mutate, persist, audit.
func (s *Service) transition(ctx context.Context, actor shared.Actor, id int64, to Status, apply mutation) (Request, error) {
	if !actor.Valid() {
		return Request{}, shared.ErrActorRequired
	}
	action := auditAction(to)
	operation := "refund." + strings.ToLower(string(to))
	var result Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.LockRequest(ctx, id)
		if err != nil {
			return err
		}
		if err := Guard(r.Status, to); err != nil {
			return err
		}
		now := s.now().UTC()
		meta, err := apply(ctx, tx, &r, now)
		if err != nil {
			return err
		}
		from := r.Status
		r.Status = to
		r.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return fmt.Errorf("update return request: %w", err)
		}
		if meta == nil {
			meta = map[string]any{}
		}
		meta["from_status"] = string(from)
		meta["to_status"] = string(to)
		result = r
		return tx.InsertAuditLog(ctx, s.auditEntry(actor, action, r, meta))
	})
	if err != nil {
		return Request{}, s.fail(operation, id, err)
	}
	s.record(to)
	s.logger.Info("refund "+strings.ToLower(string(to)), slog.Int64("return_request_id", result.ID),
		slog.Int64("order_id", result.OrderID), slog.Int64("actor_id", actor.ID))
	return result, nil
}

func (s *Service) fail(operation string, id int64, err error) error {
	if shared.IsIntegrity(err) {
		s.logger.Error("refund aborted", slog.String("operation", operation), slog.Int64("return_request_id", id),
			slog.Any("error", err))
		if s.metrics != nil {
			s.metrics.RecordIntegrityViolation(operation)
		}
	}
	return err
}

func (s *Service) record(status Status) {
	if s.metrics != nil {
		s.metrics.RecordRefund(string(status))
	}
}

func (s *Service) auditEntry(actor shared.Actor, action string, r Request, meta map[string]any) shared.AuditLog {
	return shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "RETURN_REQUEST",
		EntityID: fmt.Sprintf("%d", r.ID),
		Meta:     meta,
		At:       s.now(),
	}
}

func auditAction(to Status) string {
	switch to {
	case StatusApproved:
		return AuditApproved
	case StatusRejected:
		return AuditRejected
	case StatusCompleted:
		return AuditCompleted
	default:
		return AuditRequested
	}
}

// sourceID derives a stable journal source so the same request can never post twice.
func sourceID(requestID int64, purpose string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("return:%d:%s", requestID, purpose)))
}

func validateCreate(input CreateInput) error {
	if input.OrderID <= 0 {
		return shared.NewValidationError("returns: order_id is required")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return shared.NewValidationError("returns: reason is required")
	}
	if len(input.Items) == 0 {
		return shared.NewValidationError("returns: at least one item is required")
	}
	seen := make(map[int64]bool, len(input.Items))
	for _, item := range input.Items {
		if item.OrderItemID <= 0 || item.Quantity <= 0 {
			return shared.NewValidationError("returns: items need an order_item_id and a positive quantity")
		}
		if seen[item.OrderItemID] {
			return fmt.Errorf("%w: order item %d", ErrDuplicateItem, item.OrderItemID)
		}
		seen[item.OrderItemID] = true
	}
	return nil
}
