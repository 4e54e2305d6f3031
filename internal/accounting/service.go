package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListAccounts(ctx context.Context) ([]Account, error)
	GetAccount(ctx context.Context, code string) (Account, error)
	GetJournal(ctx context.Context, id int64) (JournalEntry, error)
	ListJournalsByOrder(ctx context.Context, orderID int64) ([]JournalEntry, error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IntegrityRecorder counts fatal ledger conditions.
type IntegrityRecorder interface {
	RecordIntegrityViolation(operation string)
}

// Service coordinates manual postings and ledger reads.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	logger  *slog.Logger
	metrics IntegrityRecorder
	now     func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, metrics IntegrityRecorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateJournalEntry posts a manual entry. A non-empty idempotency key derives the source id so
// a replayed request fails with ErrSourceAlreadyLinked instead of posting twice.
func (s *Service) CreateJournalEntry(ctx context.Context, actor shared.Actor, input CreateJournalInput, idempotencyKey string) (JournalEntry, error) {
	if !actor.Valid() {
		return JournalEntry{}, shared.ErrActorRequired
	}
	sourceID := uuid.New()
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		sourceID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("journal:"+key))
	}
	date := s.now().UTC()
	if input.Date != nil {
		date = input.Date.UTC()
	}
	posting := PostingInput{
		Description: input.Description,
		Reference:   input.Reference,
		Date:        date,
		OrderID:     input.OrderID,
		Source:      SourceManual,
		SourceID:    sourceID,
		PostedBy:    actor.ID,
		Lines:       input.Lines,
	}
	if err := posting.Validate(); err != nil {
		if errors.Is(err, ErrBalanceMismatch) {
			return JournalEntry{}, fmt.Errorf("%w (%v)", ErrUnbalancedRequest, err)
		}
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = Post(ctx, tx, posting)
		return err
	})
	if err != nil {
		if shared.IsIntegrity(err) {
			s.logger.Error("journal posting aborted", slog.String("operation", "journal.post"),
				slog.Int64("actor_id", actor.ID), slog.Any("error", err))
			if s.metrics != nil {
				s.metrics.RecordIntegrityViolation("journal.post")
			}
		}
		return JournalEntry{}, err
	}
	s.logger.Info("journal posted", slog.Int64("journal_id", entry.ID), slog.String("number", entry.Number),
		slog.Int64("actor_id", actor.ID))
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "journal.post",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"number":    entry.Number,
				"source":    entry.Source,
				"source_id": entry.SourceID.String(),
			},
			At: s.now(),
		}); err != nil {
			s.logger.Warn("audit journal post", slog.Any("error", err))
		}
	}
	return entry, nil
}

// ListAccounts returns the chart with balances.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.repo.ListAccounts(ctx)
}

// GetAccount returns one account by its fixed code.
func (s *Service) GetAccount(ctx context.Context, code string) (Account, error) {
	if strings.TrimSpace(code) == "" {
		return Account{}, ErrAccountNotFound
	}
	return s.repo.GetAccount(ctx, code)
}

// GetJournal returns an entry with lines.
func (s *Service) GetJournal(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.GetJournal(ctx, id)
}

// ListJournalsByOrder returns every entry linked to an order.
func (s *Service) ListJournalsByOrder(ctx context.Context, orderID int64) ([]JournalEntry, error) {
	return s.repo.ListJournalsByOrder(ctx, orderID)
}
