package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

const (
	defaultRange = 7 * 24 * time.Hour
	maxRange     = 90 * 24 * time.Hour
	maxExport    = 10000
)

// Repository reads audit_logs.
type Repository interface {
	Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, int, error)
}

// Service serves the audit timeline.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Timeline returns one page of entries newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	filters, err := s.normalize(filters)
	if err != nil {
		return Result{}, err
	}
	entries, total, err := s.repo.Timeline(ctx, filters, filters.PerPage, shared.Offset(filters.Page, filters.PerPage))
	if err != nil {
		return Result{}, fmt.Errorf("audit timeline: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Result{Entries: entries, Pagination: shared.NewPagination(filters.Page, filters.PerPage, total)}, nil
}

// Export writes every matching entry as CSV, capped at maxExport rows.
func (s *Service) Export(ctx context.Context, w io.Writer, filters TimelineFilters) error {
	filters, err := s.normalize(filters)
	if err != nil {
		return err
	}
	entries, _, err := s.repo.Timeline(ctx, filters, maxExport, 0)
	if err != nil {
		return fmt.Errorf("audit export: %w", err)
	}
	return WriteCSV(w, entries)
}

// WriteCSV serialises entries with a header row.
func WriteCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"At", "Actor", "Action", "Entity", "Entity ID", "Meta"}); err != nil {
		return err
	}
	for _, e := range entries {
		meta := ""
		if len(e.Meta) > 0 {
			raw, err := json.Marshal(e.Meta)
			if err != nil {
				return err
			}
			meta = string(raw)
		}
		if err := writer.Write([]string{
			e.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(e.ActorID, 10),
			e.Action,
			e.Entity,
			e.EntityID,
			meta,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func (s *Service) normalize(f TimelineFilters) (TimelineFilters, error) {
	if f.To.IsZero() {
		f.To = s.now().UTC()
	}
	if f.From.IsZero() {
		f.From = f.To.Add(-defaultRange)
	}
	if f.From.After(f.To) {
		return f, shared.NewValidationError("from must not be after to")
	}
	if f.To.Sub(f.From) > maxRange {
		return f, shared.NewValidationError("range must not exceed 90 days")
	}
	if f.ActorID != nil && *f.ActorID <= 0 {
		return f, shared.NewValidationError("actor_id must be positive")
	}
	f.Entity = strings.TrimSpace(f.Entity)
	f.EntityID = strings.TrimSpace(f.EntityID)
	f.Action = strings.TrimSpace(f.Action)
	f.Page, f.PerPage = shared.NormalizePage(f.Page, f.PerPage)
	return f, nil
}
