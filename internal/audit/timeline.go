package audit

import (
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// TimelineFilters narrows the audit timeline.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  *int64
	Entity   string
	EntityID string
	Action   string
	Page     int
	PerPage  int
}

// Entry is one audit_logs row.
type Entry struct {
	ID       int64          `json:"id"`
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// Result is a page of the timeline.
type Result struct {
	Entries    []Entry           `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}
