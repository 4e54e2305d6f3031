package settings

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Settings holds store-wide policy read by the refund orchestrator.
type Settings struct {
	TaxRate          decimal.Decimal `json:"tax_rate"`
	RefundWindowDays int             `json:"refund_window_days"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Validate enforces 0 <= tax rate < 1 and a positive refund window.
func (s Settings) Validate() error {
	if s.TaxRate.IsNegative() || s.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidTaxRate
	}
	if s.RefundWindowDays <= 0 {
		return ErrInvalidWindow
	}
	return nil
}

// UpdateInput is the payload of PUT /settings.
type UpdateInput struct {
	TaxRate          decimal.Decimal `json:"tax_rate"`
	RefundWindowDays int             `json:"refund_window_days" validate:"required,gt=0,lte=365"`
}

var (
	// ErrSettingsNotFound is returned by the store when no row was ever written.
	ErrSettingsNotFound = errors.New("settings: no stored row")
	// ErrInvalidTaxRate rejects rates outside [0, 1).
	ErrInvalidTaxRate = shared.NewValidationError("settings: tax rate must be between 0 and 1")
	// ErrInvalidWindow rejects a non-positive refund window.
	ErrInvalidWindow = shared.NewValidationError("settings: refund window must be positive")
)
