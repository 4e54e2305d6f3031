package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ErrBadRequest marks malformed transport input (body, path or query).
var ErrBadRequest = shared.NewValidationError("bad request")

// StatusFor maps an error tier to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrIntegrity):
		return http.StatusInternalServerError
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err using the {"error": ...} contract. Server-side failures never leak
// their cause to the caller.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		Error(w, status, http.StatusText(status))
		return
	}
	Error(w, status, err.Error())
}
