package httpadapter

import (
	"net/http"

	"github.com/reglens/reglens/internal/core/domain"
)

// mapErrorToHTTPStatus only ever sees the failures the pipeline cannot
// absorb. Everything recoverable is already folded into diagnostics and
// served as 200.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
