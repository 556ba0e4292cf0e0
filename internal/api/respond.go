package api

import (
	"errors"
	"net/http"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/httputil"
)

// errorBody extends the standard envelope with the machine-readable fields
// the services attach to forbidden and rate-limited errors.
type errorBody struct {
	Error              string `json:"error"`
	RequiredPermission string `json:"required_permission,omitempty"`
	RetryAfterSeconds  int    `json:"retry_after_seconds,omitempty"`
}

// writeError maps a typed core error to its canonical HTTP response.
func writeError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		httputil.InternalError(w, err)
		return
	}
	body := errorBody{Error: de.Message}
	switch de.Kind {
	case domain.KindValidation:
		httputil.JSON(w, http.StatusBadRequest, body)
	case domain.KindNotFound:
		httputil.JSON(w, http.StatusNotFound, body)
	case domain.KindUnauthorized:
		httputil.JSON(w, http.StatusUnauthorized, body)
	case domain.KindForbidden:
		body.RequiredPermission = de.RequiredPermission
		httputil.JSON(w, http.StatusForbidden, body)
	case domain.KindRateLimited:
		body.RetryAfterSeconds = de.RetryAfterSeconds
		httputil.JSON(w, http.StatusTooManyRequests, body)
	case domain.KindImmutability, domain.KindConflict, domain.KindOptimisticConflict:
		httputil.JSON(w, http.StatusConflict, body)
	default:
		httputil.InternalError(w, err)
	}
}
