package handlers

import (
	"errors"
	"net/http"

	"github.com/recipebook/apiserver/internal/logger"
	"github.com/recipebook/apiserver/internal/services"
)

var errorStatusMap = map[error]int{
	services.ErrNotFound:           http.StatusNotFound,
	services.ErrValidation:         http.StatusBadRequest,
	services.ErrConflict:           http.StatusConflict,
	services.ErrInvalidCredentials: http.StatusUnauthorized,
	services.ErrPrecondition:       http.StatusInternalServerError,
	errBodyTooLarge:                http.StatusRequestEntityTooLarge,
}

func statusFromError(err error) int {
	for target, status := range errorStatusMap {
		if errors.Is(err, target) {
			return status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes err as a JSON error body with the mapped status.
// Server-side failures are logged; their details never reach the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	resp := ErrorResponse{Error: http.StatusText(status)}

	switch {
	case status >= http.StatusInternalServerError:
		log := logger.FromRequest(r)
		if errors.Is(err, services.ErrPrecondition) {
			log.Error().Err(err).Msg("invariant violated while serving request")
		} else {
			log.Error().Err(err).Msg("request failed")
		}
	case status == http.StatusBadRequest:
		resp.Error = "invalid request"
		var fields fieldErrors
		var verr *services.ValidationError
		switch {
		case errors.As(err, &fields):
			resp.Fields = fields
		case errors.As(err, &verr) && verr.Field != "":
			resp.Fields = map[string]string{verr.Field: verr.Message}
		default:
			resp.Error = err.Error()
		}
	case status == http.StatusNotFound:
		resp.Error = "not found"
	case status == http.StatusConflict:
		resp.Error = "already exists"
	case status == http.StatusUnauthorized:
		resp.Error = "invalid credentials"
	case status == http.StatusRequestEntityTooLarge:
		resp.Error = errBodyTooLarge.Error()
	}

	writeJSON(w, status, resp)
}
