package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/recipebook/apiserver/internal/services"
)

const maxJSONBodyBytes = 1 << 20

var errBodyTooLarge = errors.New("request body must not exceed 1 MiB")

type contextKey string

const contextSubjectKey contextKey = "sub"

// ErrorResponse is the error payload. Fields carries per-field messages
// for invalid input.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func withUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, contextSubjectKey, userID)
}

func userIDFromContext(ctx context.Context) (int, error) {
	value := ctx.Value(contextSubjectKey)
	switch subject := value.(type) {
	case int:
		if subject < 1 {
			return 0, errors.New("invalid subject")
		}
		return subject, nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(subject))
		if err != nil || parsed < 1 {
			return 0, errors.New("invalid subject")
		}
		return parsed, nil
	default:
		return 0, errors.New("missing subject")
	}
}

// requireUserID reads the authenticated user id or writes a 401.
func requireUserID(w http.ResponseWriter, r *http.Request) (int, bool) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	return userID, true
}

// pathID parses a positive int4 URL parameter. Anything else is reported
// as not found, like a missing row.
func pathID(r *http.Request, name string) (int, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 32)
	if err != nil || id < 1 {
		return 0, services.ErrNotFound
	}
	return int(id), nil
}

// decodeJSON reads a JSON body into dst. Unknown fields are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return services.NewValidationError(typeErr.Field, fmt.Sprintf("must be a %s", typeErr.Type))
		}
		return services.NewValidationError("", "malformed JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
