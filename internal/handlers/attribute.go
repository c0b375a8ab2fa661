package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/recipebook/apiserver/internal/services"
	"github.com/recipebook/apiserver/types"
)

// AttributeHandler serves the tag or ingredient collection of the
// authenticated user. One handler is mounted per kind.
type AttributeHandler struct {
	kind             types.AttributeKind
	attributeService *services.AttributeService
	validator        *requestValidator
}

func NewAttributeHandler(kind types.AttributeKind, attributeService *services.AttributeService) *AttributeHandler {
	return &AttributeHandler{
		kind:             kind,
		attributeService: attributeService,
		validator:        newRequestValidator(),
	}
}

// AttributeRouter registers list/get/rename/delete routes. There is no
// create route; attributes come into being through recipe writes.
func AttributeRouter(r chi.Router, handler *AttributeHandler) {
	r.Get("/", handler.ListAttributes)
	r.Route("/{attributeID}", func(r chi.Router) {
		r.Get("/", handler.GetAttribute)
		r.Patch("/", handler.RenameAttribute)
		r.Put("/", handler.RenameAttribute)
		r.Delete("/", handler.DeleteAttribute)
	})
}

func (h *AttributeHandler) ListAttributes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	assignedOnly, err := parseFlag(r.URL.Query().Get("assigned_only"))
	if err != nil {
		respondError(w, r, services.NewValidationError("assigned_only", "must be 0 or 1"))
		return
	}

	attrs, err := h.attributeService.List(r.Context(), h.kind, userID, types.AttributeListOptions{AssignedOnly: assignedOnly})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, attrs)
}

func (h *AttributeHandler) GetAttribute(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "attributeID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	attr, err := h.attributeService.Get(r.Context(), h.kind, userID, id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, attr)
}

func (h *AttributeHandler) RenameAttribute(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "attributeID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req AttributeRef
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		respondError(w, r, err)
		return
	}

	attr, err := h.attributeService.Rename(r.Context(), h.kind, userID, id, req.Name)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, attr)
}

func (h *AttributeHandler) DeleteAttribute(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "attributeID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.attributeService.Delete(r.Context(), h.kind, userID, id); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseFlag reads an optional 0/1 query flag; empty means false.
func parseFlag(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || (n != 0 && n != 1) {
		return false, strconv.ErrSyntax
	}
	return n == 1, nil
}
