package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/slotwise/backend/internal/services"
)

// ResourceHandler exposes the administrative resource operations.
type ResourceHandler struct {
	ledger    *services.SQLCapacityLedger
	validator *services.ValidationHelper
}

func NewResourceHandler(ledger *services.SQLCapacityLedger) *ResourceHandler {
	return &ResourceHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// CreateResource registers a new finite-capacity resource.
func (h *ResourceHandler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID            string `json:"id" validate:"required"`
		TotalCapacity uint   `json:"total_capacity" validate:"required,gt=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBodyBytes))
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	resource, err := h.ledger.CreateResource(r.Context(), req.ID, req.TotalCapacity)
	if err != nil {
		log.Printf("[RESOURCE] Create failed for %s: %v", req.ID, err)
		services.SendErrorResponse(w, "Failed to create resource", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resource)
}

// GetResource returns current capacity counters for a resource.
func (h *ResourceHandler) GetResource(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceId")

	resource, err := h.ledger.GetResource(r.Context(), resourceID)
	if err != nil {
		sendCoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"resource":  resource,
		"available": resource.Available(),
	})
}
