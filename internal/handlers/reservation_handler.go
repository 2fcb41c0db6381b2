package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/slotwise/backend/internal/middleware"
	"github.com/slotwise/backend/internal/services"
)

const maxBodyBytes = 1_048_576 // 1 MB

// ReservationHandler exposes the reserve/cancel operations. The
// Idempotency-Key header is mandatory on every mutating route.
type ReservationHandler struct {
	settlement *services.SettlementService
	validator  *services.ValidationHelper
}

func NewReservationHandler(settlement *services.SettlementService) *ReservationHandler {
	return &ReservationHandler{
		settlement: settlement,
		validator:  services.NewValidationHelper(),
	}
}

// CreateReservation reserves one unit of a resource for the caller.
func (h *ReservationHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := middleware.Subject(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		services.SendErrorResponse(w, "Idempotency-Key header is required", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		ResourceID string `json:"resource_id" validate:"required"`
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

	result, err := h.settlement.ReserveAndConfirm(r.Context(), subjectID, req.ResourceID, idemKey)
	if err != nil {
		log.Printf("[RESERVATION] Reserve failed for subject %s resource %s: %v", subjectID, req.ResourceID, err)
		sendCoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if result.Replayed {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(result)
}

// CancelReservation releases a reservation and quotes/executes the refund.
func (h *ReservationHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.Subject(r.Context()); !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		services.SendErrorResponse(w, "Idempotency-Key header is required", http.StatusBadRequest, nil)
		return
	}

	reservationID := chi.URLParam(r, "reservationId")

	var req struct {
		ReceiptRef string    `json:"receipt_ref"`
		BaseAmount int64     `json:"base_amount" validate:"required,gt=0"`
		EventTime  time.Time `json:"event_time" validate:"required"`
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

	result, err := h.settlement.CancelAndRefund(r.Context(), reservationID, req.ReceiptRef, req.BaseAmount, req.EventTime, idemKey)
	if err != nil {
		log.Printf("[RESERVATION] Cancel failed for %s: %v", reservationID, err)
		sendCoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
