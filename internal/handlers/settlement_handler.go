package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/slotwise/backend/internal/middleware"
	"github.com/slotwise/backend/internal/services"
)

// SettlementHandler exposes the invoice settlement operation.
type SettlementHandler struct {
	settlement *services.SettlementService
	validator  *services.ValidationHelper
}

func NewSettlementHandler(settlement *services.SettlementService) *SettlementHandler {
	return &SettlementHandler{
		settlement: settlement,
		validator:  services.NewValidationHelper(),
	}
}

// SettleInvoice settles the caller's invoice for a billing cycle at most
// once, guarded by the subject lock and the idempotency key.
func (h *SettlementHandler) SettleInvoice(w http.ResponseWriter, r *http.Request) {
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
		Cycle    string `json:"cycle" validate:"required"`
		Amount   int64  `json:"amount" validate:"required,gt=0"`
		Currency string `json:"currency" validate:"required,len=3"`
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

	result, err := h.settlement.SettleInvoice(r.Context(), subjectID, req.Cycle, req.Amount, req.Currency, idemKey)
	if err != nil {
		log.Printf("[SETTLEMENT] Settle failed for subject %s cycle %s: %v", subjectID, req.Cycle, err)
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
