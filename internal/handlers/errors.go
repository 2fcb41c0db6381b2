package handlers

import (
	"errors"
	"net/http"

	"github.com/slotwise/backend/internal/models"
	"github.com/slotwise/backend/internal/services"
)

// statusFor maps core errors to HTTP statuses. Retryable outcomes
// (exclusivity not established, replay wait exceeded, transient provider
// failure) map to 5xx; definite business rejections map to 4xx.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrCapacityExceeded),
		errors.Is(err, models.ErrAlreadyReleased),
		errors.Is(err, models.ErrAlreadySettled),
		errors.Is(err, models.ErrReservationNotCancellable):
		return http.StatusConflict
	case errors.Is(err, models.ErrResourceNotFound),
		errors.Is(err, models.ErrReservationNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrIdempotencyConflict):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrProviderDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrProviderError):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrLockTimeout),
		errors.Is(err, models.ErrLockExpired),
		errors.Is(err, models.ErrFencedWrite),
		errors.Is(err, models.ErrReplayTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sendCoreError(w http.ResponseWriter, err error) {
	services.SendCodedErrorResponse(w, err.Error(), models.ErrorCode(err), statusFor(err), nil)
}
