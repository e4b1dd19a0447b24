package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Details = make(map[string]string)
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// EscrowErrorStatus maps a ledger failure to its HTTP status. Callers must
// treat any of these as "no state changed".
func EscrowErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidHashlock),
		errors.Is(err, ErrTimelockNotInFuture):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotReceiver),
		errors.Is(err, ErrNotSender),
		errors.Is(err, ErrInsufficientAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrNoSuchContract):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateHashlock),
		errors.Is(err, ErrAlreadySettled),
		errors.Is(err, ErrLedgerBusy):
		return http.StatusConflict
	case errors.Is(err, ErrHashMismatch),
		errors.Is(err, ErrTimelockNotExpired):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
