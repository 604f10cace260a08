package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

var (
	// ErrUnknownViolationKind is returned when a persisted violation tag has no mapping.
	ErrUnknownViolationKind = errors.New("unknown violation kind")
	// ErrUnknownActionKind is returned when a persisted action tag has no mapping.
	ErrUnknownActionKind = errors.New("unknown action kind")
	// ErrMissingRecordID is returned for a violation or action stored without an ID.
	ErrMissingRecordID = errors.New("record has no id")
	// ErrDecisionUnavailable means a decision could not be made durable.
	ErrDecisionUnavailable = errors.New("moderation decision unavailable")
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeDecisionUnavailable = "DECISION_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewUnavailableError wraps a persistence failure. It always unwraps to
// ErrDecisionUnavailable so callers can match on the sentinel.
func NewUnavailableError(err error) *AppError {
	if err == nil {
		err = ErrDecisionUnavailable
	} else if !errors.Is(err, ErrDecisionUnavailable) {
		err = fmt.Errorf("%w: %w", ErrDecisionUnavailable, err)
	}
	return &AppError{
		Code:    CodeDecisionUnavailable,
		Message: "Moderation decision unavailable",
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// IsValidationError reports whether err carries a VALIDATION_ERROR code.
func IsValidationError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeValidation
}

// StatusFor maps an error to the HTTP status the API should answer with.
func StatusFor(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeValidation:
			return fiber.StatusBadRequest
		case CodeDecisionUnavailable:
			return fiber.StatusServiceUnavailable
		}
	}
	if errors.Is(err, ErrDecisionUnavailable) {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// RespondWithError creates a standardized error response. Wrapped causes are
// only exposed for client errors; storage and classifier failures stay internal.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil && status < fiber.StatusInternalServerError {
			response.Details = appErr.Err.Error()
		}
	} else if status >= fiber.StatusInternalServerError {
		response = ErrorResponse{Error: "Internal server error", Code: CodeInternal}
	} else {
		response = ErrorResponse{Error: err.Error()}
	}

	return c.Status(status).JSON(response)
}
