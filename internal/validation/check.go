package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"chatguard/internal/models"
)

const (
	maxIDLen          = 191
	maxMessageRuneLen = 4000
)

// ValidateUserID rejects blank, oversized, or control-character IDs.
func ValidateUserID(userID string) error {
	return validateID("user_id", userID)
}

// ValidateCheck validates a moderation check request. Errors are
// VALIDATION_ERROR AppErrors.
func ValidateCheck(userID, chatID, message string) error {
	if err := validateID("user_id", userID); err != nil {
		return err
	}
	if err := validateID("chat_id", chatID); err != nil {
		return err
	}
	return validateMessage(message)
}

func validateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return models.NewValidationError(field + " is required")
	}
	if len(id) > maxIDLen {
		return models.NewValidationError(field + " is too long")
	}
	if !utf8.ValidString(id) || strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return models.NewValidationError(field + " contains invalid characters")
	}
	return nil
}

func validateMessage(message string) error {
	if !utf8.ValidString(message) {
		return models.NewValidationError("message is not valid UTF-8")
	}
	if strings.TrimSpace(message) == "" {
		return models.NewValidationError("message is required")
	}
	if utf8.RuneCountInString(message) > maxMessageRuneLen {
		return models.NewValidationError("message is too long")
	}
	return nil
}
