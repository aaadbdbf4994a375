// Package services defines the business logic for direct messages and
// translation. This file centralizes service-level error values so that they
// can be returned by service methods and mapped to HTTP statuses by handlers.
//
// Taxonomy:
//   - *ValidationError: a violated precondition on the input (400)
//   - ErrForbidden: the caller is not allowed to act on the message (403)
//   - ErrMessageNotFound: missing or already deleted (404)
//   - ErrAttachmentStore and translate.* sentinels: upstream failures
//
// Anything else is an internal fault.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned when a message has neither text nor image.
	ErrEmptyMessage = errors.New("message must contain text or an image")

	// ErrTextTooLong is returned when text exceeds the configured rune limit.
	ErrTextTooLong = errors.New("text too long")

	// ErrMissingReceiver is returned when the receiver identity is blank.
	ErrMissingReceiver = errors.New("receiver is required")

	// ErrMissingText is returned by Translate when no text is supplied.
	ErrMissingText = errors.New("text is required")

	// ErrMissingTargetLanguage is returned by Translate when no target is supplied.
	ErrMissingTargetLanguage = errors.New("target language is required")

	// ErrInvalidImage wraps attachment decoding failures.
	ErrInvalidImage = errors.New("invalid image")

	// ErrMessageNotFound indicates that the message does not exist or was
	// already deleted.
	ErrMessageNotFound = errors.New("message not found")

	// ErrForbidden is returned when the caller may not act on a message.
	ErrForbidden = errors.New("forbidden")

	// ErrAttachmentStore is returned when the blob store rejects an upload.
	ErrAttachmentStore = errors.New("attachment store unavailable")
)

// ValidationError carries the specific precondition a request violated.
// Its message is safe to return to the caller verbatim.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error, detail string) error {
	return &ValidationError{Err: err, Detail: detail}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
