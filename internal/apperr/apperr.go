package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kinds of failure surfaced by the settlement core. Domain packages declare
// their own sentinels with New so callers can match either the precise error
// or its kind with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidCoupon     = errors.New("invalid coupon")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation error")
	ErrInternal          = errors.New("internal error")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// New returns a sentinel error carrying msg that matches kind under errors.Is.
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Validation builds an ad-hoc validation error.
func Validation(format string, args ...any) error {
	return New(ErrValidation, fmt.Sprintf(format, args...))
}

// Internal wraps an unexpected persistence failure.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}

// Wrap passes classified errors and context errors through unchanged and
// treats anything else as an internal failure of op.
func Wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case Classified(err):
		return err
	}
	return Internal(op, err)
}

// Classified reports whether err carries one of the kinds above.
func Classified(err error) bool {
	for _, kind := range []error{ErrNotFound, ErrInsufficientFunds, ErrInvalidCoupon, ErrConflict, ErrValidation, ErrInternal} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// HTTPStatus maps an error to the response status handlers should use.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCoupon):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage hides internal details from API clients.
func PublicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
