package errors

import (
	"errors"
)

// As is a wrapper around errors.As, since this package shadows the standard one.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is a wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New is a wrapper around errors.New.
func New(text string) error {
	return errors.New(text)
}

// StatusCode returns the HTTP status carried by err, or 500 when err is not
// an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if As(err, &apiErr) {
		return apiErr.Code
	}
	return 500
}
