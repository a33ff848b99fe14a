package api

import "errors"

var (
	// ErrInvalidRequest is wrapped by every client mistake answered with 400.
	ErrInvalidRequest = errors.New("invalid request")
	errBodyTooLarge   = errors.New("request body too large")
)

// requestError is a client mistake that maps to a 400 response.
type requestError struct {
	msg string
}

func (e requestError) Error() string { return e.msg }

func (e requestError) Unwrap() error { return ErrInvalidRequest }

func newInvalidRequest(msg string) error {
	return requestError{msg: msg}
}
