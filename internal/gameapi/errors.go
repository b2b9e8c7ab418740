package gameapi

import (
	"errors"
	"fmt"
)

// ErrIncompleteState is returned when an exchange is attempted with a login
// state the server has not completed yet.
var ErrIncompleteState = errors.New("login state is not completed")

// RequestError reports a failed call to the game login API. StatusCode is zero
// when the request never produced a response (transport failure).
type RequestError struct {
	Method     string
	URL        string // without query string
	StatusCode int
	Message    string // "message" field of the error body, if any
	Body       string // size-limited raw body
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s failed: %v", e.Method, e.URL, e.Err)
	}
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is a RequestError carrying the given status.
func IsStatus(err error, status int) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == status
}

// ValidationError reports a response payload that does not match its model.
type ValidationError struct {
	Model  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s payload: %s", e.Model, e.Reason)
	}
	return fmt.Sprintf("invalid %s payload: %s: %s", e.Model, e.Field, e.Reason)
}
