package offlinesync

import (
	"errors"
	"fmt"
	"net/http"
)

// RequestFailedMessage is the only error text surfaced to callers.
const RequestFailedMessage = "Request failed"

var (
	ErrPersistence = errors.New("persistence failure")
	ErrReplay      = errors.New("replay failure")
)

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// ReplayFailure describes the record that stopped a drain.
type ReplayFailure struct {
	ID              int64  `json:"id"`
	StatusCode      int    `json:"statusCode,omitempty"`
	Message         string `json:"message"`
	StaleCredential bool   `json:"staleCredential,omitempty"`
	Err             error  `json:"-"`
}

func (f *ReplayFailure) Error() string {
	return fmt.Sprintf("replay of mutation %d failed: %s", f.ID, f.Message)
}

func (f *ReplayFailure) Unwrap() error {
	return f.Err
}

func newReplayFailure(id int64, err error) *ReplayFailure {
	failure := &ReplayFailure{
		ID:      id,
		Message: err.Error(),
		Err:     err,
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		failure.StatusCode = httpErr.StatusCode
		failure.StaleCredential = httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden
	}
	return failure
}

func statusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
