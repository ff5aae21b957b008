package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoURLs                = errors.New("no urls to request")
	ErrBrowserNotInitialized = errors.New("browser is not initialized")
	ErrPageNotOpened         = errors.New("page was not opened")
)

// FailureKind classifies why a backoff loop did not end in a clean success.
type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureRejected  FailureKind = "rejected"
	FailureExhausted FailureKind = "exhausted"
)

// Failure describes an unsuccessful outcome. Last holds the last response
// received, if any.
type Failure struct {
	Kind     FailureKind
	Attempts int
	Last     *Response
	Err      error
}

func (f *Failure) Error() string {
	switch {
	case f.Err != nil:
		return fmt.Sprintf("%s after %d attempts: %v", f.Kind, f.Attempts, f.Err)
	case f.Last != nil:
		return fmt.Sprintf("%s after %d attempts: status %d", f.Kind, f.Attempts, f.Last.StatusCode)
	default:
		return fmt.Sprintf("%s after %d attempts", f.Kind, f.Attempts)
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}
