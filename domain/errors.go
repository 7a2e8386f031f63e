package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimitExceeded the client has no tokens left and should back off
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidRequest a malformed currency code or a non-positive amount
	ErrInvalidRequest = errors.New("invalid request")
)

// ThrottledError is returned when admission is denied.
// It matches ErrRateLimitExceeded with errors.Is.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%v: retry after %v", ErrRateLimitExceeded, e.RetryAfter)
}

func (e *ThrottledError) Unwrap() error {
	return ErrRateLimitExceeded
}

// UpstreamError the quote provider failed, timed out or returned an incomplete response
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %v: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the upstream call ran out of time.
func (e *UpstreamError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// NewUpstreamError wraps err, leaving existing UpstreamErrors untouched.
func NewUpstreamError(op string, err error) error {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// BatchError names the first target that aborted a multi-target conversion.
type BatchError struct {
	Target Currency
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("convert to [%v]: %v", e.Target, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
