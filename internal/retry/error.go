// Package retry runs fallible external calls with classification-aware backoff.
package retry

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Class tags a failure with the retry decision it implies.
type Class int

const (
	// ClassRetryable covers network errors, timeouts, 5xx and anything untagged.
	ClassRetryable Class = iota
	// ClassRateLimited is a 429 or provider-specific throttle signal.
	ClassRateLimited
	// ClassTerminal is a client error that will not succeed on retry.
	ClassTerminal
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassTerminal:
		return "terminal"
	default:
		return "retryable"
	}
}

// Error is a classified failure from an external call.
type Error struct {
	Class      Class
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Terminal tags err as non-retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassTerminal, Err: err}
}

// Retryable tags err as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassRetryable, Err: err}
}

// RateLimited tags err as throttled, with an optional server hint.
func RateLimited(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassRateLimited, RetryAfter: retryAfter, Err: err}
}

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(code int, header http.Header, body []byte) *Error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	e := &Error{
		StatusCode: code,
		Err:        fmt.Errorf("http %d: %s", code, snippet),
	}
	switch {
	case code == http.StatusTooManyRequests:
		e.Class = ClassRateLimited
		if header != nil {
			e.RetryAfter, _ = ParseRetryAfter(header.Get("Retry-After"))
		}
	case code == http.StatusRequestTimeout:
		e.Class = ClassRetryable
	case code >= 400 && code < 500:
		e.Class = ClassTerminal
	default:
		e.Class = ClassRetryable
	}
	return e
}

// Classify returns the tag carried by err. Untagged errors are retryable.
func Classify(err error) Class {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Class
	}
	return ClassRetryable
}

// IsTerminal reports whether err is tagged terminal.
func IsTerminal(err error) bool {
	return err != nil && Classify(err) == ClassTerminal
}

// maxRetryAfterSeconds keeps a delta-seconds hint within time.Duration.
const maxRetryAfterSeconds = math.MaxInt64 / int64(time.Second)

// ParseRetryAfter accepts delta-seconds or an HTTP date. Hints too large for a
// Duration saturate rather than wrap.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(min(seconds, maxRetryAfterSeconds)) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func asError(err error) (*Error, bool) {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged, true
	}
	return nil, false
}
