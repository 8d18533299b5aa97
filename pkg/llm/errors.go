// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrCancelled marks an abandoned invocation. It wraps context.Canceled
	// so callers can stop on errors.Is(err, context.Canceled).
	ErrCancelled = fmt.Errorf("agent call cancelled: %w", context.Canceled)

	// ErrProvidersExhausted is returned when every backend failed transiently.
	ErrProvidersExhausted = errors.New("all providers exhausted")
)

// ErrorClass drives the fallback decision for a failed invocation.
type ErrorClass int

const (
	// ClassTerminal errors fail the batch without fallback.
	ClassTerminal ErrorClass = iota
	// ClassTransient errors move the session to the next provider.
	ClassTransient
	// ClassCancelled errors stop processing without fallback or failure logs.
	ClassCancelled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassCancelled:
		return "cancelled"
	default:
		return "terminal"
	}
}

// transientMarkers are matched against error messages.
var transientMarkers = []string{
	"429", "500", "502", "503",
	"ECONNREFUSED", "ETIMEDOUT", "fetch failed",
	"timeout", "connection refused", "connection reset",
	"rate limit", "overloaded",
}

// abortErrorName is the error name SDKs report for an aborted request.
const abortErrorName = "AbortError"

// StatusError is a non-2xx reply from an HTTP backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, body)
}

// Classify inspects err. Context cancellation is checked first so an
// abandoned call never triggers fallback. An HTTP status is authoritative
// over anything its body says.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTerminal
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	var se *StatusError
	if !errors.As(err, &se) && IsCancellation(err) {
		return ClassCancelled
	}
	if IsTransient(err) {
		return ClassTransient
	}
	return ClassTerminal
}

// IsCancellation reports whether err is a user-initiated abort: a cancelled
// context or an error named AbortError. Status replies never are.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	return strings.Contains(err.Error(), abortErrorName)
}

// IsTransient reports whether err is a rate limit, server error, timeout or
// network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case 429, 500, 502, 503, 504, 529:
			return true
		}
		// A known status is authoritative; the message may carry a URL
		// whose port happens to match a marker.
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) || strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// Cancelled converts a cancellation-classified error to ErrCancelled while
// keeping the original message.
func Cancelled(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCancelled, err)
}
