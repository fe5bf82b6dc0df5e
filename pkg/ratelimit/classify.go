// Package ratelimit implements the Rate-Limited Executor: a
// dual-gated slot scheduler (concurrency cap plus a sliding request-rate
// window) wrapping calls to the external analyzer with classified,
// jittered-backoff retry.
package ratelimit

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass is the outcome of classifying a failed call for retry
// purposes.
type ErrorClass int

const (
	// NotRetryable errors propagate to the caller immediately.
	NotRetryable ErrorClass = iota
	// Retryable errors are retried with the standard backoff base.
	Retryable
	// RateLimited errors are retried with a tripled backoff base.
	RateLimited
)

// StatusCoder is implemented by transport errors that carry an HTTP-style
// status code (e.g. the genai SDK's API error type).
type StatusCoder interface {
	StatusCode() int
}

// Classify determines the retry disposition of err. Retryable failures are
// those where the transport reports status 429 or 529, or where the message
// contains rate_limit/overloaded/aborted/timed out; everything else
// propagates immediately.
func Classify(err error) ErrorClass {
	if err == nil {
		return NotRetryable
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NotRetryable
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case 429:
			return RateLimited
		case 529:
			return Retryable
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate_limit"), strings.Contains(msg, "rate limit"):
		return RateLimited
	case strings.Contains(msg, "529"), strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "aborted"), strings.Contains(msg, "timed out"):
		return Retryable
	default:
		return NotRetryable
	}
}
