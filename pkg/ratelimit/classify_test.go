package ratelimit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Run("context errors are not retryable", func(t *testing.T) {
		assert.Equal(t, NotRetryable, Classify(context.Canceled))
		assert.Equal(t, NotRetryable, Classify(context.DeadlineExceeded))
	})

	t.Run("rate limit messages classify as RateLimited", func(t *testing.T) {
		assert.Equal(t, RateLimited, Classify(errors.New("429 Too Many Requests")))
		assert.Equal(t, RateLimited, Classify(errors.New("rate_limit_exceeded")))
	})

	t.Run("overload messages classify as Retryable", func(t *testing.T) {
		assert.Equal(t, Retryable, Classify(errors.New("529 Overloaded")))
		assert.Equal(t, Retryable, Classify(errors.New("request aborted")))
		assert.Equal(t, Retryable, Classify(errors.New("connection timed out")))
	})

	t.Run("unrecognized errors are not retryable", func(t *testing.T) {
		assert.Equal(t, NotRetryable, Classify(errors.New("invalid argument")))
	})

	t.Run("nil is not retryable", func(t *testing.T) {
		assert.Equal(t, NotRetryable, Classify(nil))
	})
}
