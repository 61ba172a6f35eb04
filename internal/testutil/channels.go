// Package testutil provides shared test utilities.
// These helpers reduce duplication across test files and ensure consistent test patterns.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Common test timeout constants.
const (
	// DefaultTestTimeout is the standard timeout for most async test operations.
	DefaultTestTimeout = 2 * time.Second

	// ShortTestTimeout is for operations expected to complete quickly.
	ShortTestTimeout = 1 * time.Second
)

// Receive returns the next value from ch or fails the test after timeout.
// A closed channel also fails the test.
func Receive[T any](t *testing.T, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "%s: channel closed", msg)
		return v
	case <-time.After(timeout):
		require.FailNow(t, msg)
	}
	var zero T
	return zero
}

// ReceiveN collects n values from ch within timeout.
func ReceiveN[T any](t *testing.T, ch <-chan T, n int, timeout time.Duration, msg string) []T {
	t.Helper()
	out := make([]T, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case v, ok := <-ch:
			require.True(t, ok, "%s: channel closed after %d values", msg, len(out))
			out = append(out, v)
		case <-deadline:
			require.FailNow(t, msg, "received %d of %d values", len(out), n)
		}
	}
	return out
}
