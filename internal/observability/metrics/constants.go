// Package metrics provides Prometheus collectors for the image sources,
// the image cache, the classifier client and the HTTP API.
package metrics

import "time"

// Outcome label values shared across collectors.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
	OutcomeNotFound    = "not_found"
	OutcomeSkipped     = "skipped"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~4s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart100B is the starting bucket for byte histograms.
	BucketStart100B = 100.0

	BucketFactor2  = 2
	BucketFactor10 = 10

	BucketCount6  = 6
	BucketCount10 = 10
	BucketCount12 = 12
)

// ShutdownTimeout is the timeout for the standalone metrics listener.
const ShutdownTimeout = 5 * time.Second
