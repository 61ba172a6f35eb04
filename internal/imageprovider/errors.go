package imageprovider

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/httpclient"
	"github.com/tphakala/pawdentify/internal/observability/metrics"
)

// ErrorKind classifies a source failure
type ErrorKind string

const (
	KindUnavailable     ErrorKind = "Unavailable"
	KindNotFound        ErrorKind = "NotFound"
	KindRateLimited     ErrorKind = "RateLimited"
	KindNetwork         ErrorKind = "Network"
	KindInvalidResponse ErrorKind = "InvalidResponse"
)

// SourceError is a failure local to one source client. The aggregator
// records it and carries on with the remaining sources.
type SourceError struct {
	Source SourceName
	Kind   ErrorKind
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsSourceErrorKind reports whether err carries a SourceError of kind
func IsSourceErrorKind(err error, kind ErrorKind) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Kind == kind
}

// KindOf returns the SourceError kind of err, or "" when err is not one
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// newSourceError wraps cause in a SourceError and an EnhancedError so the
// failure is both matchable and categorized for telemetry.
func newSourceError(source SourceName, kind ErrorKind, cause error) error {
	category := errors.CategoryImageSource
	switch kind {
	case KindRateLimited:
		category = errors.CategoryRateLimit
	case KindNetwork:
		category = errors.CategoryNetwork
	}
	return errors.New(&SourceError{Source: source, Kind: kind, Err: cause}).
		Component("imageprovider").
		Category(category).
		Context("source", string(source)).
		Context("kind", string(kind)).
		Build()
}

// classifyHTTPError maps a transport or status failure to a kind
func classifyHTTPError(err error) ErrorKind {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusNotFound:
			return KindNotFound
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return KindRateLimited
		case statusErr.StatusCode == http.StatusUnauthorized, statusErr.StatusCode == http.StatusForbidden:
			return KindUnavailable
		case statusErr.StatusCode >= http.StatusInternalServerError:
			return KindUnavailable
		default:
			return KindInvalidResponse
		}
	}
	// timeouts, refused connections and DNS failures
	return KindNetwork
}

// outcomeFor maps an error to a metrics outcome label
func outcomeFor(err error) string {
	switch KindOf(err) {
	case "":
		if err == nil {
			return metrics.OutcomeSuccess
		}
		return metrics.OutcomeError
	case KindRateLimited:
		return metrics.OutcomeRateLimited
	case KindNotFound:
		return metrics.OutcomeNotFound
	case KindUnavailable:
		return metrics.OutcomeSkipped
	default:
		return metrics.OutcomeError
	}
}

// stripURL drops the request URL from transport errors so credentials in
// query strings never reach logs or API responses.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
