// Package errors attaches a category, the originating component and free-form
// context to errors so failures group cleanly in logs and telemetry.
// Call sites use the builder:
//
//	errors.New(err).Component("imagecache").Category(errors.CategoryImageCache).Build()
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors for reporting
type ErrorCategory string

// CategorizedError lets an error type pick its own category
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryBreedResolution  ErrorCategory = "breed-resolution"
	CategoryImageSource      ErrorCategory = "image-source"
	CategoryImageFetch       ErrorCategory = "image-fetch"
	CategoryImageCache       ErrorCategory = "image-cache"
	CategoryCachePersistence ErrorCategory = "cache-persistence"
	CategoryClassifier       ErrorCategory = "classifier"
	CategoryRateLimit        ErrorCategory = "rate-limit"
	CategoryValidation       ErrorCategory = "validation"
	CategoryFileIO           ErrorCategory = "file-io"
	CategoryNetwork          ErrorCategory = "network"
	CategoryDatabase         ErrorCategory = "database"
	CategoryHTTP             ErrorCategory = "http-request"
	CategoryConfiguration    ErrorCategory = "configuration"
	CategoryGeneric          ErrorCategory = "generic"
	CategoryNotFound         ErrorCategory = "not-found"
	CategoryState            ErrorCategory = "state"
	CategoryTimeout          ErrorCategory = "timeout"
)

// ComponentUnknown is used when no registered package is found on the stack
const ComponentUnknown = "unknown"

const selfPackage = "/internal/errors."

// componentRule maps a package directory to a component name and the
// category used when nothing more specific can be inferred.
type componentRule struct {
	pkg       string
	component string
	category  ErrorCategory
}

var componentRules = []componentRule{
	{"breeds", "breeds", CategoryBreedResolution},
	{"imageprovider", "imageprovider", CategoryImageSource},
	{"imagecache", "imagecache", CategoryImageCache},
	{"breedimages", "breedimages", CategoryImageFetch},
	{"classifier", "classifier", CategoryClassifier},
	{"datastore", "datastore", CategoryCachePersistence},
	{"conf", "configuration", CategoryConfiguration},
	{"api", "api", CategoryHTTP},
}

// reportingActive skips stack walking and telemetry when nobody listens
var reportingActive atomic.Bool

// EnhancedError is an error with grouping metadata
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	component string
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string { return ee.Err.Error() }

func (ee *EnhancedError) Unwrap() error { return ee.Err }

// Is matches another EnhancedError by category, anything else by the wrapped chain
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetComponent returns the component the error was raised in
func (ee *EnhancedError) GetComponent() string { return ee.component }

// GetCategory returns the category as a plain string
func (ee *EnhancedError) GetCategory() string { return string(ee.Category) }

// GetContext returns a copy of the context map
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported flags the error as sent to telemetry
func (ee *EnhancedError) MarkReported() { ee.reported.Store(true) }

// IsReported reports whether telemetry already saw this error
func (ee *EnhancedError) IsReported() bool { return ee.reported.Load() }

// ErrorBuilder assembles an EnhancedError
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts a builder around err
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts a builder around a formatted error
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component overrides stack-based component detection
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// NetworkContext records the URL scheme and timeout. The URL itself is
// never stored since it may carry API keys.
func (eb *ErrorBuilder) NetworkContext(url string, timeout time.Duration) *ErrorBuilder {
	if url != "" {
		eb.Context("url_category", categorizeURL(url))
	}
	if timeout > 0 {
		eb.Context("timeout_seconds", timeout.Seconds())
	}
	return eb
}

// Build creates the error and hands it to the telemetry reporter if one is active
func (eb *ErrorBuilder) Build() *EnhancedError {
	active := reportingActive.Load()

	component := eb.component
	if component == "" && active {
		component = detectComponent()
	}
	if component == "" {
		component = ComponentUnknown
	}

	category := eb.category
	if category == "" {
		if active {
			category = detectCategory(eb.err, component)
		} else {
			category = CategoryGeneric
		}
	}

	ee := &EnhancedError{
		Err:       eb.err,
		Category:  category,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: component,
	}

	if active {
		reportToTelemetry(ee)
	}
	return ee
}

// detectComponent returns the first registered package found on the caller stack
func detectComponent() string {
	pcs := make([]uintptr, 32)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, selfPackage) {
			if rule, ok := ruleForFunction(frame.Function); ok {
				return rule.component
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

func ruleForFunction(funcName string) (componentRule, bool) {
	for _, rule := range componentRules {
		if strings.Contains(funcName, "/"+rule.pkg+".") || strings.Contains(funcName, "/"+rule.pkg+"/") {
			return rule, true
		}
	}
	return componentRule{}, false
}

func ruleForComponent(component string) (componentRule, bool) {
	for _, rule := range componentRules {
		if rule.component == component {
			return rule, true
		}
	}
	return componentRule{}, false
}

// detectCategory prefers categories carried by the chain, then message
// keywords, then the component default.
func detectCategory(err error, component string) ErrorCategory {
	var catErr CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr.ErrorCategory()
	}
	var enhErr *EnhancedError
	if stderrors.As(err, &enhErr) && enhErr.Category != "" {
		return enhErr.Category
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"):
		return CategoryRateLimit
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(msg, "connection"):
		return CategoryNetwork
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "validation"):
		return CategoryValidation
	}

	if rule, ok := ruleForComponent(component); ok {
		return rule.category
	}
	return CategoryGeneric
}

func categorizeURL(url string) string {
	scheme, _, found := strings.Cut(strings.ToLower(url), "://")
	if !found {
		return "other-protocol"
	}
	switch scheme {
	case "http", "https", "redis":
		return scheme + "-endpoint"
	default:
		return "other-protocol"
	}
}

// NetworkError wraps a transport failure
func NetworkError(err error, url string, timeout time.Duration) *EnhancedError {
	return New(err).Category(CategoryNetwork).NetworkContext(url, timeout).Build()
}

// ValidationError reports bad caller input
func ValidationError(message string) *EnhancedError {
	return New(stderrors.New(message)).Category(CategoryValidation).Build()
}

// NewStd is errors.New from the standard library, for plain sentinels
func NewStd(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

// IsCategory reports whether err wraps an EnhancedError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return stderrors.As(err, &ee) && ee.Category == category
}

// IsNotFound covers expected misses such as unknown breeds or an empty storage slot
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}
