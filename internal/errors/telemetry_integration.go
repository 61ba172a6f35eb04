package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives every EnhancedError built while it is enabled
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter forwards scrubbed errors to the Sentry hub
type SentryReporter struct {
	enabled bool
}

func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError sends ee once. Messages and string context values pass
// through scrubMessageForPrivacy first.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}
	ee.MarkReported()

	title := generateErrorTitle(ee)
	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	level := getErrorLevel(ee.Category)

	event := sentry.NewEvent()
	event.Message = message
	event.Level = level
	// The exception type becomes the issue title in the Sentry UI
	event.Exception = []sentry.Exception{{Type: title, Value: message}}
	event.Fingerprint = []string{title, ee.GetComponent(), string(ee.Category)}
	event.Tags = map[string]string{
		"error_title": title,
		"component":   ee.GetComponent(),
		"category":    string(ee.Category),
		"error_type":  fmt.Sprintf("%T", ee.Err),
	}
	for key, value := range ee.GetContext() {
		if str, ok := value.(string); ok {
			value = scrubMessageForPrivacy(str)
		}
		event.Contexts[key] = sentry.Context{"value": value}
	}

	sentry.CaptureEvent(event)
}

// generateErrorTitle joins component, category and operation, e.g.
// "Imagecache Cache Persistence Error Sync Snapshot".
func generateErrorTitle(ee *EnhancedError) string {
	parts := make([]string, 0, 3)
	if c := ee.GetComponent(); c != "" && c != ComponentUnknown {
		parts = append(parts, titleCase(c))
	}
	if t := formatCategoryForTitle(ee.Category); t != "" {
		parts = append(parts, t)
	}
	if op, ok := ee.Context["operation"].(string); ok && op != "" {
		parts = append(parts, formatOperationForTitle(op))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

// categoryPresentation controls how a category shows up in Sentry. Source
// and cache failures are usually transient and stay at warning level.
var categoryPresentation = map[ErrorCategory]struct {
	title string
	level sentry.Level
}{
	CategoryBreedResolution:  {"Breed Resolution Error", sentry.LevelInfo},
	CategoryNotFound:         {"Not Found", sentry.LevelInfo},
	CategoryImageSource:      {"Image Source Error", sentry.LevelWarning},
	CategoryImageFetch:       {"Image Fetch Error", sentry.LevelWarning},
	CategoryImageCache:       {"Image Cache Error", sentry.LevelWarning},
	CategoryCachePersistence: {"Cache Persistence Error", sentry.LevelWarning},
	CategoryNetwork:          {"Network Error", sentry.LevelWarning},
	CategoryRateLimit:        {"Rate Limit", sentry.LevelWarning},
	CategoryTimeout:          {"Timeout", sentry.LevelWarning},
	CategoryValidation:       {"Validation Error", sentry.LevelWarning},
	CategoryClassifier:       {"Classifier Error", sentry.LevelError},
	CategoryDatabase:         {"Database Error", sentry.LevelError},
	CategoryConfiguration:    {"Configuration Error", sentry.LevelError},
}

func formatCategoryForTitle(category ErrorCategory) string {
	if p, ok := categoryPresentation[category]; ok {
		return p.title
	}
	return string(category)
}

func getErrorLevel(category ErrorCategory) sentry.Level {
	if p, ok := categoryPresentation[category]; ok {
		return p.level
	}
	return sentry.LevelError
}

// formatOperationForTitle turns "sync_snapshot" into "Sync Snapshot"
func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

func titleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

type reporterHolder struct{ TelemetryReporter }

var currentReporter atomic.Pointer[reporterHolder]

// SetTelemetryReporter installs the process-wide reporter. nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	if reporter == nil {
		currentReporter.Store(nil)
		reportingActive.Store(false)
		return
	}
	currentReporter.Store(&reporterHolder{reporter})
	reportingActive.Store(reporter.IsEnabled())
}

// GetTelemetryReporter returns the installed reporter or nil
func GetTelemetryReporter() TelemetryReporter {
	if h := currentReporter.Load(); h != nil {
		return h.TelemetryReporter
	}
	return nil
}

func reportToTelemetry(ee *EnhancedError) {
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// Pre-compiled scrubbing patterns
var (
	urlQueryRegex   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	queryParamRegex = regexp.MustCompile(`[?&]([^=\s]+)=([^&\s]+)`)
	apiKeyRegexes   = []*regexp.Regexp{
		regexp.MustCompile(`(?i)api[_-]?key[=:]\S+`),
		regexp.MustCompile(`(?i)client[_-]?id[=:]\S+`),
		regexp.MustCompile(`(?i)access[_-]?key[=:]\S+`),
		regexp.MustCompile(`(?i)token[=:]\S+`),
		regexp.MustCompile(`(?i)auth[=:]\S+`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
		regexp.MustCompile(`[A-Za-z0-9_-]{43}`), // Unsplash access keys
	}
	redisPasswordRegex = regexp.MustCompile(`redis://([^:@/\s]*):[^@/\s]+@`)
)

// scrubMessageForPrivacy strips credentials and query strings from messages
func scrubMessageForPrivacy(message string) string {
	scrubbed := redisPasswordRegex.ReplaceAllString(message, "redis://$1:[REDACTED]@")
	scrubbed = urlQueryRegex.ReplaceAllString(scrubbed, "$1?[REDACTED]")
	scrubbed = queryParamRegex.ReplaceAllString(scrubbed, "?[REDACTED]")

	for _, re := range apiKeyRegexes {
		scrubbed = re.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	}

	return scrubbed
}
