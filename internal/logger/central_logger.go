package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	// Embedded zone database so LoadLocation works in minimal containers
	_ "time/tzdata"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// traceLevelValue sits below slog's Debug (-4)
	traceLevelValue = slog.Level(-8)

	// floatPrecisionRatio rounds floats to 3 decimal places in log output
	floatPrecisionRatio = 1000.0

	// LogFilePermissions is applied to log directories
	LogFilePermissions = 0o700
)

type loggerContextKey struct{ name string }

// TraceIDKey is the context key for trace IDs. Use WithTraceID to set values.
var TraceIDKey = loggerContextKey{"trace_id"}

// WithTraceID returns a new context with the trace ID set
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// CentralLogger manages module-aware logging with flexible routing
type CentralLogger struct {
	config        *LoggingConfig
	timezone      *time.Location
	console       io.Writer
	baseHandler   slog.Handler
	mainWriter    *lumberjack.Logger
	moduleWriters map[string]*lumberjack.Logger
	moduleLevels  map[string]slog.Level
	mu            sync.RWMutex
}

// NewCentralLogger creates a centralized logger with module routing
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	return newCentralLogger(cfg, os.Stdout)
}

func newCentralLogger(cfg *LoggingConfig, console io.Writer) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}

	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		config:        cfg,
		timezone:      tz,
		console:       console,
		moduleWriters: make(map[string]*lumberjack.Logger),
		moduleLevels:  make(map[string]slog.Level),
	}

	for module, levelStr := range cfg.ModuleLevels {
		cl.moduleLevels[module] = parseLogLevel(levelStr)
	}

	if err := cl.createBaseHandler(); err != nil {
		return nil, fmt.Errorf("failed to create base handler: %w", err)
	}

	// Modules sharing a file path share one writer
	byPath := make(map[string]*lumberjack.Logger)
	for module, moduleConfig := range cfg.ModuleOutputs {
		if !moduleConfig.Enabled || moduleConfig.FilePath == "" {
			continue
		}
		if writer, ok := byPath[moduleConfig.FilePath]; ok {
			cl.moduleWriters[module] = writer
			continue
		}
		if err := ensureFileDirectory(moduleConfig.FilePath); err != nil {
			_ = cl.closeAllWritersLocked()
			return nil, fmt.Errorf("failed to create directory for module %s: %w", module, err)
		}
		writer := newRotatingWriter(moduleConfig.FilePath, rotationFromModuleOutput(&moduleConfig, cfg.FileOutput))
		byPath[moduleConfig.FilePath] = writer
		cl.moduleWriters[module] = writer
	}

	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

// createBaseHandler creates the default handler for console and main file output
func (cl *CentralLogger) createBaseHandler() error {
	var handlers []slog.Handler

	if cl.config.Console != nil && cl.config.Console.Enabled {
		handlers = append(handlers, newTextHandler(cl.console, parseLogLevel(cl.config.Console.Level), cl.timezone))
	}

	if cl.config.FileOutput != nil && cl.config.FileOutput.Enabled {
		if err := ensureFileDirectory(cl.config.FileOutput.Path); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		cl.mainWriter = newRotatingWriter(cl.config.FileOutput.Path, rotationFromFileOutput(cl.config.FileOutput))
		handlers = append(handlers, newJSONHandler(cl.mainWriter, parseLogLevel(cl.config.FileOutput.Level), cl.timezone))
	}

	if len(handlers) == 0 {
		handlers = append(handlers, newTextHandler(cl.console, parseLogLevel(cl.config.DefaultLevel), cl.timezone))
	}
	cl.baseHandler = fanOut(handlers)
	return nil
}

func fanOut(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return newMultiHandler(handlers...)
}

// Module returns a logger scoped to a specific module. Sub-modules such as
// "imageprovider.dogceo" route through their top-level module's output.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	moduleConfig, hasModuleConfig := cl.config.ModuleOutputs[name]
	moduleLevel := cl.getModuleLevelLocked(name)
	if hasModuleConfig && moduleConfig.Level != "" {
		moduleLevel = parseLogLevel(moduleConfig.Level)
	}

	var handlers []slog.Handler
	if writer, ok := cl.moduleWriters[name]; ok && hasModuleConfig && moduleConfig.Enabled {
		handlers = append(handlers, newJSONHandler(writer, moduleLevel, cl.timezone))
		if moduleConfig.ConsoleAlso && cl.config.Console != nil && cl.config.Console.Enabled {
			handlers = append(handlers, newTextHandler(cl.console, moduleLevel, cl.timezone))
		}
	} else {
		handlers = append(handlers, cl.baseHandler)
	}

	return &moduleLogger{
		module: name,
		logger: slog.New(fanOut(handlers)),
		level:  moduleLevel,
	}
}

// Root returns an unnamed logger for application wiring. Its direct
// sub-modules are routed like CentralLogger.Module, so components that call
// Module("imagecache") on it reach the imagecache output.
func (cl *CentralLogger) Root() Logger {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return &moduleLogger{
		logger:  slog.New(cl.baseHandler),
		level:   parseLogLevel(cl.config.DefaultLevel),
		central: cl,
	}
}

func (cl *CentralLogger) getModuleLevelLocked(module string) slog.Level {
	if level, ok := cl.moduleLevels[module]; ok {
		return level
	}
	return parseLogLevel(cl.config.DefaultLevel)
}

// Rotate forces rotation of every open log file. serve calls it on SIGHUP.
func (cl *CentralLogger) Rotate() error {
	if cl == nil {
		return nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	var errs []error
	for _, w := range cl.writersLocked() {
		if err := w.Rotate(); err != nil {
			errs = append(errs, fmt.Errorf("failed to rotate %s: %w", w.Filename, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all log files
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	return cl.closeAllWritersLocked()
}

func (cl *CentralLogger) closeAllWritersLocked() error {
	var errs []error
	for _, w := range cl.writersLocked() {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log writer %s: %w", w.Filename, err))
		}
	}
	cl.mainWriter = nil
	cl.moduleWriters = nil
	return errors.Join(errs...)
}

// writersLocked returns each distinct open writer once
func (cl *CentralLogger) writersLocked() []*lumberjack.Logger {
	var writers []*lumberjack.Logger
	if cl.mainWriter != nil {
		writers = append(writers, cl.mainWriter)
	}
	for _, w := range cl.moduleWriters {
		if !slices.Contains(writers, w) {
			writers = append(writers, w)
		}
	}
	return writers
}

// Flush is a no-op; lumberjack writes straight through to the file
func (cl *CentralLogger) Flush() error {
	return nil
}

func ensureFileDirectory(filePath string) error {
	if filePath == "" {
		return nil
	}

	dir := filepath.Dir(filePath)
	if dir == "." || dir == filePath {
		return nil
	}

	if err := os.MkdirAll(dir, LogFilePermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

var levelNames = map[string]slog.Level{
	"trace":   traceLevelValue,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// parseLogLevel maps a configured level name to slog, defaulting to info
func parseLogLevel(level string) slog.Level {
	if l, ok := levelNames[level]; ok {
		return l
	}
	return slog.LevelInfo
}

// NewSlogLogger creates a standalone Logger writing text to w. A nil writer
// means stdout and a nil timezone means local time.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	slogLevel := parseLogLevel(string(level))
	return &moduleLogger{
		logger: slog.New(newTextHandler(w, slogLevel, tz)),
		level:  slogLevel,
	}
}

// moduleLogger is the Logger handed out by CentralLogger. A root logger
// (empty module with central set) routes Module calls back through the
// central logger so per-module outputs apply.
type moduleLogger struct {
	module  string
	logger  *slog.Logger
	level   slog.Level
	fields  []Field
	central *CentralLogger
}

func (m *moduleLogger) derive(module string, fields []Field) *moduleLogger {
	return &moduleLogger{module: module, logger: m.logger, level: m.level, fields: fields, central: m.central}
}

func (m *moduleLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}
	if m.central != nil && m.module == "" {
		if routed, ok := m.central.Module(name).(*moduleLogger); ok {
			routed.fields = slices.Clone(m.fields)
			return routed
		}
	}
	if m.module != "" {
		name = m.module + "." + name
	}
	child := m.derive(name, slices.Clone(m.fields))
	child.central = nil
	return child
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.emit(traceLevelValue, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.emit(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.emit(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.emit(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.emit(slog.LevelError, msg, fields) }

func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	m.emit(parseLogLevel(string(level)), msg, fields)
}

func (m *moduleLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}
	return m.derive(m.module, slices.Concat(m.fields, fields))
}

func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	if m == nil {
		return nil
	}
	if traceID := getTraceIDFromContext(ctx); traceID != "" {
		return m.With(String(traceIDKey, traceID))
	}
	return m
}

func (m *moduleLogger) Flush() error { return nil }

// emit drops entries below the logger level before building any attrs.
// Error is always written.
func (m *moduleLogger) emit(level slog.Level, msg string, fields []Field) {
	if m == nil || (level < slog.LevelError && level < m.level) {
		return
	}

	attrs := make([]slog.Attr, 0, 1+len(m.fields)+len(fields))
	if m.module != "" {
		attrs = append(attrs, slog.String(moduleKey, m.module))
	}
	for _, f := range m.fields {
		attrs = append(attrs, fieldToAttr(f))
	}
	for _, f := range fields {
		attrs = append(attrs, fieldToAttr(f))
	}
	m.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, redactValue(f.Key, v))
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case uint64:
		return slog.Uint64(f.Key, v)
	case float32:
		return slog.Float64(f.Key, roundFloat(float64(v)))
	case float64:
		return slog.Float64(f.Key, roundFloat(v))
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case time.Duration:
		// slog.Duration renders nanoseconds in JSON
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}

func roundFloat(val float64) float64 {
	return math.Round(val*floatPrecisionRatio) / floatPrecisionRatio
}

func getTraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}
