// Package logging provides structured JSON logging for BuildLab components.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var (
	baseMu sync.RWMutex
	base   *zap.Logger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	base = build(os.Stderr)
}

func build(w io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "event"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.CallerKey = ""
	encCfg.StacktraceKey = ""

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

func current() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// SetOutput redirects all loggers to w. Used by tests and the TUI, which
// owns the terminal.
func SetOutput(w io.Writer) {
	baseMu.Lock()
	defer baseMu.Unlock()
	_ = base.Sync()
	base = build(w)
}

// SetLevel changes the minimum level for all loggers.
func SetLevel(l Level) error {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(l)); err != nil {
		return err
	}
	level.SetLevel(zl)
	return nil
}

// Sync flushes buffered log entries.
func Sync() error {
	return current().Sync()
}

// Logger provides structured logging
type Logger struct {
	component string
	project   string
	session   string
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{
		component: component,
		project:   os.Getenv("BUILDLAB_PROJECT"),
	}
}

// WithProject sets the project context
func (l *Logger) WithProject(project string) *Logger {
	return &Logger{
		component: l.component,
		project:   project,
		session:   l.session,
	}
}

// WithSession sets the session context
func (l *Logger) WithSession(session string) *Logger {
	return &Logger{
		component: l.component,
		project:   l.project,
		session:   session,
	}
}

func (l *Logger) fields(extra map[string]interface{}, err error) []zap.Field {
	fields := []zap.Field{zap.String("component", l.component)}
	if l.project != "" {
		fields = append(fields, zap.String("project", l.project))
	}
	if l.session != "" {
		fields = append(fields, zap.String("session", l.session))
	}
	if len(extra) > 0 {
		fields = append(fields, zap.Any("extra", extra))
	}
	if err != nil {
		fields = append(fields, zap.String("error", err.Error()))
	}
	return fields
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	current().Debug(event, l.fields(extra, nil)...)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	current().Info(event, l.fields(extra, nil)...)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	current().Warn(event, l.fields(extra, err)...)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	current().Error(event, l.fields(extra, err)...)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	fields := append(l.fields(extra, nil), zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	current().Info(event, fields...)
}
