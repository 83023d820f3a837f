package log

import (
	"io"
	"os"

	"github.com/kataras/golog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// GologLogger implements Logger interface using kataras/golog
type GologLogger struct {
	logger *golog.Logger
	level  LogLevel
}

var _ Logger = (*GologLogger)(nil)

// NewGologLogger wraps an existing golog.Logger. A nil logger gets a fresh one
// writing to stderr with the "[docqa] " prefix.
func NewGologLogger(logger *golog.Logger) *GologLogger {
	if logger == nil {
		logger = golog.New()
		logger.SetOutput(os.Stderr)
		logger.SetPrefix("[docqa] ")
	}
	l := &GologLogger{logger: logger}
	l.SetLevel(LogLevelInfo)
	return l
}

// FileOptions configures rotation of the optional log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds the process logger: stderr, plus a rotated file when opts.Path is set.
func New(level LogLevel, opts FileOptions) *GologLogger {
	glogger := golog.New()
	glogger.SetPrefix("[docqa] ")

	var out io.Writer = os.Stderr
	if opts.Path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		})
	}
	glogger.SetOutput(out)

	l := NewGologLogger(glogger)
	l.SetLevel(level)
	return l
}

// Debug logs debug messages
func (l *GologLogger) Debug(format string, v ...any) {
	if l.level <= LogLevelDebug {
		l.logger.Debugf(format, v...)
	}
}

// Info logs informational messages
func (l *GologLogger) Info(format string, v ...any) {
	if l.level <= LogLevelInfo {
		l.logger.Infof(format, v...)
	}
}

// Warn logs warning messages
func (l *GologLogger) Warn(format string, v ...any) {
	if l.level <= LogLevelWarn {
		l.logger.Warnf(format, v...)
	}
}

// Error logs error messages
func (l *GologLogger) Error(format string, v ...any) {
	if l.level <= LogLevelError {
		l.logger.Errorf(format, v...)
	}
}

// Println and Printf make GologLogger a negroni.ALogger, so the server's panic
// recovery writes through it at error level.
func (l *GologLogger) Println(v ...any) {
	if l.level <= LogLevelError {
		l.logger.Error(v...)
	}
}

// Printf logs at error level.
func (l *GologLogger) Printf(format string, v ...any) {
	l.Error(format, v...)
}

// SetLevel sets the log level
func (l *GologLogger) SetLevel(level LogLevel) {
	l.level = level

	// Convert to golog level string
	gologLevel := "info"
	switch level {
	case LogLevelDebug:
		gologLevel = "debug"
	case LogLevelInfo:
		gologLevel = "info"
	case LogLevelWarn:
		gologLevel = "warn"
	case LogLevelError:
		gologLevel = "error"
	case LogLevelNone:
		gologLevel = "disable"
	}

	l.logger.SetLevel(gologLevel)
}

// GetLevel returns the current log level
func (l *GologLogger) GetLevel() LogLevel {
	return l.level
}
