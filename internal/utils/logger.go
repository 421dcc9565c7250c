package utils

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

// ParseLogLevel maps a level name (debug, info, warn, error) to a LogLevel.
// Unknown names fall back to Info.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical", "fatal":
		return Critical
	default:
		return Info
	}
}

// LogOptions configures the process-wide log backend.
type LogOptions struct {
	Level      LogLevel
	JSON       bool
	File       string // empty means stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	base         = newBaseLogger()
	defaultLevel = Info
	baseMu       sync.RWMutex
)

func newBaseLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// ConfigureLogging applies opts to the shared output and to every Logger
// without an explicit level, including ones created before the call. It
// returns a closer for the rotating file, if any.
func ConfigureLogging(opts LogOptions) io.Closer {
	baseMu.Lock()
	defer baseMu.Unlock()

	if opts.Level != NotSet {
		defaultLevel = opts.Level
	}
	if opts.JSON {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.File == "" {
		base.SetOutput(os.Stdout)
		return io.NopCloser(nil)
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	base.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator
}

// Logger provides structured logging with context
type Logger struct {
	prefix        string
	entry         *logrus.Entry
	logLevel      LogLevel
	logLevelMutex sync.RWMutex
}

// NewLogger creates a new logger with a given prefix. Without a level (or
// with NotSet) the logger follows the process-wide level.
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	logLevelValue := NotSet
	if len(logLevel) > 0 {
		logLevelValue = logLevel[0]
	}
	return &Logger{
		prefix:   prefix,
		entry:    base.WithField("component", prefix),
		logLevel: logLevelValue,
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	l.logLevel = logLevel
}

// Prefix returns the component name the logger was created with.
func (l *Logger) Prefix() string {
	return l.prefix
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if !l.enabled(Info) {
		return
	}
	l.withFields(keyvals).Info(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	if !l.enabled(Error) {
		return
	}
	l.withFields(keyvals).Error(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if !l.enabled(Warning) {
		return
	}
	l.withFields(keyvals).Warn(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if !l.enabled(Debug) {
		return
	}
	l.withFields(keyvals).Debug(msg)
}

func (l *Logger) enabled(level LogLevel) bool {
	l.logLevelMutex.RLock()
	threshold := l.logLevel
	l.logLevelMutex.RUnlock()
	if threshold == NotSet {
		baseMu.RLock()
		threshold = defaultLevel
		baseMu.RUnlock()
	}
	return threshold <= level
}

// withFields turns alternating key/value pairs into logrus fields.
// A trailing key without a value is dropped.
func (l *Logger) withFields(keyvals []interface{}) *logrus.Entry {
	if len(keyvals) < 2 {
		return l.entry
	}
	fields := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fields[key] = keyvals[i+1]
	}
	return l.entry.WithFields(fields)
}
