// Package common provides the structured logging facility shared by
// collabd's process entrypoint, gateway and domain packages.
//
// Logs route through an OutputSplitter so error-level entries land on
// stderr (for alerting) while everything else goes to stdout, which is
// the separation container orchestrators and log shippers expect.
package common

import (
	"bytes"
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes logrus-formatted lines to stderr when they carry
// "level=error" and to stdout otherwise. It operates on the already
// formatted line, so it works with both the text and JSON formatters.
type OutputSplitter struct{}

func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the package-wide logrus instance; NewLogger builds
// request/service-scoped loggers from it but code that has no Settings
// handy (init-time diagnostics, package-level helpers) can log directly
// through this one.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}

// LogLevel names the logrus levels this package exposes through
// LoggerConfig, independent of logrus's own type so callers don't need
// to import logrus just to set a level.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// LoggerConfig configures a logger built by NewLogger.
type LoggerConfig struct {
	Level      LogLevel
	Format     string // "json" or "text"
	Service    string
	Version    string
	AddCaller  bool
	TimeFormat string
}

// DefaultLoggerConfig returns sane defaults for local/dev use.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:  LogLevelInfo,
		Format: "text",
	}
}

// NewLogger builds a logrus.Logger with the given level, format and
// output routing. Service/Version are carried by the caller via
// NewContextLogger, not baked into the logrus instance itself.
func NewLogger(config LoggerConfig) *logrus.Logger {
	logger := logrus.New()

	switch config.Level {
	case LogLevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LogLevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LogLevelError:
		logger.SetLevel(logrus.ErrorLevel)
	case LogLevelFatal:
		logger.SetLevel(logrus.FatalLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: config.TimeFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: config.TimeFormat, FullTimestamp: true})
	}

	logger.SetReportCaller(config.AddCaller)
	logger.SetOutput(&OutputSplitter{})

	return logger
}

// ContextLogger carries a fixed set of structured fields (service,
// connection id, flow id, ...) through a request or unit of work so
// every line it emits is taggable back to that unit without the caller
// repeating the fields at every call site.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger wraps logger (or the package Logger if nil) with a
// base set of fields every subsequent entry will carry.
func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	if logger == nil {
		logger = Logger
	}
	baseFields := make(logrus.Fields, len(fields))
	for k, v := range fields {
		baseFields[k] = v
	}
	return &ContextLogger{logger: logger, fields: baseFields}
}

func (cl *ContextLogger) withFields(extra logrus.Fields) *ContextLogger {
	newFields := make(logrus.Fields, len(cl.fields)+len(extra))
	for k, v := range cl.fields {
		newFields[k] = v
	}
	for k, v := range extra {
		newFields[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: newFields}
}

// WithField returns a copy of cl with one additional field.
func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	return cl.withFields(logrus.Fields{key: value})
}

// WithFields returns a copy of cl with additional fields merged in.
func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	f := make(logrus.Fields, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return cl.withFields(f)
}

// WithError attaches err under the "error" field.
func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.WithField("error", err.Error())
}

// WithContext pulls the request/trace/user identifiers Go contexts in
// this codebase carry, if present, into the logger's fields.
func (cl *ContextLogger) WithContext(ctx context.Context) *ContextLogger {
	extra := logrus.Fields{}
	if requestID := ctx.Value("request_id"); requestID != nil {
		extra["request_id"] = requestID
	}
	if traceID := ctx.Value("trace_id"); traceID != nil {
		extra["trace_id"] = traceID
	}
	if userID := ctx.Value("user_id"); userID != nil {
		extra["user_id"] = userID
	}
	return cl.withFields(extra)
}

func (cl *ContextLogger) Debug(msg string)                          { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Debugf(format string, args ...interface{}) { cl.logger.WithFields(cl.fields).Debugf(format, args...) }
func (cl *ContextLogger) Info(msg string)                           { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Infof(format string, args ...interface{})  { cl.logger.WithFields(cl.fields).Infof(format, args...) }
func (cl *ContextLogger) Warn(msg string)                           { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Warnf(format string, args ...interface{})  { cl.logger.WithFields(cl.fields).Warnf(format, args...) }
func (cl *ContextLogger) Error(msg string)                          { cl.logger.WithFields(cl.fields).Error(msg) }
func (cl *ContextLogger) Errorf(format string, args ...interface{}) { cl.logger.WithFields(cl.fields).Errorf(format, args...) }
func (cl *ContextLogger) Fatal(msg string)                          { cl.logger.WithFields(cl.fields).Fatal(msg) }
func (cl *ContextLogger) Fatalf(format string, args ...interface{}) { cl.logger.WithFields(cl.fields).Fatalf(format, args...) }
