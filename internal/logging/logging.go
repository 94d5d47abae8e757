// Package logging adapts the project's shared logrus-based logging
// infrastructure (see common.NewLogger/common.ContextLogger) to the
// collabd process: one process-wide ContextLogger, one WithConn/WithFlow
// child logger per request-scoped unit of work.
package logging

import (
	"github.com/evalgo/flowcollab/common"
	"github.com/evalgo/flowcollab/config"
)

// New builds the process-wide logger from resolved Settings.
func New(cfg *config.Settings, serviceName, serviceVersion string) *common.ContextLogger {
	level := common.LogLevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = common.LogLevelDebug
	case "warn":
		level = common.LogLevelWarn
	case "error":
		level = common.LogLevelError
	}

	logger := common.NewLogger(common.LoggerConfig{
		Level:     level,
		Format:    cfg.LogFormat,
		Service:   serviceName,
		Version:   serviceVersion,
		AddCaller: cfg.LogLevel == "debug",
	})

	return common.NewContextLogger(logger, map[string]interface{}{
		"service": serviceName,
		"version": serviceVersion,
	})
}

// WithConn scopes a logger to one gateway connection.
func WithConn(base *common.ContextLogger, connID, tenantID string) *common.ContextLogger {
	return base.WithFields(map[string]interface{}{
		"conn_id":   connID,
		"tenant_id": tenantID,
	})
}

// WithFlow scopes a logger to one flow document.
func WithFlow(base *common.ContextLogger, flowID string) *common.ContextLogger {
	return base.WithField("flow_id", flowID)
}
