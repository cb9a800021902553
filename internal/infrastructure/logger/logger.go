package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taskmaster/tasklist/internal/infrastructure/config"
)

// Logger wraps zap.SugaredLogger with the fields the session and task
// layers attach to every entry.
type Logger struct {
	*zap.SugaredLogger
}

// New builds a logger from configuration. Format "json" selects the
// production encoder; anything else gets the development console encoder.
func New(cfg config.LoggerConfig) (*Logger, error) {
	var zapConfig zap.Config

	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.DisableStacktrace = true
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapConfig.OutputPaths, zapConfig.ErrorOutputPaths = outputPaths(cfg)

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

// outputPaths keeps stderr as the default so CLI output on stdout stays
// clean.
func outputPaths(cfg config.LoggerConfig) (out, errOut []string) {
	switch {
	case cfg.Output == "file" && cfg.Filename != "":
		return []string{cfg.Filename}, []string{cfg.Filename}
	case cfg.Output == "stdout":
		return []string{"stdout"}, []string{"stderr"}
	default:
		return []string{"stderr"}, []string{"stderr"}
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// WithComponent tags every entry with the emitting component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With("component", component)}
}

// LogUserAction records a session change or task mutation for a user.
func (l *Logger) LogUserAction(userID, action string, metadata map[string]interface{}) {
	l.Infow("User action", withMetadata([]interface{}{
		"user_id", userID,
		"action", action,
	}, metadata)...)
}

// LogSecurityEvent records a rejected or stale credential.
func (l *Logger) LogSecurityEvent(event, userID, ip string, details map[string]interface{}) {
	l.Warnw("Security event", withMetadata([]interface{}{
		"security_event", event,
		"user_id", userID,
		"ip", ip,
	}, details)...)
}

func withMetadata(fields []interface{}, metadata map[string]interface{}) []interface{} {
	for k, v := range metadata {
		fields = append(fields, k, v)
	}
	return fields
}
