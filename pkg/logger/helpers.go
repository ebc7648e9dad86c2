package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogProviderCall logs one remote scraping call. Failures are warnings because
// callers degrade them to empty results.
func LogProviderCall(l Logger, operation, handle string, items int, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"operation":   operation,
		"handle":      handle,
		"items":       items,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		OrGlobal(l).WithError(err).WarnWithFields("provider call degraded to empty result", fields)
		return
	}
	OrGlobal(l).DebugWithFields("provider call completed", fields)
}

// LogRunOutcome logs the terminal outcome of an orchestration run
func LogRunOutcome(l Logger, userID, handle, outcome string, fields map[string]interface{}) {
	merged := map[string]interface{}{
		"user_id": userID,
		"handle":  handle,
		"outcome": outcome,
	}
	for k, v := range fields {
		merged[k] = v
	}
	OrGlobal(l).InfoWithFields("Run finished", merged)
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, settings map[string]interface{}) {
	OrGlobal(l).WithField("component", component).InfoWithFields("Component started", settings)
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component, reason string) {
	OrGlobal(l).InfoWithFields("Component stopped", map[string]interface{}{
		"component": component,
		"reason":    reason,
	})
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (n nopLogger) Debug(string)                                       {}
func (n nopLogger) Info(string)                                        {}
func (n nopLogger) Warn(string)                                        {}
func (n nopLogger) Error(string)                                       {}
func (n nopLogger) Fatal(string)                                       {}
func (n nopLogger) WithField(string, interface{}) Logger               { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger           { return n }
func (n nopLogger) WithError(error) Logger                             { return n }
func (n nopLogger) WithContext(context.Context) Logger                 { return n }
func (n nopLogger) DebugWithFields(string, map[string]interface{})     {}
func (n nopLogger) InfoWithFields(string, map[string]interface{})      {}
func (n nopLogger) WarnWithFields(string, map[string]interface{})      {}
func (n nopLogger) ErrorWithFields(string, map[string]interface{})     {}
func (n nopLogger) GetZerolog() *zerolog.Logger                        { nop := zerolog.Nop(); return &nop }
