// Package logger provides the structured logging interface used across xdigest.
//
// It wraps zerolog with a small interface so components can take a Logger in
// their constructor and tests can swap in NewNopLogger or NewTestLogger.
//
// Basic Usage:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "orchestrator")
//	log.InfoWithFields("Follow set resolved", map[string]interface{}{
//	    "handle":   "alice",
//	    "accounts": 42,
//	    "source":   "cache",
//	})
//
// Console output is coloured unless Format is "json". When File is set, events
// are also appended to that file as JSON lines.
package logger
