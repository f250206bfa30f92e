// Package logging provides structured logging for the DTV+ bridge and CLI.
//
// This package wraps a package-level zap logger with convenience functions
// used throughout the bridge, plus a few helpers for the controller-specific
// events worth logging consistently (exchanges, polls, raw framing dumps).
//
// # Log Levels
//
//   - Debug: raw response dumps, successful exchanges and polls
//   - Info: bridge lifecycle, polling start/stop, listener events
//   - Warn: failed exchanges, subscriber callback failures
//   - Error: failed polls, startup failures
//
// # Configuration
//
// The CLI stays silent unless DTVPLUS_LOG_LEVEL is set:
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// The bridge passes its configured level explicitly:
//
//	logging.Initialize(settings.LogLevel)
//
// # Controller Logging
//
//	logging.LogExchange("192.168.1.40", "system_info.cgi", elapsed, err)
//	logging.LogPoll("192.168.1.40", "status", err)
//	logging.LogRawBytes("system_info.cgi response", raw)
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
