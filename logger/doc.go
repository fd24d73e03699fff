// Package logger provides structured logging for flowkit using zerolog.
//
// Engine internals log through component loggers obtained from the named
// registry: the scheduler package logs lifecycle events and task panics, the
// stream package logs dropped signals and the signals observed by Log.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("scheduler")
//	log.Warn("task panicked", logger.Fields(logger.FieldScheduler, "io"))
package logger
