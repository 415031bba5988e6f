// Package logger builds log/slog loggers for the token store binaries.
//
// New applies functional options on top of production defaults (JSON, info
// level, stdout). WithEnvironment switches to text output and debug level for
// development. Context extractors registered with WithContextExtractors run on
// every record, so request-scoped values reach the log without threading
// loggers through call chains.
//
// The attribute helpers (Component, Operation, UserID, Error, Duration, ...)
// keep key names consistent across packages:
//
//	log := logger.New(logger.WithEnvironment(environment.Production, "tokenstore"))
//	log.Error("purge failed", logger.Component("cli"), logger.Error(err))
package logger
