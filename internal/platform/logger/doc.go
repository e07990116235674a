// Package logger sets up the service's JSON slog logger and carries request
// or job scoped loggers through a context.Context.
package logger
