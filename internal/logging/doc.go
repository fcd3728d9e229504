// Package logging assembles structured slog loggers and formatting helpers used
// across the vidpipe workers and servers.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing (including size-based rotation of the log file), and exposes
// context-aware helpers so worker code can automatically tag log lines with
// video IDs, worker names, and correlation IDs. The package also provides a
// no-op logger for tests and wiring code that cannot fail.
package logging
