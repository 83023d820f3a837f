// Package log provides the leveled logging interface used throughout docqa.
//
// The Logger interface carries four printf-style methods (Debug, Info, Warn, Error).
// The production implementation wraps github.com/kataras/golog; New additionally tees
// the output into a size-rotated file managed by lumberjack when a path is configured:
//
//	logger := log.New(log.LogLevelInfo, log.FileOptions{Path: "logs/docqa.log", MaxSizeMB: 10})
//	logger.Info("indexed %d chunks", n)
//
// A package-level logger is available through Debug/Info/Warn/Error for code that
// does not carry a logger of its own; SetDefaultLogger replaces it at startup.
// NoOpLogger discards everything and is what tests pass around.
package log
