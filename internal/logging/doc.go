// Package logging provides concrete implementations of the crdb.Logger interface.
//
// Available implementations:
//   - ZapLogger: Adapts a *zap.Logger; NewConsoleLogger builds one writing to stderr
//   - NullLogger: Discards all messages (useful for testing)
//
// All logger implementations are safe for concurrent use by multiple goroutines.
package logging
