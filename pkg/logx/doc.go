// Package logx is relaybot's structured logging on top of zerolog.
//
// A Service owns the sinks: readable console lines, JSON lines in a file,
// and an optional rate-limited chat sink that forwards warnings to the
// operator. Loggers handed out by a Service follow Service.Apply, so log
// settings reload without restarting.
package logx
