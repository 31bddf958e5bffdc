package rfphy

// Logger defines the logging interface for simple string messages.
// Drivers and the facade log plain strings so the same interface can be backed
// by a serial console on a microcontroller or the standard log package on a host.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

var globalLogger Logger = &nopLogger{}

// SetLogger sets the package default logger used by Radio values and by
// drivers whose config does not carry a Logger. Passing nil silences logging.
func SetLogger(l Logger) {
	if l == nil {
		globalLogger = &nopLogger{}
		return
	}
	globalLogger = l
}

// DefaultLogger returns the package default logger.
func DefaultLogger() Logger {
	return globalLogger
}

// NopLogger returns a logger that discards every message.
func NopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing.
type nopLogger struct{}

func (l *nopLogger) Debug(msg string) {}
func (l *nopLogger) Info(msg string)  {}
func (l *nopLogger) Warn(msg string)  {}
func (l *nopLogger) Error(msg string) {}
