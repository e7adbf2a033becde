package aigate

// Field is a key/value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the logging hook the gate, resolver, and cost tracker write
// through. Denials and config conflicts land on Warn; store trouble on
// Error. Adapters live under logger/; zero value behavior is no logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// NoopLogger discards everything. It is the default when Config.Logger
// is nil.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
