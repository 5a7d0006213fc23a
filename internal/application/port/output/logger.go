package output

// Logger is the leveled logging surface injected into components.
// There is no package-level default: the DI container constructs one
// logger at process start and hands it to every component.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// NopLogger discards everything; used as a test default
type NopLogger struct{}

func (NopLogger) Debug(format string, args ...interface{}) {}
func (NopLogger) Info(format string, args ...interface{})  {}
func (NopLogger) Warn(format string, args ...interface{})  {}
func (NopLogger) Error(format string, args ...interface{}) {}
