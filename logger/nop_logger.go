package logger

type nopLogger struct{}

func (n nopLogger) Debug(msg string, fields ...Field) {}
func (n nopLogger) Error(msg string, fields ...Field) {}
func (n nopLogger) Info(msg string, fields ...Field)  {}
func (n nopLogger) Warn(msg string, fields ...Field)  {}
func (n nopLogger) Fatal(msg string, fields ...Field) {}

func (n nopLogger) With(fields ...Field) Logger { return n }

func NewNop() Logger {
	return nopLogger{}
}
