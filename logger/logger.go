package logger

// Field is a structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Logger is the structured logging surface used by every component.
type Logger interface {
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	// With returns a child logger that prepends fields to every entry.
	With(fields ...Field) Logger
}

func F(key string, val any) Field { return Field{Key: key, Value: val} }

// Err is shorthand for F("error", err).
func Err(err error) Field { return Field{Key: "error", Value: err} }
