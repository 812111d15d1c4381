package actor

// Logger defines the logging interface for the actor runtime.
// *logging.Logger and *slog.Logger both satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// taggedLogger prepends fixed key-value pairs to every call.
type taggedLogger struct {
	base Logger
	tags []any
}

func withTags(base Logger, tags ...any) Logger {
	return taggedLogger{base: base, tags: tags}
}

func (l taggedLogger) merge(args []any) []any {
	out := make([]any, 0, len(l.tags)+len(args))
	out = append(out, l.tags...)
	return append(out, args...)
}

func (l taggedLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.merge(args)...) }
func (l taggedLogger) Info(msg string, args ...any)  { l.base.Info(msg, l.merge(args)...) }
func (l taggedLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.merge(args)...) }
func (l taggedLogger) Error(msg string, args ...any) { l.base.Error(msg, l.merge(args)...) }
