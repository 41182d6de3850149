package drive

// Logger is the engine's structured log sink. Args alternate key and value
// in the slog style.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger drops everything.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// scopedLogger prepends fixed attributes to every record.
type scopedLogger struct {
	next  Logger
	attrs []any
}

// forUser tags records with the acting user's name and storage root.
func forUser(l Logger, u *User) Logger {
	return scopedLogger{next: l, attrs: []any{"user", u.Username, "root", u.RootName}}
}

func (s scopedLogger) with(args []any) []any {
	out := make([]any, 0, len(s.attrs)+len(args))
	return append(append(out, s.attrs...), args...)
}

func (s scopedLogger) Debug(msg string, args ...any) { s.next.Debug(msg, s.with(args)...) }
func (s scopedLogger) Info(msg string, args ...any)  { s.next.Info(msg, s.with(args)...) }
func (s scopedLogger) Warn(msg string, args ...any)  { s.next.Warn(msg, s.with(args)...) }
func (s scopedLogger) Error(msg string, args ...any) { s.next.Error(msg, s.with(args)...) }
