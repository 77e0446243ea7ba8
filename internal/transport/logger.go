package transport

import "log/slog"

func transportLogger(name string, args ...any) *slog.Logger {
	return slog.Default().With(append([]any{"component", "transport." + name}, args...)...)
}
