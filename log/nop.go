package log

import "context"

// NewNop returns a Logger that discards everything. It is the default
// wherever a nil logger would otherwise be dereferenced.
func NewNop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Log(context.Context, Level, string, ...Field) {}

func (n nopLogger) With(...Field) Logger { return n }

func (nopLogger) Enabled(Level) bool { return false }

func (nopLogger) Sync(context.Context) error { return nil }
