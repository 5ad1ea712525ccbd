package tools

import (
	"context"
	"fmt"
)

// Reporter receives human-readable progress messages from a running tool.
// The engine installs one per tool call so long-running tools can surface
// status lines to consumers.
type Reporter func(message string)

type reporterKey struct{}

// WithReporter returns a context carrying the progress reporter.
func WithReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, reporterKey{}, r)
}

// Progress reports a progress message from within a tool handler. It is a
// no-op when the context carries no reporter, so handlers can call it
// unconditionally.
func Progress(ctx context.Context, format string, args ...any) {
	r, ok := ctx.Value(reporterKey{}).(Reporter)
	if !ok || r == nil {
		return
	}
	if len(args) == 0 {
		r(format)
		return
	}
	r(fmt.Sprintf(format, args...))
}
