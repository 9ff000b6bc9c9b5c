package log

import "context"

// Logger is the narrow logging surface handed to the server wiring. Library
// packages log through zerolog's package-level logger directly; this
// interface only exists where a logger is injected (request logging, main's
// lifecycle messages) so those spots stay swappable in tests.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	Fatal(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}
