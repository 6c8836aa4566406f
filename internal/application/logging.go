package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/room-scheduler/internal/logging"
	"github.com/example/room-scheduler/internal/occurrence"
	"github.com/example/room-scheduler/internal/recurrence"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// serviceLogger prefers the request logger carried on ctx over the one the
// service was built with.
func serviceLogger(ctx context.Context, fallback *slog.Logger, service, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = defaultLogger(fallback)
	}
	logger = logger.With("service", service)
	if operation != "" {
		logger = logger.With("operation", operation)
	}
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}
	return logger
}

// errorKinds is checked in order; the first sentinel matched names the kind.
var errorKinds = []struct {
	target error
	kind   string
}{
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{occurrence.ErrNoSuchOccurrence, "no_such_occurrence"},
	{occurrence.ErrInvalidInterval, "invalid_interval"},
	{recurrence.ErrInvalidRule, "invalid_rule"},
	{recurrence.ErrInvalidWindow, "invalid_window"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "canceled"},
}

// ErrorKind labels err for the "error_kind" log attribute.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	var storeErr *occurrence.StoreError
	if errors.As(err, &storeErr) {
		return "store"
	}
	return "unexpected"
}
