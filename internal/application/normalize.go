package application

import (
	"strings"
	"time"
)

// normalizeTime stores instants in UTC at whole-second precision, the
// resolution every backend keeps.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func normalizeOptionalTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := normalizeTime(*t)
	return &v
}

// normalizeOptionalString treats blank strings as absent.
func normalizeOptionalString(value *string) *string {
	if value == nil {
		return nil
	}
	if trimmed := strings.TrimSpace(*value); trimmed != "" {
		return &trimmed
	}
	return nil
}
