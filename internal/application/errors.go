package application

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

var (
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists reports an identity collision in storage.
	ErrAlreadyExists = errors.New("application: already exists")
)

// ValidationError lists every rejected input field with a message fit for
// end users. errors.Is sees through it to the sentinel behind each field.
type ValidationError struct {
	FieldErrors map[string]string

	causes []error
}

func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	var b strings.Builder
	b.WriteString("validation failed: ")
	for i, field := range slices.Sorted(maps.Keys(v.FieldErrors)) {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(field + ": " + v.FieldErrors[field])
	}
	return b.String()
}

func (v *ValidationError) Unwrap() []error {
	if v == nil {
		return nil
	}
	return v.causes
}

func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = map[string]string{}
	}
	v.FieldErrors[field] = message
}

func (v *ValidationError) addCause(field string, cause error) {
	v.add(field, cause.Error())
	v.causes = append(v.causes, cause)
}

func (v *ValidationError) merge(other *ValidationError) {
	if !other.HasErrors() {
		return
	}
	for field, message := range other.FieldErrors {
		v.add(field, message)
	}
	v.causes = append(v.causes, other.causes...)
}
