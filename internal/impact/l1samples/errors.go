package l1samples

import (
	"fmt"
	"strings"
)

// ConfigError reports an invalid pipeline parameter. It is raised before any
// data is processed.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SchemaError reports input data that is missing required columns or holds
// values that cannot be parsed.
type SchemaError struct {
	Missing []string
	Row     int // 1-based data row, 0 when the error is about the header
	Column  string
	Reason  string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("schema: missing required columns: %s", strings.Join(e.Missing, ", "))
	}
	if e.Row > 0 {
		return fmt.Sprintf("schema: row %d column %q: %s", e.Row, e.Column, e.Reason)
	}
	return "schema: " + e.Reason
}
