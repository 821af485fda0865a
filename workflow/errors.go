package workflow

import (
	"errors"
	"fmt"
)

// ErrConfig marks configuration errors. They are fatal and never retried.
var ErrConfig = errors.New("configuration error")

// ConfigError names the pipeline and the missing or invalid field.
type ConfigError struct {
	Pipeline string
	Field    string
	Reason   string // defaults to "is required"
}

func (e *ConfigError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is required"
	}
	return fmt.Sprintf("pipeline %q: %s %s", e.Pipeline, e.Field, reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }
