package domain

import "fmt"

// ConfigError marks a problem in operator supplied configuration: a config
// file, a grading document or a cron expression. It is fatal at startup.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(source string, format string, args ...any) *ConfigError {
	return &ConfigError{Source: source, Err: fmt.Errorf(format, args...)}
}
