package relay

import (
	"errors"
	"fmt"
)

var (
	ErrRelayNotFound  = errors.New("relay not found")
	ErrPollInProgress = errors.New("relay is being polled by another process")
)

// ConfigError rejects an operation before any work starts: unknown or
// disabled relay, missing settings, or an action the relay mode forbids.
type ConfigError struct {
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(format string, args ...interface{}) error {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

func relayNotFound(id string) error {
	return &ConfigError{Message: fmt.Sprintf("relay %s not found", id), Err: ErrRelayNotFound}
}
