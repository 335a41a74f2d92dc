package history

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("history record not found")

	// ErrNoChange may be returned by an UpdateField mutator to skip the write.
	ErrNoChange = errors.New("no change")
)

// StorageError reports a failed read or write against the event store.
type StorageError struct {
	Op    string
	Scope string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history %s %s: %v", e.Op, e.Scope, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
