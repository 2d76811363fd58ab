package database

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every backend. Callers test them with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrGroupNotFound   = fmt.Errorf("group %w", ErrNotFound)
	ErrPersonNotFound  = fmt.Errorf("person %w", ErrNotFound)
	ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)

	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidName   = errors.New("invalid name")

	// ErrBusy means a record lock could not be acquired in time. The operation
	// made no changes and can be retried.
	ErrBusy = errors.New("record is busy, retry later")
)
