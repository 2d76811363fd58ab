package database

import (
	"errors"
	"fmt"
)

// Backend bundles the stores a deployment runs on.
type Backend struct {
	Name   string
	Roster RosterRepository
	Ledger SessionLedger
	Photos PhotoStore
	// Uploads is optional
	Uploads UploadStore

	closers []func() error
}

// NewBackend assembles a backend. Closers run in reverse order on Close.
func NewBackend(name string, roster RosterRepository, ledger SessionLedger, photos PhotoStore, closers ...func() error) (*Backend, error) {
	if roster == nil || ledger == nil || photos == nil {
		return nil, fmt.Errorf("backend %s is incomplete", name)
	}
	return &Backend{
		Name:    name,
		Roster:  roster,
		Ledger:  ledger,
		Photos:  photos,
		closers: closers,
	}, nil
}

// Close releases every resource held by the backend.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
