// Package file keeps rosters, sessions and photos as flat files under one
// data directory, in the layout the attendance tools have always used.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/kozaktomas/attendance/internal/database"
)

// Directory and file names below the data directory.
const (
	RosterDir     = "data"
	PhotoDir      = "known_faces"
	SessionDir    = "attendance_data"
	UploadDir     = "uploads"
	DailyFileName = "overall_attendance.csv"
)

// Open prepares the directory tree under root and returns a file backend.
func Open(root string, lockTimeout time.Duration) (*database.Backend, error) {
	for _, dir := range []string{RosterDir, PhotoDir, SessionDir, UploadDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	b, err := database.NewBackend("file",
		NewRoster(filepath.Join(root, RosterDir), lockTimeout),
		NewLedger(filepath.Join(root, SessionDir), lockTimeout),
		NewPhotoStore(filepath.Join(root, PhotoDir)),
	)
	if err != nil {
		return nil, err
	}
	b.Uploads = NewUploadStore(filepath.Join(root, UploadDir))
	return b, nil
}

// validName reports whether name can be used as a single path component.
func validName(name string) bool {
	return name != "" && name == filepath.Base(name) && !strings.HasPrefix(name, ".")
}

// writeNew writes data to path and fails with ErrAlreadyExists if path is taken.
// The content becomes visible in one step, never half-written.
func writeNew(path string, data []byte) error {
	t, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = t.Cleanup() }()

	if _, err := t.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := t.Chmod(0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := t.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := os.Link(t.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", filepath.Base(path), database.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to publish %s: %w", path, err)
	}
	return nil
}

// UploadStore archives recognition photos under uploads/ with random names.
type UploadStore struct {
	dir string
}

// NewUploadStore creates an upload archive rooted at dir
func NewUploadStore(dir string) *UploadStore {
	return &UploadStore{dir: dir}
}

// SaveUpload stores data as <uuid><ext of name> and returns the stored name.
func (u *UploadStore) SaveUpload(ctx context.Context, name string, data []byte) (string, error) {
	stored := uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(name)))
	if err := renameio.WriteFile(filepath.Join(u.dir, stored), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to archive upload: %w", err)
	}
	return stored, nil
}
