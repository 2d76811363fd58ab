package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/kozaktomas/attendance/internal/database"
)

// PhotoStore keeps reference photos as known_faces/<group_id>/<photo_id>.
type PhotoStore struct {
	dir string
}

// NewPhotoStore creates a photo store rooted at dir
func NewPhotoStore(dir string) *PhotoStore {
	return &PhotoStore{dir: dir}
}

func (p *PhotoStore) path(groupID, photoID string) (string, error) {
	if !database.ValidGroupID(groupID) || !validName(photoID) {
		return "", fmt.Errorf("%w: photo %s/%s", database.ErrInvalidName, groupID, photoID)
	}
	return filepath.Join(p.dir, groupID, photoID), nil
}

// SavePhoto writes (or replaces) a reference photo
func (p *PhotoStore) SavePhoto(ctx context.Context, groupID, photoID string, data []byte) error {
	path, err := p.path(groupID, photoID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create photo dir: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save photo %s: %w", photoID, err)
	}
	return nil
}

// LoadPhoto reads a reference photo
func (p *PhotoStore) LoadPhoto(ctx context.Context, groupID, photoID string) ([]byte, error) {
	path, err := p.path(groupID, photoID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("photo %s/%s: %w", groupID, photoID, database.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read photo %s: %w", photoID, err)
	}
	return data, nil
}

// DeletePhoto removes a reference photo; a missing file is ignored
func (p *PhotoStore) DeletePhoto(ctx context.Context, groupID, photoID string) error {
	path, err := p.path(groupID, photoID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete photo %s: %w", photoID, err)
	}
	return nil
}

// DeleteGroupPhotos removes the photo directory of a group
func (p *PhotoStore) DeleteGroupPhotos(ctx context.Context, groupID string) error {
	if !database.ValidGroupID(groupID) {
		return fmt.Errorf("%w: %s", database.ErrGroupNotFound, groupID)
	}
	if err := os.RemoveAll(filepath.Join(p.dir, groupID)); err != nil {
		return fmt.Errorf("failed to delete photos of %s: %w", groupID, err)
	}
	return nil
}
