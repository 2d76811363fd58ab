package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance/internal/database"
)

// Roster stores one JSON document per group: data/<group_id>.json.
type Roster struct {
	dir   string
	locks *database.KeyedMutex

	Now func() time.Time
}

// NewRoster creates a roster rooted at dir
func NewRoster(dir string, lockTimeout time.Duration) *Roster {
	return &Roster{
		dir:   dir,
		locks: database.NewKeyedMutex(lockTimeout),
		Now:   time.Now,
	}
}

// groupRecord is the on-disk shape of a group. Timestamps are kept as strings
// because older records carry ISO timestamps without a zone.
type groupRecord struct {
	ID          string            `json:"safe_name"`
	DisplayName string            `json:"name"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
	Persons     []database.Person `json:"students"`
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (r *Roster) path(groupID string) string {
	return filepath.Join(r.dir, groupID+".json")
}

func (r *Roster) read(groupID string) (*database.Group, error) {
	if !database.ValidGroupID(groupID) {
		return nil, fmt.Errorf("%w: %s", database.ErrGroupNotFound, groupID)
	}
	data, err := os.ReadFile(r.path(groupID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", database.ErrGroupNotFound, groupID)
		}
		return nil, fmt.Errorf("failed to read group %s: %w", groupID, err)
	}

	var rec groupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode group %s: %w", groupID, err)
	}

	g := &database.Group{
		ID:          groupID,
		DisplayName: rec.DisplayName,
		CreatedAt:   parseTimestamp(rec.CreatedAt),
		UpdatedAt:   parseTimestamp(rec.UpdatedAt),
		Persons:     rec.Persons,
	}
	if g.Persons == nil {
		g.Persons = []database.Person{}
	}
	for i := range g.Persons {
		if g.Persons[i].Align() {
			zap.L().Warn("person references misaligned, truncated",
				zap.String("group", groupID),
				zap.String("person", g.Persons[i].PersonID))
		}
	}
	return g, nil
}

func (r *Roster) write(g *database.Group) error {
	rec := groupRecord{
		ID:          g.ID,
		DisplayName: g.DisplayName,
		CreatedAt:   g.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   g.UpdatedAt.Format(time.RFC3339Nano),
		Persons:     g.Persons,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode group %s: %w", g.ID, err)
	}
	if err := renameio.WriteFile(r.path(g.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write group %s: %w", g.ID, err)
	}
	return nil
}

// GetGroup reads one group record
func (r *Roster) GetGroup(ctx context.Context, groupID string) (*database.Group, error) {
	return r.read(groupID)
}

// ListGroups reads every group record, ordered by ID
func (r *Roster) ListGroups(ctx context.Context) ([]database.Group, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []database.Group{}, nil
		}
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if id, ok := strings.CutSuffix(e.Name(), ".json"); ok && !e.IsDir() && database.ValidGroupID(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	groups := make([]database.Group, 0, len(ids))
	for _, id := range ids {
		g, err := r.read(id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, nil
}

// CreateGroup writes a new empty group record
func (r *Roster) CreateGroup(ctx context.Context, displayName string) (*database.Group, error) {
	g, err := database.NewGroup(displayName, r.Now())
	if err != nil {
		return nil, err
	}

	unlock, err := r.locks.Lock(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := os.Stat(r.path(g.ID)); err == nil {
		return nil, fmt.Errorf("group %s: %w", g.ID, database.ErrAlreadyExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to check group %s: %w", g.ID, err)
	}
	if err := r.write(g); err != nil {
		return nil, err
	}
	return g, nil
}

// SaveGroup overwrites the group record
func (r *Roster) SaveGroup(ctx context.Context, g *database.Group) error {
	if !database.ValidGroupID(g.ID) {
		return fmt.Errorf("%w: group id %q", database.ErrInvalidName, g.ID)
	}
	unlock, err := r.locks.Lock(ctx, g.ID)
	if err != nil {
		return err
	}
	defer unlock()
	return r.write(g)
}

// UpdateGroup runs fn on the current record under the group lock
func (r *Roster) UpdateGroup(ctx context.Context, groupID string, fn func(g *database.Group) error) (*database.Group, error) {
	unlock, err := r.locks.Lock(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	g, err := r.read(groupID)
	if err != nil {
		return nil, err
	}
	if err := fn(g); err != nil {
		return nil, err
	}
	g.UpdatedAt = r.Now()
	if err := r.write(g); err != nil {
		return nil, err
	}
	return g, nil
}

// DeleteGroup removes the group record
func (r *Roster) DeleteGroup(ctx context.Context, groupID string) error {
	if !database.ValidGroupID(groupID) {
		return fmt.Errorf("%w: %s", database.ErrGroupNotFound, groupID)
	}
	unlock, err := r.locks.Lock(ctx, groupID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(r.path(groupID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", database.ErrGroupNotFound, groupID)
		}
		return fmt.Errorf("failed to delete group %s: %w", groupID, err)
	}
	return nil
}

// UpsertPersons renames existing persons and appends new ones
func (r *Roster) UpsertPersons(ctx context.Context, groupID string, persons []database.PersonInput) (int, error) {
	var n int
	_, err := r.UpdateGroup(ctx, groupID, func(g *database.Group) error {
		n = g.ApplyPersonUpserts(persons)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
