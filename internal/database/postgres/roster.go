package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/facematch"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Roster is a PostgreSQL-backed database.RosterRepository.
// Writers hold an in-process lock per group and a row lock on the group row,
// so different processes sharing the database are serialized too.
type Roster struct {
	pool        *Pool
	locks       *database.KeyedMutex
	lockTimeout time.Duration

	Now func() time.Time
}

// NewRoster creates a new PostgreSQL roster.
func NewRoster(pool *Pool, lockTimeout time.Duration) *Roster {
	return &Roster{
		pool:        pool,
		locks:       database.NewKeyedMutex(lockTimeout),
		lockTimeout: lockTimeout,
		Now:         time.Now,
	}
}

func loadGroup(ctx context.Context, q queryer, groupID string, forUpdate bool) (*database.Group, error) {
	query := `SELECT id, display_name, created_at, updated_at FROM attendance_groups WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	g := &database.Group{Persons: []database.Person{}}
	err := q.QueryRowContext(ctx, query, groupID).Scan(&g.ID, &g.DisplayName, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", database.ErrGroupNotFound, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("query group: %w", mapError(err))
	}

	rows, err := q.QueryContext(ctx, `
		SELECT person_id, name FROM persons WHERE group_id = $1 ORDER BY position
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		p := database.Person{PhotoIDs: []string{}, Descriptors: []facematch.Descriptor{}}
		if err := rows.Scan(&p.PersonID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		index[p.PersonID] = len(g.Persons)
		g.Persons = append(g.Persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}

	photoRows, err := q.QueryContext(ctx, `
		SELECT person_id, photo_id, descriptor FROM person_photos
		WHERE group_id = $1 ORDER BY person_id, position
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer photoRows.Close()

	for photoRows.Next() {
		var personID, photoID string
		var vec pgvector.Vector
		if err := photoRows.Scan(&personID, &photoID, &vec); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		i, ok := index[personID]
		if !ok {
			continue
		}
		g.Persons[i].PhotoIDs = append(g.Persons[i].PhotoIDs, photoID)
		g.Persons[i].Descriptors = append(g.Persons[i].Descriptors, facematch.Descriptor(vec.Slice()))
	}
	if err := photoRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return g, nil
}

// replacePersons rewrites the roster of a group in roster order.
func replacePersons(ctx context.Context, tx *sql.Tx, g *database.Group) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM persons WHERE group_id = $1`, g.ID); err != nil {
		return fmt.Errorf("delete persons: %w", err)
	}
	for pos, p := range g.Persons {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO persons (group_id, person_id, name, position) VALUES ($1, $2, $3, $4)
		`, g.ID, p.PersonID, p.Name, pos); err != nil {
			return fmt.Errorf("insert person %s: %w", p.PersonID, mapError(err))
		}
		for i, photoID := range p.PhotoIDs {
			if i >= len(p.Descriptors) {
				break
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO person_photos (group_id, person_id, photo_id, position, descriptor)
				VALUES ($1, $2, $3, $4, $5)
			`, g.ID, p.PersonID, photoID, i, pgvector.NewVector(p.Descriptors[i])); err != nil {
				return fmt.Errorf("insert photo %s: %w", photoID, mapError(err))
			}
		}
	}
	return nil
}

// inTx runs fn in a transaction with the lock timeout applied.
func (r *Roster) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, lockTimeoutStatement(r.lockTimeout)); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapError(err))
	}
	return nil
}

// GetGroup retrieves a group with its persons and descriptors.
func (r *Roster) GetGroup(ctx context.Context, groupID string) (*database.Group, error) {
	return loadGroup(ctx, r.pool.DB(), groupID, false)
}

// ListGroups retrieves every group ordered by ID.
func (r *Roster) ListGroups(ctx context.Context) ([]database.Group, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM attendance_groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}

	groups := make([]database.Group, 0, len(ids))
	for _, id := range ids {
		g, err := r.GetGroup(ctx, id)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				continue // deleted meanwhile
			}
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, nil
}

// CreateGroup inserts an empty group.
func (r *Roster) CreateGroup(ctx context.Context, displayName string) (*database.Group, error) {
	g, err := database.NewGroup(displayName, r.Now())
	if err != nil {
		return nil, err
	}

	res, err := r.pool.Exec(ctx, `
		INSERT INTO attendance_groups (id, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, g.ID, g.DisplayName, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("group %s: %w", g.ID, database.ErrAlreadyExists)
	}
	return g, nil
}

// SaveGroup overwrites the group and its whole roster.
func (r *Roster) SaveGroup(ctx context.Context, g *database.Group) error {
	unlock, err := r.locks.Lock(ctx, g.ID)
	if err != nil {
		return err
	}
	defer unlock()

	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_groups (id, display_name, created_at, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at
		`, g.ID, g.DisplayName, g.CreatedAt, g.UpdatedAt); err != nil {
			return fmt.Errorf("upsert group: %w", mapError(err))
		}
		return replacePersons(ctx, tx, g)
	})
}

// UpdateGroup locks the group row, applies fn and writes the result.
func (r *Roster) UpdateGroup(ctx context.Context, groupID string, fn func(g *database.Group) error) (*database.Group, error) {
	unlock, err := r.locks.Lock(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var updated *database.Group
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		g, err := loadGroup(ctx, tx, groupID, true)
		if err != nil {
			return err
		}
		if err := fn(g); err != nil {
			return err
		}
		g.UpdatedAt = r.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE attendance_groups SET display_name = $2, updated_at = $3 WHERE id = $1
		`, g.ID, g.DisplayName, g.UpdatedAt); err != nil {
			return fmt.Errorf("update group: %w", mapError(err))
		}
		if err := replacePersons(ctx, tx, g); err != nil {
			return err
		}
		updated = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteGroup removes the group; persons and photos cascade.
func (r *Roster) DeleteGroup(ctx context.Context, groupID string) error {
	unlock, err := r.locks.Lock(ctx, groupID)
	if err != nil {
		return err
	}
	defer unlock()

	var n int64
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM attendance_groups WHERE id = $1`, groupID)
		if err != nil {
			return fmt.Errorf("delete group: %w", mapError(err))
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", database.ErrGroupNotFound, groupID)
	}
	return nil
}

// UpsertPersons renames existing persons and appends new ones.
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
