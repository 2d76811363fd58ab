package database

import (
	"context"
)

// RosterReader provides read-only access to groups.
type RosterReader interface {
	// GetGroup returns a copy of the group, or ErrGroupNotFound
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	// ListGroups returns all groups ordered by ID
	ListGroups(ctx context.Context) ([]Group, error)
}

// RosterRepository is the durable store of groups, persons and reference descriptors.
// Every read-modify-write runs under a per-group lock; different groups never contend.
type RosterRepository interface {
	RosterReader

	// CreateGroup creates an empty group; ErrAlreadyExists if the normalized ID is taken
	CreateGroup(ctx context.Context, displayName string) (*Group, error)
	// SaveGroup overwrites the whole record (last writer wins)
	SaveGroup(ctx context.Context, g *Group) error
	// UpdateGroup loads the group, applies fn and saves the result atomically
	// with respect to other updates of the same group. If fn returns an error
	// nothing is written.
	UpdateGroup(ctx context.Context, groupID string, fn func(g *Group) error) (*Group, error)
	// DeleteGroup removes the group record
	DeleteGroup(ctx context.Context, groupID string) error
	// UpsertPersons renames existing persons and appends new ones; idempotent
	UpsertPersons(ctx context.Context, groupID string, persons []PersonInput) (int, error)
}

// SessionLedger stores immutable attendance sessions and the daily aggregate.
type SessionLedger interface {
	// AppendSession writes a new session; ErrAlreadyExists on an ID collision
	AppendSession(ctx context.Context, s *Session) (SessionInfo, error)
	// ListSessions returns the sessions of a group, newest first
	ListSessions(ctx context.Context, groupID string) ([]SessionInfo, error)
	// ReadSession returns the tabular rows of a session, or ErrSessionNotFound
	ReadSession(ctx context.Context, groupID, sessionID string) ([][]string, error)
	// DeleteSessions removes the whole session history of a group
	DeleteSessions(ctx context.Context, groupID string) error
	// UpsertDailyAggregate overwrites the (date, group) row or appends it
	UpsertDailyAggregate(ctx context.Context, agg DailyAggregate) error
	// ListDailyAggregates returns every aggregate row
	ListDailyAggregates(ctx context.Context) ([]DailyAggregate, error)
}

// PhotoStore keeps the raw bytes of reference photos.
type PhotoStore interface {
	SavePhoto(ctx context.Context, groupID, photoID string, data []byte) error
	LoadPhoto(ctx context.Context, groupID, photoID string) ([]byte, error)
	// DeletePhoto removes a photo; a missing photo is not an error
	DeletePhoto(ctx context.Context, groupID, photoID string) error
	DeleteGroupPhotos(ctx context.Context, groupID string) error
}

// UploadStore archives group photos submitted for recognition runs.
// Backends without an archive leave it nil.
type UploadStore interface {
	SaveUpload(ctx context.Context, name string, data []byte) (string, error)
}
