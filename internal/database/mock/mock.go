// Package mock provides in-memory implementations of the database interfaces.
// It backs the "memory" backend and the handler and service tests.
package mock

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/attendance/internal/database"
)

// MockRoster is an in-memory database.RosterRepository
type MockRoster struct {
	mu     sync.RWMutex
	groups map[string]*database.Group
	locks  *database.KeyedMutex

	Now func() time.Time

	// Error injection
	GetError    error
	ListError   error
	CreateError error
	SaveError   error
	UpdateError error
	DeleteError error
}

// NewMockRoster creates an empty roster whose per-group locks time out after lockTimeout
func NewMockRoster(lockTimeout time.Duration) *MockRoster {
	return &MockRoster{
		groups: make(map[string]*database.Group),
		locks:  database.NewKeyedMutex(lockTimeout),
		Now:    time.Now,
	}
}

// Locks exposes the per-group lock so tests can hold a group busy
func (m *MockRoster) Locks() *database.KeyedMutex {
	return m.locks
}

// AddGroup stores a copy of g, replacing any group with the same ID
func (m *MockRoster) AddGroup(g *database.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = g.Clone()
}

func (m *MockRoster) load(groupID string) (*database.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrGroupNotFound, groupID)
	}
	return g.Clone(), nil
}

// GetGroup returns a copy of the group
func (m *MockRoster) GetGroup(ctx context.Context, groupID string) (*database.Group, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	return m.load(groupID)
}

// ListGroups returns every group ordered by ID
func (m *MockRoster) ListGroups(ctx context.Context) ([]database.Group, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]database.Group, 0, len(m.groups))
	for _, id := range slices.Sorted(maps.Keys(m.groups)) {
		result = append(result, *m.groups[id].Clone())
	}
	return result, nil
}

// CreateGroup creates an empty group
func (m *MockRoster) CreateGroup(ctx context.Context, displayName string) (*database.Group, error) {
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	g, err := database.NewGroup(displayName, m.Now())
	if err != nil {
		return nil, err
	}

	unlock, err := m.locks.Lock(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; ok {
		return nil, fmt.Errorf("group %s: %w", g.ID, database.ErrAlreadyExists)
	}
	m.groups[g.ID] = g.Clone()
	return g, nil
}

// SaveGroup overwrites the group record
func (m *MockRoster) SaveGroup(ctx context.Context, g *database.Group) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	unlock, err := m.locks.Lock(ctx, g.ID)
	if err != nil {
		return err
	}
	defer unlock()

	m.AddGroup(g)
	return nil
}

// UpdateGroup applies fn to a copy of the group and stores it when fn succeeds
func (m *MockRoster) UpdateGroup(ctx context.Context, groupID string, fn func(g *database.Group) error) (*database.Group, error) {
	if m.UpdateError != nil {
		return nil, m.UpdateError
	}
	unlock, err := m.locks.Lock(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	g, err := m.load(groupID)
	if err != nil {
		return nil, err
	}
	if err := fn(g); err != nil {
		return nil, err
	}
	g.UpdatedAt = m.Now()
	m.AddGroup(g)
	return g, nil
}

// DeleteGroup removes the group
func (m *MockRoster) DeleteGroup(ctx context.Context, groupID string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	unlock, err := m.locks.Lock(ctx, groupID)
	if err != nil {
		return err
	}
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return fmt.Errorf("%w: %s", database.ErrGroupNotFound, groupID)
	}
	delete(m.groups, groupID)
	return nil
}

// UpsertPersons renames existing persons and appends new ones
func (m *MockRoster) UpsertPersons(ctx context.Context, groupID string, persons []database.PersonInput) (int, error) {
	var n int
	_, err := m.UpdateGroup(ctx, groupID, func(g *database.Group) error {
		n = g.ApplyPersonUpserts(persons)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// MockLedger is an in-memory database.SessionLedger
type MockLedger struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]byte // group -> session ID -> report
	daily    []database.DailyAggregate

	// Error injection
	AppendError error
	ListError   error
	ReadError   error
	DailyError  error
}

// NewMockLedger creates an empty ledger
func NewMockLedger() *MockLedger {
	return &MockLedger{
		sessions: make(map[string]map[string][]byte),
	}
}

// AppendSession stores a new session report
func (m *MockLedger) AppendSession(ctx context.Context, s *database.Session) (database.SessionInfo, error) {
	if m.AppendError != nil {
		return database.SessionInfo{}, m.AppendError
	}
	data, err := database.EncodeSessionReport(s)
	if err != nil {
		return database.SessionInfo{}, err
	}
	id := database.SessionID(s.GroupID, s.TakenAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.sessions[s.GroupID]
	if !ok {
		group = make(map[string][]byte)
		m.sessions[s.GroupID] = group
	}
	if _, exists := group[id]; exists {
		return database.SessionInfo{}, fmt.Errorf("session %s: %w", id, database.ErrAlreadyExists)
	}
	group[id] = data

	info, _ := database.ParseSessionID(id)
	return info, nil
}

// ListSessions returns the sessions of a group, newest first
func (m *MockLedger) ListSessions(ctx context.Context, groupID string) ([]database.SessionInfo, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := []database.SessionInfo{}
	for id := range m.sessions[groupID] {
		if info, ok := database.ParseSessionID(id); ok {
			infos = append(infos, info)
		}
	}
	database.SortSessionInfos(infos)
	return infos, nil
}

// ReadSession returns the rows of a stored session
func (m *MockLedger) ReadSession(ctx context.Context, groupID, sessionID string) ([][]string, error) {
	if m.ReadError != nil {
		return nil, m.ReadError
	}
	m.mu.RLock()
	data, ok := m.sessions[groupID][sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrSessionNotFound, sessionID)
	}
	return database.ParseReportRows(data)
}

// DeleteSessions drops the history of a group
func (m *MockLedger) DeleteSessions(ctx context.Context, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, groupID)
	return nil
}

// UpsertDailyAggregate overwrites or appends the (date, group) row
func (m *MockLedger) UpsertDailyAggregate(ctx context.Context, agg database.DailyAggregate) error {
	if m.DailyError != nil {
		return m.DailyError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daily = database.UpsertDailyRow(m.daily, agg)
	return nil
}

// ListDailyAggregates returns a copy of the aggregate rows
func (m *MockLedger) ListDailyAggregates(ctx context.Context) ([]database.DailyAggregate, error) {
	if m.DailyError != nil {
		return nil, m.DailyError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.daily), nil
}

// SessionCount returns the number of stored sessions of a group
func (m *MockLedger) SessionCount(groupID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[groupID])
}

// MockPhotoStore is an in-memory database.PhotoStore
type MockPhotoStore struct {
	mu     sync.RWMutex
	photos map[string]map[string][]byte

	SaveError error
}

// NewMockPhotoStore creates an empty photo store
func NewMockPhotoStore() *MockPhotoStore {
	return &MockPhotoStore{photos: make(map[string]map[string][]byte)}
}

// SavePhoto stores a copy of data
func (m *MockPhotoStore) SavePhoto(ctx context.Context, groupID, photoID string, data []byte) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.photos[groupID] == nil {
		m.photos[groupID] = make(map[string][]byte)
	}
	m.photos[groupID][photoID] = slices.Clone(data)
	return nil
}

// LoadPhoto returns the stored bytes
func (m *MockPhotoStore) LoadPhoto(ctx context.Context, groupID, photoID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.photos[groupID][photoID]
	if !ok {
		return nil, fmt.Errorf("photo %s/%s: %w", groupID, photoID, database.ErrNotFound)
	}
	return slices.Clone(data), nil
}

// DeletePhoto removes a photo; missing photos are ignored
func (m *MockPhotoStore) DeletePhoto(ctx context.Context, groupID, photoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.photos[groupID], photoID)
	return nil
}

// DeleteGroupPhotos removes every photo of a group
func (m *MockPhotoStore) DeleteGroupPhotos(ctx context.Context, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.photos, groupID)
	return nil
}

// PhotoIDs lists the stored photo IDs of a group in sorted order
func (m *MockPhotoStore) PhotoIDs(groupID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.photos[groupID]))
	for id := range m.photos[groupID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewBackend wires the three in-memory stores into a database.Backend
func NewBackend(lockTimeout time.Duration) (*database.Backend, *MockRoster, *MockLedger, *MockPhotoStore) {
	roster := NewMockRoster(lockTimeout)
	ledger := NewMockLedger()
	photos := NewMockPhotoStore()
	b, _ := database.NewBackend("memory", roster, ledger, photos)
	return b, roster, ledger, photos
}
