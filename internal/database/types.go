package database

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/attendance/internal/facematch"
)

// Status is the attendance state of one person in one session.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// ParseStatus accepts "present"/"absent" in any case. Anything else is absent.
func ParseStatus(s string) Status {
	if strings.EqualFold(strings.TrimSpace(s), string(StatusPresent)) {
		return StatusPresent
	}
	return StatusAbsent
}

// Person is an enrolled member of a group with its reference descriptors.
// PhotoIDs and Descriptors are aligned 1:1.
type Person struct {
	PersonID    string                 `json:"student_id"`
	Name        string                 `json:"name"`
	PhotoIDs    []string               `json:"photos"`
	Descriptors []facematch.Descriptor `json:"encodings"`
}

// PersonInput is one roster row supplied by a caller.
type PersonInput struct {
	PersonID string `json:"student_id" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
}

// Group is a class: the unit of enrollment and attendance.
// ID is the normalized display name and addresses the record in every backend.
type Group struct {
	ID          string    `json:"safe_name"`
	DisplayName string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Persons     []Person  `json:"students"`
}

// NewGroup creates an empty group whose ID is derived from displayName.
func NewGroup(displayName string, now time.Time) (*Group, error) {
	displayName = strings.TrimSpace(displayName)
	id := facematch.NormalizeGroupID(displayName)
	if id == "" {
		return nil, fmt.Errorf("%w: %q has no usable characters", ErrInvalidName, displayName)
	}
	return &Group{
		ID:          id,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
		Persons:     []Person{},
	}, nil
}

// ValidGroupID reports whether id is already in normalized form, which also
// makes it safe to use as a single path component.
func ValidGroupID(id string) bool {
	return id != "" && facematch.NormalizeGroupID(id) == id
}

// Clone returns a deep copy so callers never share slices with a store.
func (g *Group) Clone() *Group {
	c := *g
	c.Persons = make([]Person, len(g.Persons))
	for i, p := range g.Persons {
		c.Persons[i] = Person{
			PersonID:    p.PersonID,
			Name:        p.Name,
			PhotoIDs:    slices.Clone(p.PhotoIDs),
			Descriptors: make([]facematch.Descriptor, len(p.Descriptors)),
		}
		for j, d := range p.Descriptors {
			c.Persons[i].Descriptors[j] = slices.Clone(d)
		}
	}
	return &c
}

// PersonIndex returns the position of personID in the roster, or -1.
func (g *Group) PersonIndex(personID string) int {
	for i := range g.Persons {
		if g.Persons[i].PersonID == personID {
			return i
		}
	}
	return -1
}

// Gallery returns the reference descriptors of every person, in roster order.
func (g *Group) Gallery() facematch.Gallery {
	gallery := make(facematch.Gallery, 0, len(g.Persons))
	for _, p := range g.Persons {
		if len(p.Descriptors) == 0 {
			continue
		}
		gallery = append(gallery, facematch.GalleryEntry{PersonID: p.PersonID, Descriptors: p.Descriptors})
	}
	return gallery
}

// ApplyPersonUpserts renames existing persons and appends new ones.
// Applying the same input twice leaves the group unchanged. Returns len(inputs).
func (g *Group) ApplyPersonUpserts(inputs []PersonInput) int {
	for _, in := range inputs {
		if i := g.PersonIndex(in.PersonID); i >= 0 {
			g.Persons[i].Name = in.Name
			continue
		}
		g.Persons = append(g.Persons, Person{
			PersonID:    in.PersonID,
			Name:        in.Name,
			PhotoIDs:    []string{},
			Descriptors: []facematch.Descriptor{},
		})
	}
	return len(inputs)
}

// RemovePerson deletes a person from the roster and returns it.
func (g *Group) RemovePerson(personID string) (Person, bool) {
	i := g.PersonIndex(personID)
	if i < 0 {
		return Person{}, false
	}
	p := g.Persons[i]
	g.Persons = slices.Delete(g.Persons, i, i+1)
	return p, true
}

// Align truncates PhotoIDs and Descriptors to a common length. Records written
// by older tools may carry photos whose descriptor was never computed.
// Returns true when the person was changed.
func (p *Person) Align() bool {
	n := min(len(p.PhotoIDs), len(p.Descriptors))
	if n == len(p.PhotoIDs) && n == len(p.Descriptors) {
		return false
	}
	p.PhotoIDs = p.PhotoIDs[:n]
	p.Descriptors = p.Descriptors[:n]
	return true
}

// SetReference adds a reference photo and its descriptor, replacing any
// existing entry with the same photo ID.
func (p *Person) SetReference(photoID string, d facematch.Descriptor) {
	if i := slices.Index(p.PhotoIDs, photoID); i >= 0 {
		p.Descriptors[i] = d
		return
	}
	p.PhotoIDs = append(p.PhotoIDs, photoID)
	p.Descriptors = append(p.Descriptors, d)
}

// KeepCanonicalReference reduces the person to the single reference whose photo
// ID sorts first. Returns the photo IDs that were dropped.
func (p *Person) KeepCanonicalReference() []string {
	if len(p.PhotoIDs) <= 1 {
		return nil
	}
	first := 0
	for i := range p.PhotoIDs {
		if p.PhotoIDs[i] < p.PhotoIDs[first] {
			first = i
		}
	}
	var dropped []string
	for i, id := range p.PhotoIDs {
		if i != first {
			dropped = append(dropped, id)
		}
	}
	p.PhotoIDs = []string{p.PhotoIDs[first]}
	p.Descriptors = []facematch.Descriptor{p.Descriptors[first]}
	return dropped
}

// AttendanceStatus is the outcome for one enrolled person.
type AttendanceStatus struct {
	PersonID string `json:"student_id"`
	Name     string `json:"name"`
	Status   Status `json:"status"`
}

// Session is one completed recognition run. Immutable once written.
type Session struct {
	GroupID      string             `json:"group_id"`
	GroupName    string             `json:"group_name"`
	TakenAt      time.Time          `json:"taken_at"`
	Statuses     []AttendanceStatus `json:"statuses"`
	PresentCount int                `json:"present_count"`
	TotalCount   int                `json:"total_count"`
}

// AbsentCount returns the number of persons not present.
func (s *Session) AbsentCount() int {
	return s.TotalCount - s.PresentCount
}

// SessionInfo describes a stored session for history listings.
type SessionInfo struct {
	ID      string `json:"filename"`
	GroupID string `json:"group_id"`
	Date    string `json:"date"` // YYYY-MM-DD
	Time    string `json:"time"` // HH:MM:SS
}

// DailyAggregate is the per-day attendance total of one group.
// At most one row exists per (Date, GroupID).
type DailyAggregate struct {
	Date          string `json:"date"` // YYYY-MM-DD
	GroupID       string `json:"group_id"`
	TotalStudents int    `json:"total_students"`
	Present       int    `json:"present"`
}

// UpsertDailyRow overwrites the row matching (date, group) or appends it.
func UpsertDailyRow(rows []DailyAggregate, agg DailyAggregate) []DailyAggregate {
	for i := range rows {
		if rows[i].Date == agg.Date && rows[i].GroupID == agg.GroupID {
			rows[i] = agg
			return rows
		}
	}
	return append(rows, agg)
}
