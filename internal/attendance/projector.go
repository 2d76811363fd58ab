// Package attendance turns match decisions into per-person attendance and
// aggregates stored sessions into reports.
package attendance

import (
	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/facematch"
)

// Result is the attendance of a whole roster for one recognition run.
type Result struct {
	Statuses     []database.AttendanceStatus `json:"student_status"`
	PresentCount int                         `json:"present_count"`
	TotalCount   int                         `json:"total_students"`
}

// Project marks a person present iff at least one assignment names them.
// Every enrolled person appears exactly once, in roster order, whether or not
// they have descriptors.
func Project(persons []database.Person, assignments []facematch.Assignment) Result {
	matched := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		if a.Matched() {
			matched[a.PersonID] = true
		}
	}
	return project(persons, func(personID string) database.Status {
		if matched[personID] {
			return database.StatusPresent
		}
		return database.StatusAbsent
	})
}

// ProjectReported applies caller-supplied statuses to the roster. Unknown
// person IDs are ignored and persons without a reported status are absent.
func ProjectReported(persons []database.Person, reported []database.AttendanceStatus) Result {
	byID := make(map[string]database.Status, len(reported))
	for _, r := range reported {
		if _, seen := byID[r.PersonID]; !seen {
			byID[r.PersonID] = r.Status
		}
	}
	return project(persons, func(personID string) database.Status {
		if byID[personID] == database.StatusPresent {
			return database.StatusPresent
		}
		return database.StatusAbsent
	})
}

func project(persons []database.Person, status func(personID string) database.Status) Result {
	r := Result{
		Statuses:   make([]database.AttendanceStatus, 0, len(persons)),
		TotalCount: len(persons),
	}
	for _, p := range persons {
		s := status(p.PersonID)
		if s == database.StatusPresent {
			r.PresentCount++
		}
		r.Statuses = append(r.Statuses, database.AttendanceStatus{
			PersonID: p.PersonID,
			Name:     p.Name,
			Status:   s,
		})
	}
	return r
}
