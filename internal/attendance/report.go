package attendance

import (
	"github.com/kozaktomas/attendance/internal/database"
)

// SessionRows is one stored session as read back from the ledger.
type SessionRows struct {
	Info database.SessionInfo
	Rows [][]string
}

// StudentSummary is the attendance record of one person across sessions.
type StudentSummary struct {
	PersonID      string   `json:"student_id"`
	Name          string   `json:"name"`
	PresentDays   int      `json:"present_days"`
	AbsentDays    int      `json:"absent_days"`
	AbsentDates   []string `json:"absent_dates"`
	TotalSessions int      `json:"total_classes"`
	Percentage    float64  `json:"attendance_percentage"`
}

// ClassReport aggregates every stored session of a group.
type ClassReport struct {
	GroupID       string           `json:"class_name"`
	TotalSessions int              `json:"total_classes"`
	Students      []StudentSummary `json:"students"`
}

// BuildClassReport reads the data rows after the fixed preamble of each
// session. Persons are listed in the order they first appear. The percentage
// is relative to all sessions of the group, including those a person missed
// by not being enrolled yet.
func BuildClassReport(groupID string, sessions []SessionRows) ClassReport {
	report := ClassReport{
		GroupID:       groupID,
		TotalSessions: len(sessions),
		Students:      []StudentSummary{},
	}

	index := make(map[string]int)
	for _, s := range sessions {
		if len(s.Rows) <= database.ReportPreambleRows {
			continue
		}
		for _, row := range s.Rows[database.ReportPreambleRows:] {
			if len(row) < 3 {
				continue
			}
			id := row[0]
			i, ok := index[id]
			if !ok {
				i = len(report.Students)
				index[id] = i
				report.Students = append(report.Students, StudentSummary{
					PersonID:    id,
					Name:        row[1],
					AbsentDates: []string{},
				})
			}
			st := &report.Students[i]
			if database.ParseStatus(row[2]) == database.StatusPresent {
				st.PresentDays++
			} else {
				st.AbsentDays++
				st.AbsentDates = append(st.AbsentDates, s.Info.Date)
			}
		}
	}

	for i := range report.Students {
		st := &report.Students[i]
		st.TotalSessions = report.TotalSessions
		if report.TotalSessions > 0 {
			st.Percentage = float64(st.PresentDays) / float64(report.TotalSessions) * 100
		}
	}
	return report
}
