package database

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Session report layout. The class report reader skips ReportPreambleRows
// parsed rows (title, class, date, time, total, present, absent, header) and
// reads one data row per person after them. The blank separator line written
// between the counts and the header is not a CSV record.
const (
	ReportTitle        = "Class Attendance Report"
	ReportPreambleRows = 8

	sessionIDPrefix = "attendance_"
	sessionIDSuffix = ".csv"
	idDateLayout    = "20060102"
	idTimeLayout    = "150405"
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
)

// ReportHeader is the header row preceding the per-person rows.
var ReportHeader = []string{"Student ID", "Name", "Status"}

// SessionID derives the storage key of a session. Keys are unique per group
// for sessions at least one second apart.
func SessionID(groupID string, takenAt time.Time) string {
	return sessionIDPrefix + groupID + "_" + takenAt.Format(idDateLayout) + "_" + takenAt.Format(idTimeLayout) + sessionIDSuffix
}

// ParseSessionID extracts group, date and time from a session key.
// Group IDs may themselves contain underscores, so the key is parsed from the end.
func ParseSessionID(id string) (SessionInfo, bool) {
	if !strings.HasPrefix(id, sessionIDPrefix) || !strings.HasSuffix(id, sessionIDSuffix) {
		return SessionInfo{}, false
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(id, sessionIDPrefix), sessionIDSuffix), "_")
	if len(parts) < 3 {
		return SessionInfo{}, false
	}
	datePart, timePart := parts[len(parts)-2], parts[len(parts)-1]
	d, err := time.Parse(idDateLayout, datePart)
	if err != nil {
		return SessionInfo{}, false
	}
	t, err := time.Parse(idTimeLayout, timePart)
	if err != nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		ID:      id,
		GroupID: strings.Join(parts[:len(parts)-2], "_"),
		Date:    d.Format(DateLayout),
		Time:    t.Format(TimeLayout),
	}, true
}

// SortSessionInfos orders sessions newest first; equal timestamps fall back to
// descending ID order.
func SortSessionInfos(infos []SessionInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		a, b := infos[i].Date+" "+infos[i].Time, infos[j].Date+" "+infos[j].Time
		if a != b {
			return a > b
		}
		return infos[i].ID > infos[j].ID
	})
}

// EncodeSessionReport renders a session as the CSV report file.
func EncodeSessionReport(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	records := [][]string{
		{ReportTitle},
		{"Class: " + s.GroupName},
		{"Date: " + s.TakenAt.Format(DateLayout)},
		{"Time: " + s.TakenAt.Format(TimeLayout)},
		{"Total Students: " + strconv.Itoa(s.TotalCount)},
		{"Present: " + strconv.Itoa(s.PresentCount)},
		{"Absent: " + strconv.Itoa(s.AbsentCount())},
		{},
		ReportHeader,
	}
	for _, st := range s.Statuses {
		records = append(records, []string{st.PersonID, st.Name, string(st.Status)})
	}

	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("encoding session report: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseReportRows reads the CSV report into rows. Blank lines are not rows.
func ParseReportRows(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing session report: %w", err)
	}
	return rows, nil
}

func preambleValue(rows [][]string, i int, prefix string) (string, error) {
	if i >= len(rows) || len(rows[i]) == 0 || !strings.HasPrefix(rows[i][0], prefix) {
		return "", fmt.Errorf("report row %d: expected %q", i+1, prefix)
	}
	return strings.TrimSpace(strings.TrimPrefix(rows[i][0], prefix)), nil
}

func preambleInt(rows [][]string, i int, prefix string) (int, error) {
	v, err := preambleValue(rows, i, prefix)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("report row %d: %w", i+1, err)
	}
	return n, nil
}

// DecodeSessionReport rebuilds a session from its report rows.
// The timestamp is interpreted in the local time zone.
func DecodeSessionReport(groupID string, rows [][]string) (*Session, error) {
	if len(rows) < ReportPreambleRows || len(rows[0]) == 0 || rows[0][0] != ReportTitle {
		return nil, fmt.Errorf("not a session report")
	}

	name, err := preambleValue(rows, 1, "Class:")
	if err != nil {
		return nil, err
	}
	date, err := preambleValue(rows, 2, "Date:")
	if err != nil {
		return nil, err
	}
	clock, err := preambleValue(rows, 3, "Time:")
	if err != nil {
		return nil, err
	}
	takenAt, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, time.Local)
	if err != nil {
		return nil, fmt.Errorf("report timestamp: %w", err)
	}
	total, err := preambleInt(rows, 4, "Total Students:")
	if err != nil {
		return nil, err
	}
	present, err := preambleInt(rows, 5, "Present:")
	if err != nil {
		return nil, err
	}

	s := &Session{
		GroupID:      groupID,
		GroupName:    name,
		TakenAt:      takenAt,
		PresentCount: present,
		TotalCount:   total,
		Statuses:     []AttendanceStatus{},
	}
	for _, row := range rows[ReportPreambleRows:] {
		if len(row) < 3 {
			continue
		}
		s.Statuses = append(s.Statuses, AttendanceStatus{
			PersonID: row[0],
			Name:     row[1],
			Status:   ParseStatus(row[2]),
		})
	}
	return s, nil
}
