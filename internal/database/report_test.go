package database

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func sampleSession() *Session {
	return &Session{
		GroupID:   "Class_5A",
		GroupName: "Class 5A",
		TakenAt:   time.Date(2024, 9, 2, 8, 15, 30, 0, time.Local),
		Statuses: []AttendanceStatus{
			{PersonID: "S1", Name: "Alice", Status: StatusPresent},
			{PersonID: "S2", Name: "Bob, Jr.", Status: StatusAbsent},
		},
		PresentCount: 1,
		TotalCount:   2,
	}
}

func TestEncodeSessionReport_Layout(t *testing.T) {
	data, err := EncodeSessionReport(sampleSession())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := strings.Join([]string{
		"Class Attendance Report",
		"Class: Class 5A",
		"Date: 2024-09-02",
		"Time: 08:15:30",
		"Total Students: 2",
		"Present: 1",
		"Absent: 1",
		"",
		"Student ID,Name,Status",
		"S1,Alice,present",
		`S2,"Bob, Jr.",absent`,
		"",
	}, "\n")
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestReportRoundTrip(t *testing.T) {
	s := sampleSession()
	data, err := EncodeSessionReport(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	rows, err := ParseReportRows(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != ReportPreambleRows+len(s.Statuses) {
		t.Fatalf("expected %d rows, got %d", ReportPreambleRows+len(s.Statuses), len(rows))
	}
	if diff := cmp.Diff(ReportHeader, rows[ReportPreambleRows-1]); diff != "" {
		t.Errorf("header is not the last preamble row:\n%s", diff)
	}

	got, err := DecodeSessionReport(s.GroupID, rows)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseReportRows_CRLF(t *testing.T) {
	data := "Class Attendance Report\r\nClass: X\r\nDate: 2024-09-02\r\nTime: 08:00:00\r\n" +
		"Total Students: 1\r\nPresent: 0\r\nAbsent: 1\r\n\r\nStudent ID,Name,Status\r\nS1,Alice,absent\r\n"

	rows, err := ParseReportRows([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, err := DecodeSessionReport("X", rows)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(s.Statuses) != 1 || s.Statuses[0].Status != StatusAbsent {
		t.Errorf("unexpected statuses: %+v", s.Statuses)
	}
}

func TestDecodeSessionReport_Rejects(t *testing.T) {
	tests := []struct {
		name string
		rows [][]string
	}{
		{"empty", nil},
		{"wrong title", [][]string{{"Other"}, {}, {}, {}, {}, {}, {}, {}}},
		{"bad count", [][]string{
			{ReportTitle}, {"Class: X"}, {"Date: 2024-09-02"}, {"Time: 08:00:00"},
			{"Total Students: many"}, {"Present: 0"}, {"Absent: 0"}, ReportHeader,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSessionReport("X", tt.rows); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSessionID(t *testing.T) {
	ts := time.Date(2024, 9, 2, 8, 5, 9, 0, time.UTC)
	id := SessionID("Class_5A", ts)
	if id != "attendance_Class_5A_20240902_080509.csv" {
		t.Fatalf("unexpected id %s", id)
	}

	info, ok := ParseSessionID(id)
	if !ok {
		t.Fatal("expected id to parse")
	}
	want := SessionInfo{ID: id, GroupID: "Class_5A", Date: "2024-09-02", Time: "08:05:09"}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("info mismatch:\n%s", diff)
	}
}

func TestParseSessionID_Invalid(t *testing.T) {
	for _, id := range []string{
		"",
		"overall_attendance.csv",
		"attendance_X_2024_080509.csv",
		"attendance_X_20240902_0805.csv",
		"attendance_20240902_080509.txt",
	} {
		if _, ok := ParseSessionID(id); ok {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}

func TestSortSessionInfos(t *testing.T) {
	infos := []SessionInfo{
		{ID: "a", Date: "2024-09-01", Time: "10:00:00"},
		{ID: "b", Date: "2024-09-02", Time: "08:00:00"},
		{ID: "c", Date: "2024-09-02", Time: "08:00:00"},
		{ID: "d", Date: "2024-09-01", Time: "12:00:00"},
	}
	SortSessionInfos(infos)

	var ids []string
	for _, i := range infos {
		ids = append(ids, i.ID)
	}
	if diff := cmp.Diff([]string{"c", "b", "d", "a"}, ids); diff != "" {
		t.Errorf("order mismatch:\n%s", diff)
	}
}
