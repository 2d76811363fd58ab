package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/attendance/internal/attendance"
	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/service"
)

// saveDays stores one session per day, 12th to 14th of March, with S1 present.
func saveDays(t *testing.T, env *testEnv, groupID string) []string {
	t.Helper()
	var ids []string
	for day := 12; day <= 14; day++ {
		saved, err := env.svc.SaveSession(context.Background(), groupID,
			[]database.AttendanceStatus{{PersonID: "S1", Status: database.StatusPresent}},
			time.Date(2025, 3, day, 9, 0, 0, 0, time.Local))
		require.NoError(t, err)
		ids = append(ids, saved.Info.ID)
	}
	return ids
}

func TestHistoryHandler_List(t *testing.T) {
	env := newTestEnv(t)
	groupID := env.seedClass(t)
	ids := saveDays(t, env, groupID)

	rec := env.do(jsonRequest(t, http.MethodGet, "/api/v1/classes/"+groupID+"/history", nil))
	assertStatusCode(t, rec, http.StatusOK)
	var infos []database.SessionInfo
	parseJSONResponse(t, rec, &infos)
	require.Len(t, infos, 3)
	if infos[0].ID != ids[2] || infos[2].ID != ids[0] {
		t.Errorf("history = %+v, want newest first", infos)
	}

	rec = env.do(jsonRequest(t, http.MethodGet, "/api/v1/classes/nope/history", nil))
	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestHistoryHandler_View(t *testing.T) {
	env := newTestEnv(t)
	groupID := env.seedClass(t)
	ids := saveDays(t, env, groupID)

	rec := env.do(jsonRequest(t, http.MethodGet, "/api/v1/classes/"+groupID+"/history/"+ids[0], nil))
	assertStatusCode(t, rec, http.StatusOK)
	var view SessionView
	parseJSONResponse(t, rec, &view)
	if view.Info.Date != "2025-03-12" || view.Session.PresentCount != 1 || view.Session.TotalCount != 2 {
		t.Errorf("view = %+v", view)
	}
	if len(view.Rows) != database.ReportPreambleRows+2 {
		t.Errorf("rows = %d, want preamble plus two students", len(view.Rows))
	}

	tests := []struct {
		name string
		id   string
	}{
		{"malformed id", "not-a-session.csv"},
		{"missing session", "attendance_Class_5A_20990101_000000.csv"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(jsonRequest(t, http.MethodGet, "/api/v1/classes/"+groupID+"/history/"+tc.id, nil))
			assertStatusCode(t, rec, http.StatusNotFound)
		})
	}
}

func TestHistoryHandler_Download(t *testing.T) {
	env := newTestEnv(t)
	groupID := env.seedClass(t)
	ids := saveDays(t, env, groupID)

	rec := env.do(jsonRequest(t, http.MethodGet, "/api/v1/classes/"+groupID+"/history/"+ids[1]+"/download", nil))
	assertStatusCode(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, ids[1]) {
		t.Errorf("Content-Disposition = %q, want filename %s", cd, ids[1])
	}
	if !strings.HasPrefix(rec.Body.String(), database.ReportTitle) {
		t.Errorf("body starts with %q", strings.SplitN(rec.Body.String(), "\n", 2)[0])
	}
}

func TestHistoryHandler_Report(t *testing.T) {
	env := newTestEnv(t)
	groupID := env.seedClass(t)
	saveDays(t, env, groupID)

	rec := env.do(jsonRequest(t, http.MethodGet, "/api/v1/classes/"+groupID+"/report", nil))
	assertStatusCode(t, rec, http.StatusOK)
	var report attendance.ClassReport
	parseJSONResponse(t, rec, &report)
	if report.TotalSessions != 3 || len(report.Students) != 2 {
		t.Fatalf("report = %+v", report)
	}
	if report.Students[0].Percentage != 100 || report.Students[1].AbsentDays != 3 {
		t.Errorf("students = %+v", report.Students)
	}
}

func TestHistoryHandler_Summary(t *testing.T) {
	env := newTestEnv(t)
	groupID := env.seedClass(t)
	saveDays(t, env, groupID)

	tests := []struct {
		name        string
		query       string
		wantStatus  int
		wantPresent int
	}{
		{"defaults to today", "", http.StatusOK, 1},
		{"explicit date", "?date=2025-03-12", http.StatusOK, 1},
		{"day without sessions", "?date=2025-01-01", http.StatusOK, 0},
		{"bad date", "?date=14.3.2025", http.StatusBadRequest, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(jsonRequest(t, http.MethodGet, "/api/v1/summary"+tc.query, nil))
			assertStatusCode(t, rec, tc.wantStatus)
			if tc.wantStatus != http.StatusOK {
				return
			}
			var summary service.DailySummary
			parseJSONResponse(t, rec, &summary)
			if summary.Present != tc.wantPresent {
				t.Errorf("present = %d, want %d", summary.Present, tc.wantPresent)
			}
		})
	}
}
