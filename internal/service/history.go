package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/kozaktomas/attendance/internal/attendance"
	"github.com/kozaktomas/attendance/internal/database"
)

// History lists the stored sessions of a group, newest first.
func (s *Service) History(ctx context.Context, groupID string) ([]database.SessionInfo, error) {
	if _, err := s.roster.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.ledger.ListSessions(ctx, groupID)
}

// ReadSession returns the raw report rows of a session.
func (s *Service) ReadSession(ctx context.Context, groupID, sessionID string) ([][]string, error) {
	return s.ledger.ReadSession(ctx, groupID, sessionID)
}

// DecodeSession reads a stored session back into its structured form.
func (s *Service) DecodeSession(ctx context.Context, groupID, sessionID string) (*database.Session, error) {
	rows, err := s.ledger.ReadSession(ctx, groupID, sessionID)
	if err != nil {
		return nil, err
	}
	session, err := database.DecodeSessionReport(groupID, rows)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return session, nil
}

// SessionReport renders a stored session as its CSV report for download.
func (s *Service) SessionReport(ctx context.Context, groupID, sessionID string) ([]byte, error) {
	session, err := s.DecodeSession(ctx, groupID, sessionID)
	if err != nil {
		return nil, err
	}
	return database.EncodeSessionReport(session)
}

// ClassReport aggregates every session of a group, oldest first.
func (s *Service) ClassReport(ctx context.Context, groupID string) (*attendance.ClassReport, error) {
	infos, err := s.History(ctx, groupID)
	if err != nil {
		return nil, err
	}
	slices.Reverse(infos)

	sessions := make([]attendance.SessionRows, 0, len(infos))
	for _, info := range infos {
		rows, err := s.ledger.ReadSession(ctx, groupID, info.ID)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, attendance.SessionRows{Info: info, Rows: rows})
	}

	report := attendance.BuildClassReport(groupID, sessions)
	return &report, nil
}

// DailySummary is the school-wide attendance of one day.
type DailySummary struct {
	attendance.DaySummary
	Percentage  float64                `json:"percentage"`
	Performance attendance.Performance `json:"performance"`
}

// Summary totals the daily aggregate for day across groups and compares it
// with the previous day.
func (s *Service) Summary(ctx context.Context, day time.Time) (*DailySummary, error) {
	rows, err := s.ledger.ListDailyAggregates(ctx)
	if err != nil {
		return nil, err
	}
	today := attendance.Summarize(rows, day.Format(database.DateLayout))
	return &DailySummary{
		DaySummary:  today,
		Percentage:  today.Percentage(),
		Performance: attendance.ComparePerformance(rows, day),
	}, nil
}
