package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/attendance/internal/database"
)

// Ledger is a PostgreSQL-backed database.SessionLedger. Reports are stored in
// the same CSV form the file backend writes.
type Ledger struct {
	pool *Pool
}

// NewLedger creates a new PostgreSQL session ledger.
func NewLedger(pool *Pool) *Ledger {
	return &Ledger{pool: pool}
}

// AppendSession inserts a report; an existing session ID is never replaced.
func (l *Ledger) AppendSession(ctx context.Context, s *database.Session) (database.SessionInfo, error) {
	report, err := database.EncodeSessionReport(s)
	if err != nil {
		return database.SessionInfo{}, err
	}
	id := database.SessionID(s.GroupID, s.TakenAt)

	if _, err := l.pool.DB().ExecContext(ctx, `
		INSERT INTO attendance_sessions (group_id, session_id, taken_at, report)
		VALUES ($1, $2, $3, $4)
	`, s.GroupID, id, s.TakenAt, string(report)); err != nil {
		return database.SessionInfo{}, fmt.Errorf("insert session %s: %w", id, mapError(err))
	}

	info, _ := database.ParseSessionID(id)
	return info, nil
}

// ListSessions returns the sessions of a group, newest first.
func (l *Ledger) ListSessions(ctx context.Context, groupID string) ([]database.SessionInfo, error) {
	rows, err := l.pool.Query(ctx, `SELECT session_id FROM attendance_sessions WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	infos := []database.SessionInfo{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if info, ok := database.ParseSessionID(id); ok {
			infos = append(infos, info)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	database.SortSessionInfos(infos)
	return infos, nil
}

// ReadSession returns the rows of one report.
func (l *Ledger) ReadSession(ctx context.Context, groupID, sessionID string) ([][]string, error) {
	var report string
	err := l.pool.QueryRow(ctx, `
		SELECT report FROM attendance_sessions WHERE group_id = $1 AND session_id = $2
	`, groupID, sessionID).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", database.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return database.ParseReportRows([]byte(report))
}

// DeleteSessions removes the history of a group.
func (l *Ledger) DeleteSessions(ctx context.Context, groupID string) error {
	if _, err := l.pool.Exec(ctx, `DELETE FROM attendance_sessions WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

// UpsertDailyAggregate overwrites the (date, group) row or appends it.
// The row-level upsert is atomic, so no store-wide lock is taken here.
func (l *Ledger) UpsertDailyAggregate(ctx context.Context, agg database.DailyAggregate) error {
	if _, err := l.pool.Exec(ctx, `
		INSERT INTO daily_attendance (date, group_id, total_students, present)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date, group_id) DO UPDATE SET
			total_students = EXCLUDED.total_students,
			present = EXCLUDED.present
	`, agg.Date, agg.GroupID, agg.TotalStudents, agg.Present); err != nil {
		return fmt.Errorf("upsert daily aggregate: %w", mapError(err))
	}
	return nil
}

// ListDailyAggregates returns every aggregate row in insertion order.
func (l *Ledger) ListDailyAggregates(ctx context.Context) ([]database.DailyAggregate, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT date, group_id, total_students, present FROM daily_attendance ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query daily aggregate: %w", err)
	}
	defer rows.Close()

	result := []database.DailyAggregate{}
	for rows.Next() {
		var a database.DailyAggregate
		if err := rows.Scan(&a.Date, &a.GroupID, &a.TotalStudents, &a.Present); err != nil {
			return nil, fmt.Errorf("scan daily aggregate: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily aggregate: %w", err)
	}
	return result, nil
}
