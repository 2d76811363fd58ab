package file

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/renameio"

	"github.com/kozaktomas/attendance/internal/database"
)

// dailyHeader is the header row of overall_attendance.csv.
var dailyHeader = []string{"date", "class_name", "total_students", "present"}

const dailyLockKey = "overall_attendance"

// Ledger stores each session as attendance_data/<group_id>/<session_id> and
// the daily aggregate as attendance_data/overall_attendance.csv.
type Ledger struct {
	dir       string
	dailyLock *database.KeyedMutex
}

// NewLedger creates a ledger rooted at dir
func NewLedger(dir string, lockTimeout time.Duration) *Ledger {
	return &Ledger{
		dir:       dir,
		dailyLock: database.NewKeyedMutex(lockTimeout),
	}
}

func (l *Ledger) groupDir(groupID string) (string, error) {
	if !database.ValidGroupID(groupID) {
		return "", fmt.Errorf("%w: %s", database.ErrGroupNotFound, groupID)
	}
	return filepath.Join(l.dir, groupID), nil
}

// AppendSession writes the session report. An existing report with the same
// ID is never overwritten.
func (l *Ledger) AppendSession(ctx context.Context, s *database.Session) (database.SessionInfo, error) {
	dir, err := l.groupDir(s.GroupID)
	if err != nil {
		return database.SessionInfo{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return database.SessionInfo{}, fmt.Errorf("failed to create session dir: %w", err)
	}

	data, err := database.EncodeSessionReport(s)
	if err != nil {
		return database.SessionInfo{}, err
	}
	id := database.SessionID(s.GroupID, s.TakenAt)
	if err := writeNew(filepath.Join(dir, id), data); err != nil {
		return database.SessionInfo{}, err
	}

	info, _ := database.ParseSessionID(id)
	return info, nil
}

// ListSessions lists the session reports of a group, newest first
func (l *Ledger) ListSessions(ctx context.Context, groupID string) ([]database.SessionInfo, error) {
	dir, err := l.groupDir(groupID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []database.SessionInfo{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	infos := make([]database.SessionInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if info, ok := database.ParseSessionID(e.Name()); ok {
			infos = append(infos, info)
		}
	}
	database.SortSessionInfos(infos)
	return infos, nil
}

// ReadSession returns the parsed rows of one report
func (l *Ledger) ReadSession(ctx context.Context, groupID, sessionID string) ([][]string, error) {
	dir, err := l.groupDir(groupID)
	if err != nil {
		return nil, err
	}
	if _, ok := database.ParseSessionID(sessionID); !ok || !validName(sessionID) {
		return nil, fmt.Errorf("%w: %s", database.ErrSessionNotFound, sessionID)
	}

	data, err := os.ReadFile(filepath.Join(dir, sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", database.ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	return database.ParseReportRows(data)
}

// DeleteSessions removes the session directory of a group
func (l *Ledger) DeleteSessions(ctx context.Context, groupID string) error {
	dir, err := l.groupDir(groupID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete sessions of %s: %w", groupID, err)
	}
	return nil
}

func (l *Ledger) dailyPath() string {
	return filepath.Join(l.dir, DailyFileName)
}

// UpsertDailyAggregate rewrites the aggregate file with the (date, group) row
// replaced or appended. Writers are serialized by a store-wide lock.
func (l *Ledger) UpsertDailyAggregate(ctx context.Context, agg database.DailyAggregate) error {
	unlock, err := l.dailyLock.Lock(ctx, dailyLockKey)
	if err != nil {
		return err
	}
	defer unlock()

	rows, err := l.ListDailyAggregates(ctx)
	if err != nil {
		return err
	}
	rows = database.UpsertDailyRow(rows, agg)

	data, err := encodeDaily(rows)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", l.dir, err)
	}
	if err := renameio.WriteFile(l.dailyPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write daily aggregate: %w", err)
	}
	return nil
}

// ListDailyAggregates reads the aggregate file. A missing file has no rows.
func (l *Ledger) ListDailyAggregates(ctx context.Context) ([]database.DailyAggregate, error) {
	data, err := os.ReadFile(l.dailyPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []database.DailyAggregate{}, nil
		}
		return nil, fmt.Errorf("failed to read daily aggregate: %w", err)
	}
	return decodeDaily(data)
}

func encodeDaily(rows []database.DailyAggregate) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	records := make([][]string, 0, len(rows)+1)
	records = append(records, dailyHeader)
	for _, r := range rows {
		records = append(records, []string{r.Date, r.GroupID, strconv.Itoa(r.TotalStudents), strconv.Itoa(r.Present)})
	}
	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("failed to encode daily aggregate: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeDaily reads rows by header name. An empty present cell counts as zero.
func decodeDaily(data []byte) ([]database.DailyAggregate, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse daily aggregate: %w", err)
	}
	rows := []database.DailyAggregate{}
	if len(records) == 0 {
		return rows, nil
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[name] = i
	}
	for _, name := range dailyHeader {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("daily aggregate: missing column %q", name)
		}
	}
	field := func(rec []string, name string) string {
		if i := col[name]; i < len(rec) {
			return rec[i]
		}
		return ""
	}

	for n, rec := range records[1:] {
		total, err := strconv.Atoi(field(rec, "total_students"))
		if err != nil {
			return nil, fmt.Errorf("daily aggregate row %d: %w", n+2, err)
		}
		present := 0
		if v := field(rec, "present"); v != "" {
			if present, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("daily aggregate row %d: %w", n+2, err)
			}
		}
		rows = append(rows, database.DailyAggregate{
			Date:          field(rec, "date"),
			GroupID:       field(rec, "class_name"),
			TotalStudents: total,
			Present:       present,
		})
	}
	return rows, nil
}
