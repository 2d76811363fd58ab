package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance/internal/attendance"
	"github.com/kozaktomas/attendance/internal/constants"
	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/facematch"
)

// UnknownName labels faces that were not assigned to anyone.
const UnknownName = "Unknown"

// RecognizedFace is one detected face with its match decision.
type RecognizedFace struct {
	Index        int       `json:"face_index"`
	BBox         []float64 `json:"bbox"`
	RelativeBBox []float64 `json:"relative_bbox,omitempty"`
	PersonID     string    `json:"student_id,omitempty"`
	Name         string    `json:"name"`
	Distance     *float64  `json:"distance,omitempty"`
	Confidence   float64   `json:"confidence"`
	Recognized   bool      `json:"recognized"`
}

// Recognition is the outcome of one recognition run before it is saved.
type Recognition struct {
	GroupID    string           `json:"class_name"`
	GroupName  string           `json:"class_display_name"`
	Width      int              `json:"image_width"`
	Height     int              `json:"image_height"`
	Faces      []RecognizedFace `json:"faces"`
	Recognized int              `json:"recognized_count"`
	Unknown    int              `json:"unknown_count"`
	UploadID   string           `json:"upload_id,omitempty"`
	attendance.Result
}

// Recognize detects the faces in a group photo, matches them against the
// group's gallery and projects the decisions onto the roster. Nothing is
// persisted apart from the optional upload archive.
func (s *Service) Recognize(ctx context.Context, groupID string, photo Upload) (*Recognition, error) {
	if photo.Filename != "" && !constants.AllowedImage(photo.Filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, photo.Filename)
	}
	g, err := s.roster.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	det, err := s.detector.DetectFaces(ctx, photo.Data)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}

	// faces with unusable descriptors stay unknown and are not queried
	queries := make([]facematch.Descriptor, 0, len(det.Faces))
	queryFace := make([]int, 0, len(det.Faces))
	for i, f := range det.Faces {
		if err := f.Descriptor.Validate(s.dim); err != nil {
			zap.L().Warn("skipping face with invalid descriptor",
				zap.String("group", groupID),
				zap.Int("face", i),
				zap.Error(err))
			continue
		}
		queries = append(queries, f.Descriptor)
		queryFace = append(queryFace, i)
	}
	assignments := s.engine.Match(queries, g.Gallery())

	names := make(map[string]string, len(g.Persons))
	for _, p := range g.Persons {
		names[p.PersonID] = p.Name
	}

	rec := &Recognition{
		GroupID:   g.ID,
		GroupName: g.DisplayName,
		Width:     det.Width,
		Height:    det.Height,
		Faces:     make([]RecognizedFace, len(det.Faces)),
		Result:    attendance.Project(g.Persons, assignments),
	}
	for i, f := range det.Faces {
		rec.Faces[i] = RecognizedFace{Index: i, BBox: f.BBox, Name: UnknownName}
		if facematch.ValidBBox(f.BBox) && det.Width > 0 && det.Height > 0 {
			rec.Faces[i].RelativeBBox = facematch.ConvertPixelBBoxToRelative(f.BBox, det.Width, det.Height)
		}
	}
	for _, a := range assignments {
		face := &rec.Faces[queryFace[a.QueryIndex]]
		face.Distance = a.Distance
		face.Confidence = a.Confidence
		if a.Matched() {
			face.PersonID = a.PersonID
			face.Name = names[a.PersonID]
			face.Recognized = true
		}
	}
	for _, f := range rec.Faces {
		if f.Recognized {
			rec.Recognized++
		} else {
			rec.Unknown++
		}
	}

	if s.uploads != nil && len(photo.Data) > 0 {
		id, err := s.uploads.SaveUpload(ctx, photo.Filename, photo.Data)
		if err != nil {
			zap.L().Warn("failed to archive group photo", zap.String("group", groupID), zap.Error(err))
		} else {
			rec.UploadID = id
		}
	}

	zap.L().Info("recognition run",
		zap.String("group", groupID),
		zap.Int("faces", len(det.Faces)),
		zap.Int("recognized", rec.Recognized),
		zap.Int("present", rec.PresentCount),
		zap.Int("total", rec.TotalCount))
	return rec, nil
}

// SavedSession is a session as written to the ledger.
type SavedSession struct {
	Info database.SessionInfo `json:"session"`
	attendance.Result
}

// SaveSession records the attendance of a group. Reported statuses are applied
// to the current roster: unknown IDs are ignored and unreported persons are
// absent. The daily aggregate for the session's date is updated afterwards.
// A zero takenAt means now.
func (s *Service) SaveSession(ctx context.Context, groupID string, reported []database.AttendanceStatus, takenAt time.Time) (*SavedSession, error) {
	g, err := s.roster.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if takenAt.IsZero() {
		takenAt = s.Now()
	}
	takenAt = takenAt.Truncate(time.Second)

	result := attendance.ProjectReported(g.Persons, reported)
	session := &database.Session{
		GroupID:      g.ID,
		GroupName:    g.DisplayName,
		TakenAt:      takenAt,
		Statuses:     result.Statuses,
		PresentCount: result.PresentCount,
		TotalCount:   result.TotalCount,
	}
	info, err := s.ledger.AppendSession(ctx, session)
	if err != nil {
		return nil, err
	}

	agg := database.DailyAggregate{
		Date:          takenAt.Format(database.DateLayout),
		GroupID:       g.ID,
		TotalStudents: result.TotalCount,
		Present:       result.PresentCount,
	}
	if err := s.ledger.UpsertDailyAggregate(ctx, agg); err != nil {
		return nil, fmt.Errorf("session %s saved, daily aggregate not updated: %w", info.ID, err)
	}

	zap.L().Info("session saved",
		zap.String("group", groupID),
		zap.String("session", info.ID),
		zap.Int("present", result.PresentCount),
		zap.Int("total", result.TotalCount))
	return &SavedSession{Info: info, Result: result}, nil
}

// RecognizeAndSave runs recognition and saves its statuses as a new session.
func (s *Service) RecognizeAndSave(ctx context.Context, groupID string, photo Upload) (*Recognition, *SavedSession, error) {
	rec, err := s.Recognize(ctx, groupID, photo)
	if err != nil {
		return nil, nil, err
	}
	saved, err := s.SaveSession(ctx, groupID, rec.Statuses, time.Time{})
	if err != nil {
		return rec, nil, err
	}
	return rec, saved, nil
}
