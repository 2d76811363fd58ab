package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance/internal/config"
	"github.com/kozaktomas/attendance/internal/constants"
	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/facematch"
)

// Upload is one image submitted by a caller.
type Upload struct {
	Filename string
	Data     []byte
}

// ItemWarning describes a batch item that was skipped.
type ItemWarning struct {
	Index   int    `json:"index"`
	Item    string `json:"item"`
	Message string `json:"message"`

	Err error `json:"-"`
}

// UpsertResult is the outcome of a roster update.
type UpsertResult struct {
	Updated  int           `json:"updated"`
	Warnings []ItemWarning `json:"warnings"`
}

// UpsertStudents validates every row and upserts the valid ones. Invalid rows
// are reported as warnings; the call only fails if the group is missing or
// cannot be written.
func (s *Service) UpsertStudents(ctx context.Context, groupID string, rows []database.PersonInput) (*UpsertResult, error) {
	res := &UpsertResult{Warnings: []ItemWarning{}}

	valid := make([]database.PersonInput, 0, len(rows))
	for i, row := range rows {
		row.PersonID = strings.TrimSpace(row.PersonID)
		row.Name = strings.TrimSpace(row.Name)
		if err := s.validate.Struct(row); err != nil {
			res.Warnings = append(res.Warnings, ItemWarning{
				Index:   i,
				Item:    row.PersonID,
				Message: fmt.Sprintf("row %d skipped: student id and name are required", i+1),
				Err:     fmt.Errorf("%w: %w", ErrInvalidInput, err),
			})
			continue
		}
		valid = append(valid, row)
	}

	if len(valid) == 0 {
		// still report a missing group
		if _, err := s.roster.GetGroup(ctx, groupID); err != nil {
			return nil, err
		}
		return res, nil
	}

	n, err := s.roster.UpsertPersons(ctx, groupID, valid)
	if err != nil {
		return nil, err
	}
	res.Updated = n

	zap.L().Info("students upserted",
		zap.String("group", groupID),
		zap.Int("updated", n),
		zap.Int("skipped", len(res.Warnings)))
	return res, nil
}

// PhotoOutcome is the result of one uploaded enrollment photo.
type PhotoOutcome struct {
	Filename string `json:"filename"`
	PhotoID  string `json:"photo_id,omitempty"`
	Accepted bool   `json:"accepted"`
	// Retained is false when the enrollment policy kept another photo instead
	Retained bool   `json:"retained"`
	Error    string `json:"error,omitempty"`

	Err error `json:"-"`
}

// AddPhotosResult summarizes a photo batch for one person.
type AddPhotosResult struct {
	Added    int             `json:"added"`
	Outcomes []PhotoOutcome  `json:"outcomes"`
	Person   database.Person `json:"student"`
}

type acceptedPhoto struct {
	outcome    int
	photoID    string
	descriptor facematch.Descriptor
	data       []byte
}

// writtenPhoto remembers what a photo write replaced.
type writtenPhoto struct {
	photoID  string
	previous []byte
}

// PhotoID derives the stored name of an enrollment photo. Uploading the same
// filename again for the same person replaces the previous photo.
func PhotoID(personID, filename string) string {
	base := facematch.SafeFilename(filepath.Base(filename))
	if base == "" || strings.TrimLeft(base, ".") == "" {
		base = uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	}
	return facematch.SafeFilename(personID) + "_" + base
}

// AddPhotos enrolls reference photos for a person. Every photo is checked on
// its own; rejected photos are reported and not stored. The batch fails as a
// whole only when the group or person does not exist.
func (s *Service) AddPhotos(ctx context.Context, groupID, personID string, uploads []Upload) (*AddPhotosResult, error) {
	g, err := s.roster.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.PersonIndex(personID) < 0 {
		return nil, fmt.Errorf("%w: %s in %s", database.ErrPersonNotFound, personID, groupID)
	}

	res := &AddPhotosResult{Outcomes: make([]PhotoOutcome, len(uploads))}
	var accepted []acceptedPhoto
	for i, up := range uploads {
		res.Outcomes[i].Filename = up.Filename
		d, err := s.enrollmentDescriptor(ctx, up)
		if err != nil {
			res.Outcomes[i].fail(err)
			continue
		}
		accepted = append(accepted, acceptedPhoto{outcome: i, photoID: PhotoID(personID, up.Filename), descriptor: d, data: up.Data})
	}

	if len(accepted) == 0 {
		res.Person = g.Persons[g.PersonIndex(personID)]
		return res, nil
	}

	// photo bytes are only written while the group lock is held
	var dropped []string
	var written []writtenPhoto
	updated, err := s.roster.UpdateGroup(ctx, groupID, func(g *database.Group) error {
		i := g.PersonIndex(personID)
		if i < 0 {
			return fmt.Errorf("%w: %s in %s", database.ErrPersonNotFound, personID, groupID)
		}
		p := &g.Persons[i]
		for _, a := range accepted {
			w, err := s.writePhoto(ctx, groupID, a.photoID, a.data)
			if err != nil {
				res.Outcomes[a.outcome].fail(err)
				continue
			}
			written = append(written, w)
			res.Outcomes[a.outcome].PhotoID = a.photoID
			p.SetReference(a.photoID, a.descriptor)
		}
		dropped = s.applyPolicy(p)
		return nil
	})
	if err != nil {
		for i := len(written) - 1; i >= 0; i-- {
			s.restorePhoto(ctx, groupID, written[i])
		}
		return nil, err
	}

	person := updated.Persons[updated.PersonIndex(personID)]
	for _, a := range accepted {
		o := &res.Outcomes[a.outcome]
		if o.Err != nil {
			continue
		}
		o.Accepted = true
		o.Retained = slices.Contains(person.PhotoIDs, a.photoID)
		res.Added++
	}
	s.deleteUnreferenced(ctx, groupID, dropped)
	res.Person = person

	zap.L().Info("photos enrolled",
		zap.String("group", groupID),
		zap.String("student", personID),
		zap.Int("added", res.Added),
		zap.Int("rejected", len(uploads)-res.Added),
		zap.Strings("references", person.PhotoIDs))
	return res, nil
}

// enrollmentDescriptor runs detection on an enrollment photo and returns the
// descriptor of the first detected face.
func (s *Service) enrollmentDescriptor(ctx context.Context, up Upload) (facematch.Descriptor, error) {
	if !constants.AllowedImage(up.Filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, up.Filename)
	}
	det, err := s.detector.DetectFaces(ctx, up.Data)
	if err != nil {
		return nil, err
	}
	return s.firstDescriptor(det.Faces, up.Filename)
}

func (s *Service) applyPolicy(p *database.Person) []string {
	if s.policy == config.PolicyAll {
		return nil
	}
	return p.KeepCanonicalReference()
}

// writePhoto stores data under photoID and keeps the bytes it replaced.
// Callers must hold the group lock.
func (s *Service) writePhoto(ctx context.Context, groupID, photoID string, data []byte) (writtenPhoto, error) {
	w := writtenPhoto{photoID: photoID}
	prev, err := s.photos.LoadPhoto(ctx, groupID, photoID)
	switch {
	case err == nil:
		w.previous = prev
	case !errors.Is(err, database.ErrNotFound):
		return w, err
	}
	if err := s.photos.SavePhoto(ctx, groupID, photoID, data); err != nil {
		return w, err
	}
	return w, nil
}

// restorePhoto undoes writePhoto after the group update failed.
func (s *Service) restorePhoto(ctx context.Context, groupID string, w writtenPhoto) {
	if w.previous == nil {
		s.deletePhoto(ctx, groupID, w.photoID)
		return
	}
	if err := s.photos.SavePhoto(ctx, groupID, w.photoID, w.previous); err != nil {
		zap.L().Warn("failed to restore photo",
			zap.String("group", groupID),
			zap.String("photo", w.photoID),
			zap.Error(err))
	}
}

// errKeepGroup aborts an UpdateGroup that only needs the lock.
var errKeepGroup = errors.New("group left unchanged")

// deleteUnreferenced removes the given photos under the group lock, skipping
// any that a concurrent enrollment has referenced again.
func (s *Service) deleteUnreferenced(ctx context.Context, groupID string, photoIDs []string) {
	if len(photoIDs) == 0 {
		return
	}
	_, err := s.roster.UpdateGroup(ctx, groupID, func(g *database.Group) error {
		referenced := make(map[string]bool)
		for _, p := range g.Persons {
			for _, id := range p.PhotoIDs {
				referenced[id] = true
			}
		}
		for _, id := range photoIDs {
			if !referenced[id] {
				s.deletePhoto(ctx, groupID, id)
			}
		}
		return errKeepGroup
	})
	if err != nil && !errors.Is(err, errKeepGroup) {
		zap.L().Warn("failed to clean up photos",
			zap.String("group", groupID),
			zap.Strings("photos", photoIDs),
			zap.Error(err))
	}
}

func (s *Service) deletePhoto(ctx context.Context, groupID, photoID string) {
	if err := s.photos.DeletePhoto(ctx, groupID, photoID); err != nil {
		zap.L().Warn("failed to delete photo",
			zap.String("group", groupID),
			zap.String("photo", photoID),
			zap.Error(err))
	}
}

func (o *PhotoOutcome) fail(err error) {
	o.Err = err
	o.Error = err.Error()
}

// DeletePerson removes a person with their reference photos. Stored sessions
// are left untouched.
func (s *Service) DeletePerson(ctx context.Context, groupID, personID string) error {
	var removed database.Person
	_, err := s.roster.UpdateGroup(ctx, groupID, func(g *database.Group) error {
		p, ok := g.RemovePerson(personID)
		if !ok {
			return fmt.Errorf("%w: %s in %s", database.ErrPersonNotFound, personID, groupID)
		}
		removed = p
		return nil
	})
	if err != nil {
		return err
	}

	s.deleteUnreferenced(ctx, groupID, removed.PhotoIDs)
	zap.L().Info("student deleted",
		zap.String("group", groupID),
		zap.String("student", personID),
		zap.Int("photos", len(removed.PhotoIDs)))
	return nil
}

// isPhotoError reports whether err only disqualifies a single photo rather
// than the detector or the store as a whole.
func isPhotoError(err error) bool {
	return errors.Is(err, ErrNoFaceDetected) ||
		errors.Is(err, ErrNoDescriptor) ||
		errors.Is(err, ErrUnsupportedImage) ||
		errors.Is(err, database.ErrNotFound)
}
