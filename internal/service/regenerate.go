package service

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/detector"
	"github.com/kozaktomas/attendance/internal/facematch"
)

// ProgressFunc is called after every processed photo.
type ProgressFunc func(done, total int)

// PersonRegeneration reports what happened to one person's references.
type PersonRegeneration struct {
	PersonID string   `json:"student_id"`
	Name     string   `json:"name"`
	Photos   int      `json:"photos"`
	Encoded  int      `json:"encoded"`
	Dropped  []string `json:"dropped"`
	Kept     []string `json:"kept"`
}

// RegenerateResult summarizes a regeneration run for a group.
type RegenerateResult struct {
	GroupID   string               `json:"class_name"`
	Persons   []PersonRegeneration `json:"students"`
	Encodings int                  `json:"total_encodings"`
}

type regenJob struct {
	personID string
	photoID  string
}

type regenOutcome struct {
	descriptor facematch.Descriptor
	err        error
}

// RegenerateDescriptors recomputes the descriptor of every stored reference
// photo. Photos that no longer yield a descriptor are dropped together with
// their files, then the enrollment policy is applied. A detector failure
// aborts the run without changing the group.
func (s *Service) RegenerateDescriptors(ctx context.Context, groupID string, progress ProgressFunc) (*RegenerateResult, error) {
	g, err := s.roster.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	var jobs []regenJob
	// descriptor of every job at snapshot time
	snapshot := make(map[regenJob]facematch.Descriptor)
	for _, p := range g.Persons {
		for j, id := range p.PhotoIDs {
			job := regenJob{personID: p.PersonID, photoID: id}
			jobs = append(jobs, job)
			snapshot[job] = p.Descriptors[j]
		}
	}

	outcomes := make(map[regenJob]regenOutcome, len(jobs))
	var mu sync.Mutex
	var done int

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job regenJob) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			d, err := s.referenceDescriptor(ctx, groupID, job.photoID)

			mu.Lock()
			outcomes[job] = regenOutcome{descriptor: d, err: err}
			done++
			if progress != nil {
				progress(done, len(jobs))
			}
			mu.Unlock()
		}(job)
	}
	wg.Wait()

	for _, job := range jobs {
		if err := outcomes[job].err; err != nil && !isPhotoError(err) {
			return nil, fmt.Errorf("regenerating %s of %s: %w", job.photoID, job.personID, err)
		}
	}

	res := &RegenerateResult{GroupID: groupID}
	var removed []string
	updated, err := s.roster.UpdateGroup(ctx, groupID, func(g *database.Group) error {
		res.Persons = make([]PersonRegeneration, 0, len(g.Persons))
		removed = nil
		for i := range g.Persons {
			p := &g.Persons[i]
			report := PersonRegeneration{
				PersonID: p.PersonID,
				Name:     p.Name,
				Photos:   len(p.PhotoIDs),
				Dropped:  []string{},
			}

			photos := make([]string, 0, len(p.PhotoIDs))
			descriptors := make([]facematch.Descriptor, 0, len(p.PhotoIDs))
			for j, id := range p.PhotoIDs {
				job := regenJob{personID: p.PersonID, photoID: id}
				out, processed := outcomes[job]
				switch {
				case !processed, !slices.Equal(p.Descriptors[j], snapshot[job]):
					// added or replaced after the snapshot was taken
					photos = append(photos, id)
					descriptors = append(descriptors, p.Descriptors[j])
				case out.err != nil:
					report.Dropped = append(report.Dropped, id)
					zap.L().Warn("reference photo dropped",
						zap.String("group", groupID),
						zap.String("student", p.PersonID),
						zap.String("photo", id),
						zap.Error(out.err))
				default:
					photos = append(photos, id)
					descriptors = append(descriptors, out.descriptor)
					report.Encoded++
				}
			}
			p.PhotoIDs = photos
			p.Descriptors = descriptors

			report.Dropped = append(report.Dropped, s.applyPolicy(p)...)
			report.Kept = p.PhotoIDs
			removed = append(removed, report.Dropped...)
			res.Persons = append(res.Persons, report)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deleteUnreferenced(ctx, groupID, removed)
	for _, p := range updated.Persons {
		res.Encodings += len(p.Descriptors)
	}

	zap.L().Info("descriptors regenerated",
		zap.String("group", groupID),
		zap.Int("photos", len(jobs)),
		zap.Int("encodings", res.Encodings),
		zap.Int("dropped", len(removed)))
	return res, nil
}

// referenceDescriptor loads a stored reference photo and detects its face.
func (s *Service) referenceDescriptor(ctx context.Context, groupID, photoID string) (facematch.Descriptor, error) {
	data, err := s.photos.LoadPhoto(ctx, groupID, photoID)
	if err != nil {
		return nil, err
	}
	det, err := s.detector.DetectFaces(ctx, data)
	if err != nil {
		return nil, err
	}
	return s.firstDescriptor(det.Faces, photoID)
}

// firstDescriptor picks the descriptor of the first detected face.
func (s *Service) firstDescriptor(faces []detector.Face, name string) (facematch.Descriptor, error) {
	if len(faces) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFaceDetected, name)
	}
	if len(faces) > 1 {
		zap.L().Debug("several faces in reference photo, using the first",
			zap.String("photo", name),
			zap.Int("faces", len(faces)))
	}
	d := faces[0].Descriptor
	if err := d.Validate(s.dim); err != nil {
		return nil, fmt.Errorf("%w in %s: %w", ErrNoDescriptor, name, err)
	}
	return d, nil
}
