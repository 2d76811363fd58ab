// Package service orchestrates enrollment, recognition runs and reporting on
// top of a storage backend and a face detector.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance/internal/config"
	"github.com/kozaktomas/attendance/internal/constants"
	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/detector"
	"github.com/kozaktomas/attendance/internal/facematch"
)

var (
	// ErrNoFaceDetected means an enrollment photo contains no face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrNoDescriptor means a face was found but its descriptor is unusable.
	ErrNoDescriptor = errors.New("no usable face descriptor")
	// ErrUnsupportedImage means the upload is not an accepted image.
	ErrUnsupportedImage = detector.ErrUnsupportedImage
	// ErrInvalidInput marks request data that failed validation.
	ErrInvalidInput = errors.New("invalid input")
)

// Detector finds faces and their descriptors in an image.
type Detector interface {
	DetectFaces(ctx context.Context, imageData []byte) (*detector.Detection, error)
}

// Options tunes matching and enrollment.
type Options struct {
	Tolerance float64
	Margin    float64
	Policy    string // config.PolicyCanonical or config.PolicyAll
	Dim       int
	// Concurrency bounds parallel detector calls during regeneration
	Concurrency int
}

// OptionsFromConfig extracts service options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Tolerance:   cfg.Match.Tolerance,
		Margin:      cfg.Match.Margin,
		Policy:      cfg.Enrollment.Policy,
		Dim:         cfg.Detector.Dim,
		Concurrency: cfg.Detector.Concurrency,
	}
}

// Service is the attendance application core.
type Service struct {
	roster   database.RosterRepository
	ledger   database.SessionLedger
	photos   database.PhotoStore
	uploads  database.UploadStore
	detector Detector
	engine   facematch.Engine
	policy   string
	dim      int
	workers  int
	validate *validator.Validate

	Now func() time.Time
}

// New creates a service on top of backend b.
func New(b *database.Backend, det Detector, opts Options) *Service {
	workers := opts.Concurrency
	if workers <= 0 {
		workers = constants.DefaultConcurrency
	}
	policy := opts.Policy
	if policy == "" {
		policy = config.PolicyCanonical
	}
	return &Service{
		roster:   b.Roster,
		ledger:   b.Ledger,
		photos:   b.Photos,
		uploads:  b.Uploads,
		detector: det,
		engine:   facematch.NewEngine(opts.Tolerance, opts.Margin),
		policy:   policy,
		dim:      opts.Dim,
		workers:  workers,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		Now:      time.Now,
	}
}

// Engine returns the match engine in use.
func (s *Service) Engine() facematch.Engine {
	return s.engine
}

// CreateClass creates an empty group from its display name.
func (s *Service) CreateClass(ctx context.Context, name string) (*database.Group, error) {
	g, err := s.roster.CreateGroup(ctx, name)
	if err != nil {
		return nil, err
	}
	zap.L().Info("class created", zap.String("group", g.ID), zap.String("name", g.DisplayName))
	return g, nil
}

// GetClass returns one group.
func (s *Service) GetClass(ctx context.Context, groupID string) (*database.Group, error) {
	return s.roster.GetGroup(ctx, groupID)
}

// ListClasses returns every group ordered by ID.
func (s *Service) ListClasses(ctx context.Context) ([]database.Group, error) {
	return s.roster.ListGroups(ctx)
}

// DeleteClass removes the group, its reference photos and its session history.
func (s *Service) DeleteClass(ctx context.Context, groupID string) error {
	if err := s.roster.DeleteGroup(ctx, groupID); err != nil {
		return err
	}

	var errs []error
	if err := s.photos.DeleteGroupPhotos(ctx, groupID); err != nil {
		errs = append(errs, err)
	}
	if err := s.ledger.DeleteSessions(ctx, groupID); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("class %s deleted, cleanup incomplete: %w", groupID, err)
	}

	zap.L().Info("class deleted", zap.String("group", groupID))
	return nil
}
