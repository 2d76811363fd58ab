package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance/internal/config"
	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/database/file"
	"github.com/kozaktomas/attendance/internal/database/mock"
	"github.com/kozaktomas/attendance/internal/database/postgres"
	"github.com/kozaktomas/attendance/internal/detector"
	"github.com/kozaktomas/attendance/internal/service"
)

// openBackend opens the storage selected by STORAGE_DRIVER.
func openBackend(cfg *config.Config) (*database.Backend, error) {
	switch cfg.Storage.Driver {
	case config.DriverFile:
		return file.Open(cfg.Storage.DataDir, cfg.Storage.LockTimeout)
	case config.DriverPostgres:
		return postgres.Open(&cfg.Database, cfg.Storage.LockTimeout, cfg.Storage.DataDir)
	case config.DriverMemory:
		zap.L().Warn("using in-memory storage, nothing will be persisted")
		b, _, _, _ := mock.NewBackend(cfg.Storage.LockTimeout)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// openService wires the configured backend and detector into a service.
// The returned close function releases the backend.
func openService(cfg *config.Config) (*service.Service, func(), error) {
	b, err := openBackend(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}
	zap.L().Info("storage ready", zap.String("driver", b.Name), zap.String("data_dir", cfg.Storage.DataDir))

	det := detector.New(cfg.Detector.URL, cfg.Detector.MaxImageSize, cfg.Detector.Timeout)
	svc := service.New(b, det, service.OptionsFromConfig(cfg))

	closeFn := func() {
		if err := b.Close(); err != nil {
			zap.L().Warn("failed to close storage", zap.Error(err))
		}
	}
	return svc, closeFn, nil
}
