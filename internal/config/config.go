package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Storage drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Enrollment policies.
const (
	PolicyCanonical = "canonical" // keep only the lexicographically-first reference photo
	PolicyAll       = "all"       // keep every accepted reference photo
)

type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Detector   DetectorConfig   `yaml:"detector"`
	Match      MatchConfig      `yaml:"match"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Web        WebConfig        `yaml:"web"`
	Log        LogConfig        `yaml:"log"`
}

type StorageConfig struct {
	Driver      string        `yaml:"driver"`       // file, postgres or memory
	DataDir     string        `yaml:"data_dir"`     // root of data/, known_faces/, attendance_data/, uploads/
	LockTimeout time.Duration `yaml:"lock_timeout"` // how long a writer waits for a group before ErrBusy
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`            // PostgreSQL connection URL
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
}

type DetectorConfig struct {
	URL          string        `yaml:"url"`            // face embedding service
	Dim          int           `yaml:"dim"`            // descriptor dimension, 128 for dlib models
	MaxImageSize int           `yaml:"max_image_size"` // longest edge sent to the service
	Timeout      time.Duration `yaml:"timeout"`
	Concurrency  int           `yaml:"concurrency"` // parallel calls during regeneration
}

type MatchConfig struct {
	Tolerance float64 `yaml:"tolerance"`
	Margin    float64 `yaml:"margin"`
}

type EnrollmentConfig struct {
	Policy string `yaml:"policy"`
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS origins besides localhost
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float; invalid values keep the default.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envList reads a comma-separated list, dropping empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// Defaults returns the embedded default configuration.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load returns the defaults overridden by environment variables.
func Load() *Config {
	d := Defaults()

	return &Config{
		Storage: StorageConfig{
			Driver:      strings.ToLower(envString("STORAGE_DRIVER", d.Storage.Driver)),
			DataDir:     envString("DATA_DIR", d.Storage.DataDir),
			LockTimeout: envDuration("LOCK_TIMEOUT", d.Storage.LockTimeout),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
		},
		Detector: DetectorConfig{
			URL:          envString("DETECTOR_URL", d.Detector.URL),
			Dim:          envInt("DESCRIPTOR_DIM", d.Detector.Dim),
			MaxImageSize: envInt("DETECTOR_MAX_IMAGE_SIZE", d.Detector.MaxImageSize),
			Timeout:      envDuration("DETECTOR_TIMEOUT", d.Detector.Timeout),
			Concurrency:  envInt("DETECTOR_CONCURRENCY", d.Detector.Concurrency),
		},
		Match: MatchConfig{
			Tolerance: envFloat("MATCH_TOLERANCE", d.Match.Tolerance),
			Margin:    envFloat("MATCH_MARGIN", d.Match.Margin),
		},
		Enrollment: EnrollmentConfig{
			Policy: strings.ToLower(envString("ENROLLMENT_POLICY", d.Enrollment.Policy)),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", d.Web.Host),
			Port:           envInt("WEB_PORT", d.Web.Port),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Web.AllowedOrigins),
		},
		Log: LogConfig{
			Level:       envString("LOG_LEVEL", d.Log.Level),
			Development: envBool("LOG_DEVELOPMENT", d.Log.Development),
		},
	}
}

// Validate reports every setting the application cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverFile, DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Match.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("match tolerance must be positive, got %v", c.Match.Tolerance))
	}
	if c.Match.Margin < 0 {
		errs = append(errs, fmt.Errorf("match margin must not be negative, got %v", c.Match.Margin))
	}
	if c.Enrollment.Policy != PolicyCanonical && c.Enrollment.Policy != PolicyAll {
		errs = append(errs, fmt.Errorf("unknown enrollment policy %q", c.Enrollment.Policy))
	}
	if c.Detector.Dim <= 0 {
		errs = append(errs, fmt.Errorf("descriptor dimension must be positive, got %d", c.Detector.Dim))
	}
	return errors.Join(errs...)
}
