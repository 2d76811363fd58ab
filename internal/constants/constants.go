// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import (
	"path/filepath"
	"slices"
	"strings"
)

// Image constants
const (
	// MaxImageSize is the maximum dimension (width or height) sent to the detector
	MaxImageSize = 1920
)

// AllowedImageExtensions lists the upload extensions accepted for photos
var AllowedImageExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// AllowedImage reports whether filename has an accepted image extension.
func AllowedImage(filename string) bool {
	return slices.Contains(AllowedImageExtensions, strings.ToLower(filepath.Ext(filename)))
}

// Processing constants
const (
	// DefaultConcurrency is the default number of parallel detector calls
	// during descriptor regeneration
	DefaultConcurrency = 4
)
