// Package constants provides shared constants used across the codebase.
package constants

// File upload constants
const (
	// MaxUploadSize is the maximum request body for photo uploads in bytes (100MB)
	MaxUploadSize = 100 << 20

	// MaxJSONBodySize caps JSON request bodies
	MaxJSONBodySize = 1 << 20
)

// RetryAfterSeconds is sent with 503 responses when a record is busy
const RetryAfterSeconds = 1
