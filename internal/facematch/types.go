// Package facematch decides which enrolled person, if any, a detected face belongs to.
// It is pure: no I/O, no shared state, safe for concurrent use.
package facematch

// MaxConfidenceDistance is the distance at which confidence reaches zero.
const MaxConfidenceDistance = 0.6

// secondBestSentinel stands in for the runner-up distance when fewer than two
// persons participate. It is larger than any valid distance of a normalized descriptor.
const secondBestSentinel = 1.0

// GalleryEntry holds the reference descriptors of one enrolled person.
type GalleryEntry struct {
	PersonID    string
	Descriptors []Descriptor
}

// Gallery is the comparison basis for a recognition run, in roster order.
type Gallery []GalleryEntry

// Assignment is the decision for one query descriptor.
// PersonID is empty when the query was rejected (unknown face).
// Distance is nil when no person had any descriptor to compare against.
type Assignment struct {
	QueryIndex int      `json:"query_index"`
	PersonID   string   `json:"person_id,omitempty"`
	Distance   *float64 `json:"distance,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Matched reports whether the query was assigned to a person.
func (a Assignment) Matched() bool {
	return a.PersonID != ""
}

// Confidence maps a distance to a 0-100 score.
func Confidence(distance float64) float64 {
	c := (1 - distance/MaxConfidenceDistance) * 100
	return min(max(c, 0), 100)
}
