package facematch

import (
	"math"
	"sort"
)

// Engine applies threshold and margin gating to nearest-person matches.
type Engine struct {
	// Tolerance is the largest distance still accepted as a match.
	Tolerance float64
	// Margin is the minimum gap between the best and second-best person.
	Margin float64
}

// NewEngine creates an engine with the given tunables.
func NewEngine(tolerance, margin float64) Engine {
	return Engine{Tolerance: tolerance, Margin: margin}
}

// candidate is one person's closest descriptor distance to a query.
type candidate struct {
	personID string
	distance float64
}

// rankCandidates computes the per-person minimum distance to q, nearest first.
// Persons without comparable descriptors do not participate. Ties keep gallery order.
func rankCandidates(q Descriptor, gallery Gallery) []candidate {
	candidates := make([]candidate, 0, len(gallery))
	for _, entry := range gallery {
		best := math.Inf(1)
		for _, e := range entry.Descriptors {
			if d := Distance(q, e); d < best {
				best = d
			}
		}
		if math.IsInf(best, 1) {
			continue
		}
		candidates = append(candidates, candidate{personID: entry.PersonID, distance: best})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	return candidates
}

// MatchOne decides the assignment of a single query descriptor.
func (e Engine) MatchOne(index int, q Descriptor, gallery Gallery) Assignment {
	a := Assignment{QueryIndex: index}

	candidates := rankCandidates(q, gallery)
	if len(candidates) == 0 {
		return a
	}

	best := candidates[0]
	second := secondBestSentinel
	if len(candidates) > 1 {
		second = candidates[1].distance
	}

	d1 := best.distance
	a.Distance = &d1
	// a tie never passes, even with a zero margin
	if d1 <= e.Tolerance && second > d1 && second-d1 >= e.Margin {
		a.PersonID = best.personID
		a.Confidence = Confidence(d1)
	}
	return a
}

// Match assigns every query to at most one person.
// The result has one Assignment per query, in query order.
func (e Engine) Match(queries []Descriptor, gallery Gallery) []Assignment {
	assignments := make([]Assignment, len(queries))
	for i, q := range queries {
		assignments[i] = e.MatchOne(i, q, gallery)
	}
	return assignments
}
