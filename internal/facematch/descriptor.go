package facematch

import (
	"fmt"
	"math"
)

// Descriptor is a fixed-length face embedding produced by the external provider.
// The dimension is owned by the provider and injected at startup.
type Descriptor []float32

// Distance returns the Euclidean distance between two descriptors.
// Descriptors of different length are incomparable and yield +Inf.
func Distance(a, b Descriptor) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Validate checks a descriptor against the expected dimension.
// A dim of zero accepts any non-empty descriptor.
func (d Descriptor) Validate(dim int) error {
	if len(d) == 0 {
		return fmt.Errorf("empty descriptor")
	}
	if dim > 0 && len(d) != dim {
		return fmt.Errorf("descriptor has %d dimensions, expected %d", len(d), dim)
	}
	for i, v := range d {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("descriptor value %d is not finite", i)
		}
	}
	return nil
}
