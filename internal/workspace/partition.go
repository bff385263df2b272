// Package workspace partitions a continuous workspace into bandit arms.
package workspace

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/selfeval/internal/demo"
)

// MaxArms caps the number of arms a configuration may produce.
const MaxArms = 1 << 20

// Dimension is one continuous axis of the workspace, such as x, y or θ.
type Dimension struct {
	Name      string  `json:"name" yaml:"name"`
	Min       float64 `json:"min" yaml:"min"`
	Max       float64 `json:"max" yaml:"max"`
	NSegments int     `json:"n_segments" yaml:"n_segments"`
}

// Validate checks min < max and n_segments >= 1.
func (d Dimension) Validate() error {
	if d.NSegments < 1 {
		return &ConfigurationError{Field: d.field("n_segments"), Reason: fmt.Sprintf("must be at least 1, got %d", d.NSegments)}
	}
	if math.IsNaN(d.Min) || math.IsNaN(d.Max) || d.Min >= d.Max {
		return &ConfigurationError{Field: d.field("min"), Reason: fmt.Sprintf("min (%v) must be less than max (%v)", d.Min, d.Max)}
	}
	return nil
}

func (d Dimension) field(name string) string {
	if d.Name == "" {
		return name
	}
	return d.Name + "." + name
}

// Interval is a closed sub-range [Lo, Hi] of a dimension.
type Interval struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Contains reports whether v lies in the closed interval.
func (iv Interval) Contains(v float64) bool { return iv.Lo <= v && v <= iv.Hi }

// Mid returns the interval midpoint.
func (iv Interval) Mid() float64 { return (iv.Lo + iv.Hi) / 2 }

// Arm is one cell of the partition. Intervals is object-major: the first
// len(dimensions) entries belong to object 0, the next to object 1, etc.
type Arm struct {
	ID             int                  `json:"id"`
	Intervals      []Interval           `json:"intervals"`
	Demonstrations []demo.Demonstration `json:"demonstrations,omitempty"`
}

// Center returns the midpoint of every interval, in Intervals order.
func (a Arm) Center() []float64 {
	out := make([]float64, len(a.Intervals))
	for i, iv := range a.Intervals {
		out[i] = iv.Mid()
	}
	return out
}

// Bounds returns the lower and upper bounds of every interval.
func (a Arm) Bounds() (low, high []float64) {
	low = make([]float64, len(a.Intervals))
	high = make([]float64, len(a.Intervals))
	for i, iv := range a.Intervals {
		low[i], high[i] = iv.Lo, iv.Hi
	}
	return low, high
}

// Intervals subdivides a dimension into NSegments equal-width contiguous
// intervals. The first Lo is Min and the last Hi is Max exactly.
func Intervals(d Dimension) ([]Interval, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	edges := floats.Span(make([]float64, d.NSegments+1), d.Min, d.Max)
	edges[0] = d.Min
	edges[len(edges)-1] = d.Max

	out := make([]Interval, d.NSegments)
	for i := range out {
		out[i] = Interval{Lo: edges[i], Hi: edges[i+1]}
	}
	return out, nil
}

// Count returns (Π n_segments)^nObjects without building the arms.
func Count(dims []Dimension, nObjects int) (int, error) {
	if err := validate(dims, nObjects); err != nil {
		return 0, err
	}
	n := 1
	for o := 0; o < nObjects; o++ {
		for _, d := range dims {
			if d.NSegments > MaxArms/n {
				return 0, &ConfigurationError{Field: "dimensions", Reason: fmt.Sprintf("more than %d arms", MaxArms)}
			}
			n *= d.NSegments
		}
	}
	return n, nil
}

// Partition builds the arms: the Cartesian product of the per-dimension
// intervals, raised to the power nObjects. IDs run 1..N in enumeration
// order, with the last dimension of the last object varying fastest.
func Partition(dims []Dimension, nObjects int) ([]Arm, error) {
	n, err := Count(dims, nObjects)
	if err != nil {
		return nil, err
	}

	perDim := make([][]Interval, len(dims))
	for i, d := range dims {
		if perDim[i], err = Intervals(d); err != nil {
			return nil, err
		}
	}

	// one slot per (object, dimension) pair
	slots := make([][]Interval, 0, nObjects*len(dims))
	for o := 0; o < nObjects; o++ {
		slots = append(slots, perDim...)
	}

	arms := make([]Arm, 0, n)
	idx := make([]int, len(slots))
	for id := 1; id <= n; id++ {
		ivs := make([]Interval, len(slots))
		for s, i := range idx {
			ivs[s] = slots[s][i]
		}
		arms = append(arms, Arm{ID: id, Intervals: ivs})

		for s := len(idx) - 1; s >= 0; s-- {
			idx[s]++
			if idx[s] < len(slots[s]) {
				break
			}
			idx[s] = 0
		}
	}
	return arms, nil
}

func validate(dims []Dimension, nObjects int) error {
	if nObjects < 1 {
		return &ConfigurationError{Field: "n_objects", Reason: fmt.Sprintf("must be at least 1, got %d", nObjects)}
	}
	if len(dims) == 0 {
		return &ConfigurationError{Field: "dimensions", Reason: "at least one dimension is required"}
	}
	for _, d := range dims {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}
