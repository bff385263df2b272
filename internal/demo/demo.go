// Package demo models recorded demonstrations: their on-disk format,
// scoring against joint limits and ranking.
package demo

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/selfeval/internal/kinematics"
)

// DefaultRegionOfInterest is used when a demonstration carries no region
// of interest.
const DefaultRegionOfInterest = 1.5

// UnscoredScore marks a demonstration without a joint-angle trajectory.
const UnscoredScore = -1

// Demonstration is one recorded demonstration.
//
// JointAngles rows are (time, q1..qJ); column 0 is the timestamp.
// ObjectPoses holds one homogeneous transform per object.
type Demonstration struct {
	ID               int                    `json:"id"`
	JointAngles      [][]float64            `json:"joint_angles"`
	ObjectPoses      []kinematics.Transform `json:"object_poses"`
	Score            float64                `json:"score"`
	RegionOfInterest float64                `json:"region_of_interest"`
	Source           string                 `json:"source,omitempty"`
}

// ObjectPosition returns the recorded position of object i.
func (d Demonstration) ObjectPosition(i int) (kinematics.Position, bool) {
	if i < 0 || i >= len(d.ObjectPoses) {
		return kinematics.Position{}, false
	}
	return d.ObjectPoses[i].Translation(), true
}

// New builds a scored demonstration. The score is computed once here.
func New(id int, jointAngles [][]float64, poses []kinematics.Transform, roi float64, limits []kinematics.JointLimit) Demonstration {
	if roi <= 0 || math.IsNaN(roi) {
		roi = DefaultRegionOfInterest
	}
	score := float64(UnscoredScore)
	if len(jointAngles) > 0 {
		score = Score(jointAngles, limits)
	}
	return Demonstration{
		ID:               id,
		JointAngles:      jointAngles,
		ObjectPoses:      poses,
		Score:            score,
		RegionOfInterest: roi,
	}
}

// Score returns the smallest signed margin between any recorded joint angle
// and its nearer limit. Column 0 of traj is the timestamp and is skipped;
// columns beyond len(limits) are ignored. Negative means a limit was
// exceeded, zero means a limit was touched.
func Score(traj [][]float64, limits []kinematics.JointLimit) float64 {
	if len(traj) == 0 || len(limits) == 0 {
		return UnscoredScore
	}

	minimum := math.Inf(1)
	margins := make([]float64, 0, 2*len(limits))
	for _, row := range traj {
		margins = margins[:0]
		for j, lim := range limits {
			if j+1 >= len(row) {
				break
			}
			q := row[j+1]
			margins = append(margins, q-lim.Lower, lim.Upper-q)
		}
		if len(margins) == 0 {
			continue
		}
		minimum = math.Min(minimum, floats.Min(margins))
	}
	if math.IsInf(minimum, 1) {
		return UnscoredScore
	}
	return minimum
}

// Rank returns a copy of demos sorted by descending score. Equal scores are
// ordered by ascending ID.
func Rank(demos []Demonstration) []Demonstration {
	out := slices.Clone(demos)
	slices.SortStableFunc(out, func(a, b Demonstration) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return a.ID - b.ID
	})
	return out
}

// NextID returns max existing ID + 1, starting at 1.
func NextID(existing []Demonstration) int {
	next := 1
	for _, d := range existing {
		if d.ID >= next {
			next = d.ID + 1
		}
	}
	return next
}
