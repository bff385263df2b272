// Package sampling draws task instances uniformly inside an arm.
package sampling

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// TaskInstance is one sampled candidate placement: a pose per object and
// the matching homogeneous transforms handed to the planner.
type TaskInstance struct {
	Poses      []kinematics.PlanarPose `json:"poses"`
	Transforms []kinematics.Transform  `json:"transforms"`
}

// Positions drops orientation and returns one position per object.
func (ti TaskInstance) Positions() []kinematics.Position {
	out := make([]kinematics.Position, len(ti.Poses))
	for i, p := range ti.Poses {
		out[i] = p.Position()
	}
	return out
}

// Generator draws task instances from an injected random source so runs
// can be reproduced from a seed.
type Generator struct {
	src rand.Source
}

// NewGenerator returns a generator over src. A nil src uses the global
// math/rand/v2 source.
func NewGenerator(src rand.Source) *Generator {
	return &Generator{src: src}
}

// NewSeededGenerator returns a generator over a PCG stream.
func NewSeededGenerator(seed, stream uint64) *Generator {
	return NewGenerator(rand.NewPCG(seed, stream))
}

// Sample draws n task instances inside arm. Every degree of freedom is
// uniform within its interval; intervals are consumed object-major, nDims
// per object. nDims must be 2 (x, y) or 3 (x, y, θ).
func (g *Generator) Sample(arm workspace.Arm, n, nObjects, nDims int) ([]TaskInstance, error) {
	if n < 0 {
		return nil, fmt.Errorf("sample count must be non-negative, got %d", n)
	}
	if nDims != 2 && nDims != 3 {
		return nil, fmt.Errorf("planar poses need 2 or 3 dimensions, got %d", nDims)
	}
	if nObjects < 1 || len(arm.Intervals) != nObjects*nDims {
		return nil, fmt.Errorf("arm %d has %d intervals, expected %d objects x %d dimensions",
			arm.ID, len(arm.Intervals), nObjects, nDims)
	}

	dists := make([]distuv.Uniform, len(arm.Intervals))
	for i, iv := range arm.Intervals {
		dists[i] = distuv.Uniform{Min: iv.Lo, Max: iv.Hi, Src: g.src}
	}

	out := make([]TaskInstance, n)
	dof := make([]float64, len(dists))
	for i := range out {
		for j := range dists {
			dof[j] = dists[j].Rand()
		}

		ti := TaskInstance{
			Poses:      make([]kinematics.PlanarPose, nObjects),
			Transforms: make([]kinematics.Transform, nObjects),
		}
		for o := 0; o < nObjects; o++ {
			pose, err := kinematics.PoseFromVector(dof[o*nDims : (o+1)*nDims])
			if err != nil {
				return nil, err
			}
			ti.Poses[o] = pose
			ti.Transforms[o] = kinematics.ToSE3(pose)
		}
		out[i] = ti
	}
	return out, nil
}
