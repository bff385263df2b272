// Package kinematics holds the planar-pose and rigid-transform conventions
// shared by the sampler, the demonstration loader and the planner
// transports, plus the robot kinematic configuration.
package kinematics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// TableHeight is the fixed z offset applied to every sampled object pose.
// The planner expects exactly this value.
const TableHeight = -0.06447185171756116

// PlanarPose is an object pose on the table: position plus a rotation
// about the vertical axis.
type PlanarPose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Position is a point in the robot base frame.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Transform is a 4x4 homogeneous transform stored row-major.
type Transform [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Dense returns a copy of t as a gonum matrix.
func (t Transform) Dense() *mat.Dense {
	data := make([]float64, 16)
	copy(data, t[:])
	return mat.NewDense(4, 4, data)
}

// At returns the element at row i, column j.
func (t Transform) At(i, j int) float64 { return t[i*4+j] }

// Translation returns the translation column.
func (t Transform) Translation() Position {
	return Position{X: t[3], Y: t[7], Z: t[11]}
}

// TransformFromMatrix copies a 4x4 matrix into a Transform.
func TransformFromMatrix(m mat.Matrix) (Transform, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return Transform{}, fmt.Errorf("expected 4x4 matrix, got %dx%d", r, c)
	}
	var t Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			t[i*4+j] = m.At(i, j)
		}
	}
	return t, nil
}

// ToSE3 converts a planar pose into a homogeneous transform: a rotation by
// Theta about z composed with the translation (X, Y, TableHeight).
func ToSE3(p PlanarPose) Transform {
	sin, cos := math.Sincos(p.Theta)

	rotation := mat.NewDense(4, 4, []float64{
		cos, -sin, 0, 0,
		sin, cos, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	translation := mat.NewDense(4, 4, []float64{
		1, 0, 0, p.X,
		0, 1, 0, p.Y,
		0, 0, 1, TableHeight,
		0, 0, 0, 1,
	})

	var out mat.Dense
	out.Mul(translation, rotation)

	t, _ := TransformFromMatrix(&out)
	return t
}

// PoseFromVector interprets a sampled degree-of-freedom vector for one
// object. Two-dimensional workspaces have no orientation, so Theta is 0.
func PoseFromVector(v []float64) (PlanarPose, error) {
	switch len(v) {
	case 2:
		return PlanarPose{X: v[0], Y: v[1]}, nil
	case 3:
		return PlanarPose{X: v[0], Y: v[1], Theta: v[2]}, nil
	default:
		return PlanarPose{}, fmt.Errorf("pose vector must have 2 or 3 components, got %d", len(v))
	}
}

// Position returns the pose's position on the table.
func (p PlanarPose) Position() Position {
	return Position{X: p.X, Y: p.Y, Z: TableHeight}
}

// PlanarDistance is the Euclidean distance between a and b in the xy plane.
func PlanarDistance(a, b Position) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// PoseFromTransform recovers the planar pose of a transform produced by
// ToSE3.
func PoseFromTransform(t Transform) PlanarPose {
	return PlanarPose{X: t[3], Y: t[7], Theta: math.Atan2(t[4], t[0])}
}
