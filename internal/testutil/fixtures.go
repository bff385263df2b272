// Package testutil holds workspace, demonstration and robot fixtures
// shared by the package tests.
package testutil

import (
	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// StripDimensions is a 1-row workspace: x in [0, n] split into n unit
// segments and y in [0, 1] as a single segment. Arm k covers x in [k-1, k].
func StripDimensions(n int) []workspace.Dimension {
	return []workspace.Dimension{
		{Name: "x", Min: 0, Max: float64(n), NSegments: n},
		{Name: "y", Min: 0, Max: 1, NSegments: 1},
	}
}

// GridDimensions is an x/y/θ workspace over [-1, 1]² with the given
// segment counts and a single orientation segment.
func GridDimensions(nx, ny int) []workspace.Dimension {
	return []workspace.Dimension{
		{Name: "x", Min: -1, Max: 1, NSegments: nx},
		{Name: "y", Min: -1, Max: 1, NSegments: ny},
		{Name: "theta", Min: -3.14, Max: 3.14, NSegments: 1},
	}
}

// DemoAt returns a scored demonstration whose single object sits at (x, y).
func DemoAt(id int, x, y float64) demo.Demonstration {
	traj := [][]float64{{0, 0.1, -0.2}, {0.5, 0.2, -0.1}}
	limits := []kinematics.JointLimit{{Lower: -1, Upper: 1}, {Lower: -1, Upper: 1}}
	pose := kinematics.ToSE3(kinematics.PlanarPose{X: x, Y: y})
	return demo.New(id, traj, []kinematics.Transform{pose}, 0, limits)
}

// Robot returns a two-joint robot matching the trajectories of DemoAt.
func Robot() kinematics.RobotConfig {
	return kinematics.RobotConfig{
		Joints: []kinematics.Joint{
			{Name: "J1", Axis: [3]float64{0, 0, 1}, Limit: kinematics.JointLimit{Lower: -1, Upper: 1}},
			{Name: "J2", Axis: [3]float64{0, 1, 0}, Origin: [3]float64{0, 0, 0.3}, Limit: kinematics.JointLimit{Lower: -1, Upper: 1}},
		},
		Base: kinematics.Identity(),
	}
}
