package kinematics

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/selfeval/internal/fsutil"
)

// Robot configuration file names, as laid out in a robot config directory.
const (
	JointAxesFile   = "baxter_joint_axes.csv"
	JointOriginFile = "baxter_joint_q.csv"
	JointLimitsFile = "baxter_joint_limits.csv"
	BaseFile        = "baxter_gst0.csv"
)

var baxterJointNames = []string{"S0", "S1", "E0", "E1", "W0", "W1", "W2"}

// JointLimit bounds one revolute joint, in radians.
type JointLimit struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Joint describes one revolute joint of the manipulator.
type Joint struct {
	Name   string     `json:"name"`
	Axis   [3]float64 `json:"axis"`
	Origin [3]float64 `json:"origin"`
	Limit  JointLimit `json:"limit"`
}

// RobotConfig is the kinematic description handed to the motion planner.
type RobotConfig struct {
	Joints []Joint   `json:"joints"`
	Base   Transform `json:"base"`
}

// Limits returns the joint limits in joint order.
func (r RobotConfig) Limits() []JointLimit {
	out := make([]JointLimit, len(r.Joints))
	for i, j := range r.Joints {
		out[i] = j.Limit
	}
	return out
}

// Validate checks that the configuration is usable.
func (r RobotConfig) Validate() error {
	if len(r.Joints) == 0 {
		return errors.New("robot config has no joints")
	}
	for i, j := range r.Joints {
		if j.Limit.Lower > j.Limit.Upper {
			return fmt.Errorf("joint %d (%s): lower limit %v exceeds upper limit %v", i, j.Name, j.Limit.Lower, j.Limit.Upper)
		}
	}
	return nil
}

// LoadRobotConfig reads the four robot CSVs from dir: joint axes (3xJ),
// joint origins (3xJ), joint limits (Jx2) and the base transform (4x4).
func LoadRobotConfig(fsys fsutil.FileSystem, dir string) (RobotConfig, error) {
	read := func(name string) ([]byte, error) {
		data, err := fsys.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		return data, nil
	}

	axesData, err := read(JointAxesFile)
	if err != nil {
		return RobotConfig{}, err
	}
	axes, err := ParseMatrix(axesData, false)
	if err != nil {
		return RobotConfig{}, fmt.Errorf("%s: %w", JointAxesFile, err)
	}

	originData, err := read(JointOriginFile)
	if err != nil {
		return RobotConfig{}, err
	}
	origins, err := ParseMatrix(originData, false)
	if err != nil {
		return RobotConfig{}, fmt.Errorf("%s: %w", JointOriginFile, err)
	}

	limitData, err := read(JointLimitsFile)
	if err != nil {
		return RobotConfig{}, err
	}
	limits, err := ParseMatrix(limitData, false)
	if err != nil {
		return RobotConfig{}, fmt.Errorf("%s: %w", JointLimitsFile, err)
	}

	baseData, err := read(BaseFile)
	if err != nil {
		return RobotConfig{}, err
	}
	bases, err := ParseTransforms(baseData)
	if err != nil {
		return RobotConfig{}, fmt.Errorf("%s: %w", BaseFile, err)
	}
	if len(bases) != 1 {
		return RobotConfig{}, fmt.Errorf("%s: expected one transform, got %d", BaseFile, len(bases))
	}

	ar, nJoints := axes.Dims()
	or, oc := origins.Dims()
	lr, lc := limits.Dims()
	switch {
	case ar != 3:
		return RobotConfig{}, fmt.Errorf("%s: expected 3 rows, got %d", JointAxesFile, ar)
	case or != 3 || oc != nJoints:
		return RobotConfig{}, fmt.Errorf("%s: expected 3x%d, got %dx%d", JointOriginFile, nJoints, or, oc)
	case lr != nJoints || lc != 2:
		return RobotConfig{}, fmt.Errorf("%s: expected %dx2, got %dx%d", JointLimitsFile, nJoints, lr, lc)
	}

	cfg := RobotConfig{Base: bases[0], Joints: make([]Joint, nJoints)}
	for i := 0; i < nJoints; i++ {
		name := fmt.Sprintf("J%d", i+1)
		if nJoints == len(baxterJointNames) {
			name = baxterJointNames[i]
		}
		cfg.Joints[i] = Joint{
			Name:   name,
			Axis:   [3]float64{axes.At(0, i), axes.At(1, i), axes.At(2, i)},
			Origin: [3]float64{origins.At(0, i), origins.At(1, i), origins.At(2, i)},
			Limit:  JointLimit{Lower: limits.At(i, 0), Upper: limits.At(i, 1)},
		}
	}
	return cfg, cfg.Validate()
}
