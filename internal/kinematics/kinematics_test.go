package kinematics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/selfeval/internal/fsutil"
)

func TestToSE3(t *testing.T) {
	testCases := []struct {
		name string
		pose PlanarPose
		want Transform
	}{
		{
			name: "no rotation",
			pose: PlanarPose{X: 0.8, Y: 0.1},
			want: Transform{
				1, 0, 0, 0.8,
				0, 1, 0, 0.1,
				0, 0, 1, TableHeight,
				0, 0, 0, 1,
			},
		},
		{
			name: "quarter turn",
			pose: PlanarPose{X: 1, Y: -0.2, Theta: math.Pi / 2},
			want: Transform{
				0, -1, 0, 1,
				1, 0, 0, -0.2,
				0, 0, 1, TableHeight,
				0, 0, 0, 1,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ToSE3(tc.pose)
			for i := range got {
				assert.InDelta(t, tc.want[i], got[i], 1e-12, "element %d", i)
			}
		})
	}
}

func TestToSE3_TableHeightExact(t *testing.T) {
	got := ToSE3(PlanarPose{X: 0.3, Y: 0.4, Theta: 1.2})
	assert.Equal(t, -0.06447185171756116, got.At(2, 3))
	assert.Equal(t, Position{X: 0.3, Y: 0.4, Z: TableHeight}, got.Translation())
}

func TestPoseFromVector(t *testing.T) {
	p, err := PoseFromVector([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, PlanarPose{X: 1, Y: 2}, p)

	p, err = PoseFromVector([]float64{1, 2, 0.5})
	require.NoError(t, err)
	assert.Equal(t, PlanarPose{X: 1, Y: 2, Theta: 0.5}, p)

	_, err = PoseFromVector([]float64{1})
	assert.Error(t, err)
}

func TestParseTransforms(t *testing.T) {
	data := []byte("1,0,0,0.9\n0,1,0,0.3\n0,0,1,-0.06\n0,0,0,1\n" +
		"1,0,0,1.1\n0,1,0,0.5\n0,0,1,-0.06\n0,0,0,1\n")

	ts, err := ParseTransforms(data)
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, Position{X: 0.9, Y: 0.3, Z: -0.06}, ts[0].Translation())
	assert.Equal(t, Position{X: 1.1, Y: 0.5, Z: -0.06}, ts[1].Translation())

	again, err := ParseTransforms(FormatTransforms(ts))
	require.NoError(t, err)
	assert.Equal(t, ts, again)

	_, err = ParseTransforms([]byte("1,0,0\n0,1,0\n"))
	assert.Error(t, err)
}

func TestParseMatrix_Header(t *testing.T) {
	m, err := ParseMatrix([]byte("time,s0,s1\n0.0, 0.1, 0.2\n0.5, 0.3, 0.4\n"), true)
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 0.4, m.At(1, 2))

	_, err = ParseMatrix([]byte("a,b\n1,x\n"), true)
	assert.Error(t, err)
}

func writeRobotConfig(t *testing.T, fsys fsutil.FileSystem, dir string) {
	t.Helper()
	files := map[string]string{
		JointAxesFile:   "0,0,1\n0,1,0\n1,0,0\n",
		JointOriginFile: "0.1,0.2,0.3\n0,0,0\n0.5,0.5,0.5\n",
		JointLimitsFile: "-1.7,1.7\n-2.1,1.0\n-3.0,3.0\n",
		BaseFile:        "1,0,0,0.1\n0,1,0,0\n0,0,1,0.2\n0,0,0,1\n",
	}
	for name, content := range files {
		require.NoError(t, fsys.WriteFile(dir+"/"+name, []byte(content), 0644))
	}
}

func TestLoadRobotConfig(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeRobotConfig(t, fsys, "/robot")

	cfg, err := LoadRobotConfig(fsys, "/robot")
	require.NoError(t, err)
	require.Len(t, cfg.Joints, 3)

	assert.Equal(t, "J1", cfg.Joints[0].Name)
	assert.Equal(t, [3]float64{0, 0, 1}, cfg.Joints[0].Axis)
	assert.Equal(t, [3]float64{0.2, 0, 0.5}, cfg.Joints[1].Origin)
	assert.Equal(t, []JointLimit{{-1.7, 1.7}, {-2.1, 1.0}, {-3.0, 3.0}}, cfg.Limits())
	assert.Equal(t, Position{X: 0.1, Z: 0.2}, cfg.Base.Translation())
}

func TestLoadRobotConfig_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		override map[string]string
	}{
		{"missing limits", map[string]string{JointLimitsFile: ""}},
		{"limits shape", map[string]string{JointLimitsFile: "-1,1\n-1,1\n"}},
		{"inverted limit", map[string]string{JointLimitsFile: "1,-1\n-1,1\n-1,1\n"}},
		{"axes rows", map[string]string{JointAxesFile: "0,0,1\n0,1,0\n"}},
		{"base shape", map[string]string{BaseFile: "1,0,0\n0,1,0\n0,0,1\n"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fsys := fsutil.NewMemoryFileSystem()
			writeRobotConfig(t, fsys, "/robot")
			for name, content := range tc.override {
				require.NoError(t, fsys.WriteFile("/robot/"+name, []byte(content), 0644))
			}
			_, err := LoadRobotConfig(fsys, "/robot")
			assert.Error(t, err)
		})
	}
}
