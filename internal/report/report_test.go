package report

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/selfeval/internal/bandit"
	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/testutil"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// fakeResult builds a result over dims with two task instances per arm.
// Arms listed in failures get that many failed instances; arms missing
// from it are recorded as arm errors.
func fakeResult(t *testing.T, dims []workspace.Dimension, nObjects int, failures map[int]int) *bandit.Result {
	t.Helper()
	arms, err := workspace.Partition(dims, nObjects)
	require.NoError(t, err)

	res := &bandit.Result{
		RoundID:       "round/1",
		Params:        bandit.DefaultParams(),
		Dimensions:    dims,
		NObjects:      nObjects,
		SamplesPerArm: 2,
	}
	for _, a := range arms {
		res.Arms = append(res.Arms, bandit.ArmSummary{ID: a.ID, Intervals: a.Intervals})
		n, ok := failures[a.ID]
		if !ok {
			res.ArmErrors = append(res.ArmErrors, bandit.ArmErrorInfo{ArmID: a.ID, Error: "planner crashed"})
			continue
		}
		centre := a.Center()
		pos := make([]kinematics.Position, nObjects)
		for o := range pos {
			pos[o] = kinematics.Position{X: centre[o*len(dims)], Y: centre[o*len(dims)+1], Z: kinematics.TableHeight}
		}
		s := bandit.ArmStatistics{ArmID: a.ID, TaskInstances: [][]kinematics.Position{pos, pos}}
		for i := 0; i < n; i++ {
			s.FailedIndices = append(s.FailedIndices, i)
			s.FailureScores = append(s.FailureScores, 0.5)
		}
		res.PerArm = append(res.PerArm, s)
	}
	return res
}

func TestFromResult(t *testing.T) {
	res := fakeResult(t, testutil.GridDimensions(2, 2), 1, map[int]int{1: 0, 2: 1, 3: 2})
	res.WorstArmID = 3
	res.WorstArmFailureProbability = 1
	res.NextDemonstration = []kinematics.Position{{X: 0.5, Y: 0.5}}

	demos := []demo.Demonstration{testutil.DemoAt(1, 0.2, -0.4), testutil.DemoAt(2, -0.5, 0.5)}
	h, err := FromResult(res, demos)
	require.NoError(t, err)

	assert.Equal(t, "x", h.XName)
	assert.Equal(t, "y", h.YName)
	require.Len(t, h.Values, 2)
	require.Len(t, h.Values[0], 2)
	assert.InDelta(t, 0.25, h.Threshold, 1e-12)

	for _, a := range res.Arms {
		c := cellIndex(h.X, a.Intervals[0].Mid())
		r := cellIndex(h.Y, a.Intervals[1].Mid())
		p, ok := res.FailureProbability(a.ID)
		if !ok {
			assert.True(t, math.IsNaN(h.Values[r][c]), "arm %d", a.ID)
			continue
		}
		assert.Equal(t, p, h.Values[r][c], "arm %d", a.ID)
	}

	assert.Len(t, h.Instances, 6)
	nFailed := 0
	for _, in := range h.Instances {
		if in.Failed {
			nFailed++
		}
	}
	assert.Equal(t, 3, nFailed)
	assert.Equal(t, []DemoPoint{
		{ID: 1, X: 0.2, Y: -0.4, Score: demos[0].Score},
		{ID: 2, X: -0.5, Y: 0.5, Score: demos[1].Score},
	}, h.Demonstrations)

	xmin, xmax, ymin, ymax := h.Bounds()
	assert.Equal(t, []float64{-1, 1, -1, 1}, []float64{xmin, xmax, ymin, ymax})
}

func TestFromResult_SharedCellShowsWorstArm(t *testing.T) {
	// With two objects every object-0 cell is shared by two arms.
	res := fakeResult(t, testutil.StripDimensions(2), 2, map[int]int{1: 0, 2: 1, 3: 2, 4: 0})
	h, err := FromResult(res, nil)
	require.NoError(t, err)
	require.Len(t, h.Values, 1)

	want := make([]float64, 2)
	for _, a := range res.Arms {
		c := cellIndex(h.X, a.Intervals[0].Mid())
		p, _ := res.FailureProbability(a.ID)
		want[c] = math.Max(want[c], p)
	}
	assert.Equal(t, want, h.Values[0])
}

func TestFromResult_Errors(t *testing.T) {
	_, err := FromResult(nil, nil)
	assert.Error(t, err)

	res := &bandit.Result{Dimensions: []workspace.Dimension{{Name: "x", Min: 0, Max: 1, NSegments: 1}}}
	_, err = FromResult(res, nil)
	assert.ErrorIs(t, err, ErrNotPlanar)
}

func TestRenderHTML(t *testing.T) {
	res := fakeResult(t, testutil.GridDimensions(2, 2), 1, map[int]int{1: 0, 2: 1, 3: 2, 4: 1})
	res.NextDemonstration = []kinematics.Position{{X: 0.5, Y: 0.5}}
	h, err := FromResult(res, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, h))
	out := buf.String()
	assert.Contains(t, out, "Arm failure probability")
	assert.Contains(t, out, "Task instances")
	assert.Contains(t, out, "next demonstration")
	assert.Contains(t, out, "echarts")
}

func TestRenderPNG(t *testing.T) {
	res := fakeResult(t, testutil.GridDimensions(3, 2), 1, map[int]int{1: 0, 2: 1, 3: 2, 4: 1, 5: 0})
	res.NextDemonstration = []kinematics.Position{{X: 0.5, Y: 0.5}}
	h, err := FromResult(res, []demo.Demonstration{testutil.DemoAt(1, 0, 0)})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderPNG(&buf, h))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"out.json", FormatJSON, false},
		{"out.HTML", FormatHTML, false},
		{"out.htm", FormatHTML, false},
		{"dir/out.png", FormatPNG, false},
		{"out.csv", "", true},
		{"out", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "round_round_1.png", FileName("round/1", FormatPNG))
	assert.Equal(t, "round_unknown.json", FileName("", FormatJSON))
}

func TestSave(t *testing.T) {
	res := fakeResult(t, testutil.GridDimensions(2, 2), 1, map[int]int{1: 0, 2: 1, 3: 2, 4: 1})
	dir := t.TempDir()

	path := filepath.Join(dir, "nested", "round.json")
	require.NoError(t, Save(path, res, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got bandit.Result
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, res.RoundID, got.RoundID)
	assert.Len(t, got.PerArm, 4)

	htmlPath := filepath.Join(dir, "round.html")
	require.NoError(t, Save(htmlPath, res, nil))
	data, err = os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "<html"))

	assert.Error(t, Save(filepath.Join(dir, "round.txt"), res, nil))
	assert.Error(t, Save("/proc/selfeval/round.json", res, nil))

	_, err = os.Stat(filepath.Join(dir, "round.txt"))
	assert.True(t, os.IsNotExist(err))
}
