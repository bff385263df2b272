// Package report turns round results into heat maps of per-arm failure
// probability, as HTML (go-echarts), PNG (gonum/plot) or JSON.
package report

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/selfeval/internal/bandit"
	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// ErrNotPlanar is returned for workspaces with fewer than two dimensions.
var ErrNotPlanar = errors.New("heat map needs at least two dimensions")

// Instance is one sampled task instance projected onto the table plane.
type Instance struct {
	ArmID  int     `json:"arm_id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Failed bool    `json:"failed"`
}

// DemoPoint is the recorded position of a demonstration's first object.
type DemoPoint struct {
	ID    int     `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

// Heatmap is the planar projection of a round onto the first object's x/y
// cells. A cell shared by several arms (more objects, or a third
// dimension) shows the worst of them; cells with no evaluated arm are NaN.
type Heatmap struct {
	RoundID   string
	Done      bool
	Threshold float64
	WorstArm  int
	WorstP    float64

	XName, YName string
	X, Y         []workspace.Interval
	// Values is indexed [row][column], rows along Y.
	Values [][]float64

	Instances      []Instance
	Demonstrations []DemoPoint
	Next           []kinematics.Position
}

// FromResult builds the heat map of res. demos may be nil.
func FromResult(res *bandit.Result, demos []demo.Demonstration) (*Heatmap, error) {
	if res == nil {
		return nil, errors.New("no result")
	}
	if len(res.Dimensions) < 2 {
		return nil, ErrNotPlanar
	}
	xs, err := workspace.Intervals(res.Dimensions[0])
	if err != nil {
		return nil, err
	}
	ys, err := workspace.Intervals(res.Dimensions[1])
	if err != nil {
		return nil, err
	}

	h := &Heatmap{
		RoundID:   res.RoundID,
		Done:      res.Done,
		Threshold: res.Params.Threshold(),
		WorstArm:  res.WorstArmID,
		WorstP:    res.WorstArmFailureProbability,
		XName:     res.Dimensions[0].Name,
		YName:     res.Dimensions[1].Name,
		X:         xs,
		Y:         ys,
		Values:    make([][]float64, len(ys)),
		Next:      res.NextDemonstration,
	}
	for r := range h.Values {
		h.Values[r] = make([]float64, len(xs))
		for c := range h.Values[r] {
			h.Values[r][c] = math.NaN()
		}
	}

	for _, a := range res.Arms {
		p, ok := res.FailureProbability(a.ID)
		if !ok || len(a.Intervals) < 2 {
			continue
		}
		c := cellIndex(xs, a.Intervals[0].Mid())
		r := cellIndex(ys, a.Intervals[1].Mid())
		if c < 0 || r < 0 {
			continue
		}
		if v := h.Values[r][c]; math.IsNaN(v) || p > v {
			h.Values[r][c] = p
		}
	}

	for _, s := range res.PerArm {
		failed := make(map[int]bool, len(s.FailedIndices))
		for _, i := range s.FailedIndices {
			failed[i] = true
		}
		for i, inst := range s.TaskInstances {
			if len(inst) == 0 {
				continue
			}
			h.Instances = append(h.Instances, Instance{ArmID: s.ArmID, X: inst[0].X, Y: inst[0].Y, Failed: failed[i]})
		}
	}

	for _, d := range demos {
		pos, ok := d.ObjectPosition(0)
		if !ok {
			continue
		}
		h.Demonstrations = append(h.Demonstrations, DemoPoint{ID: d.ID, X: pos.X, Y: pos.Y, Score: d.Score})
	}
	return h, nil
}

func cellIndex(ivs []workspace.Interval, v float64) int {
	for i, iv := range ivs {
		if iv.Contains(v) {
			return i
		}
	}
	return -1
}

// Bounds returns the planar extent of the workspace.
func (h *Heatmap) Bounds() (xmin, xmax, ymin, ymax float64) {
	return h.X[0].Lo, h.X[len(h.X)-1].Hi, h.Y[0].Lo, h.Y[len(h.Y)-1].Hi
}

func (h *Heatmap) subtitle() string {
	status := "more demonstrations needed"
	if h.Done {
		status = "sufficient"
	}
	return fmt.Sprintf("round=%s worst arm=#%d p=%.3f threshold=%.3f (%s)", h.RoundID, h.WorstArm, h.WorstP, h.Threshold, status)
}
