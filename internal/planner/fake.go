package planner

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/sampling"
)

// DefaultScrewSegments is the segment count reported by the in-process
// planners.
const DefaultScrewSegments = 10

// Scripted is a deterministic in-process planner. Rate returns the
// fraction of a batch that fails, given the batch's first task instance;
// the first round(rate*n) instances of the batch fail with every
// demonstration and the rest succeed with the first one.
type Scripted struct {
	Rate           func(ti sampling.TaskInstance) float64
	NScrewSegments int

	calls atomic.Int64
}

// Calls returns how many batches have been planned.
func (s *Scripted) Calls() int64 { return s.calls.Load() }

// Plan implements Planner.
func (s *Scripted) Plan(ctx context.Context, req Request) ([][]PlanAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.calls.Add(1)

	segments := s.NScrewSegments
	if segments <= 0 {
		segments = DefaultScrewSegments
	}
	nFail := 0
	if len(req.TaskInstances) > 0 && s.Rate != nil {
		nFail = int(math.Round(s.Rate(req.TaskInstances[0]) * float64(len(req.TaskInstances))))
	}

	plans := make([][]PlanAttempt, len(req.TaskInstances))
	for i := range req.TaskInstances {
		var attempts []PlanAttempt
		for k, d := range req.Demonstrations {
			a := PlanAttempt{DemonstrationID: d.ID, NScrewSegments: segments}
			if i >= nFail {
				a.IsSuccessful = true
				attempts = append(attempts, a)
				break
			}
			a.FailedScrewSegment = (i + k) % segments
			a.FailedJointIndex = k % 7
			attempts = append(attempts, a)
		}
		plans[i] = attempts
	}
	return plans, nil
}

// Proximity is a synthetic planner for dry runs: a demonstration guides a
// task instance successfully when the first object lies within
// Radius*RegionOfInterest of the demonstration's first object. Failed
// attempts progress in proportion to how close the object was.
type Proximity struct {
	Radius         float64
	NScrewSegments int
}

// Plan implements Planner.
func (p Proximity) Plan(ctx context.Context, req Request) ([][]PlanAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	segments := p.NScrewSegments
	if segments <= 0 {
		segments = DefaultScrewSegments
	}

	plans := make([][]PlanAttempt, len(req.TaskInstances))
	for i, ti := range req.TaskInstances {
		var target kinematics.Position
		if len(ti.Poses) > 0 {
			target = ti.Poses[0].Position()
		}
		var attempts []PlanAttempt
		for _, d := range req.Demonstrations {
			a := PlanAttempt{DemonstrationID: d.ID, NScrewSegments: segments}
			reach := p.reach(d)
			dist := math.Inf(1)
			if pos, ok := d.ObjectPosition(0); ok {
				dist = kinematics.PlanarDistance(target, pos)
			}
			if dist <= reach {
				a.IsSuccessful = true
				attempts = append(attempts, a)
				break
			}
			a.FailedScrewSegment = min(segments-1, int(float64(segments)*reach/dist))
			attempts = append(attempts, a)
		}
		plans[i] = attempts
	}
	return plans, nil
}

func (p Proximity) reach(d demo.Demonstration) float64 {
	roi := d.RegionOfInterest
	if roi <= 0 {
		roi = demo.DefaultRegionOfInterest
	}
	return p.Radius * roi
}
