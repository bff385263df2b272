package planner

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/banshee-data/selfeval/internal/kinematics"
)

// wireDemo is a demonstration as it travels over the socket: the planner
// reads the trajectory and object poses from the named files.
type wireDemo struct {
	JointFile        string
	PoseFile         string
	RegionOfInterest float64
	Score            float64
}

type wireRequest struct {
	Demos         []wireDemo
	Tasks         [][]kinematics.Transform
	InitialJoints []float64
}

var (
	requestOrder  binary.ByteOrder = binary.BigEndian
	responseOrder binary.ByteOrder = binary.LittleEndian
)

func writeRequest(w io.Writer, req wireRequest) error {
	ww := newWireWriter(w, requestOrder)

	ww.putInt(len(req.Demos))
	for _, d := range req.Demos {
		ww.putString(d.JointFile)
		ww.putString(d.PoseFile)
		ww.putFloat(d.RegionOfInterest)
		ww.putFloat(d.Score)
	}

	ww.putInt(len(req.Tasks))
	for _, poses := range req.Tasks {
		ww.putInt(len(poses))
		for _, t := range poses {
			ww.putFloats(t[:])
		}
	}

	ww.putFloats(req.InitialJoints)
	return ww.flush()
}

func readRequest(r io.Reader) (wireRequest, error) {
	wr := newWireReader(r, requestOrder)
	var req wireRequest

	nDemos := wr.length()
	for i := 0; i < nDemos && wr.err == nil; i++ {
		req.Demos = append(req.Demos, wireDemo{
			JointFile:        wr.string(),
			PoseFile:         wr.string(),
			RegionOfInterest: wr.float(),
			Score:            wr.float(),
		})
	}

	nTasks := wr.length()
	for i := 0; i < nTasks && wr.err == nil; i++ {
		nPoses := wr.length()
		poses := make([]kinematics.Transform, 0, min(nPoses, maxPrealloc))
		for j := 0; j < nPoses && wr.err == nil; j++ {
			vals := wr.floats()
			if wr.err == nil && len(vals) != 16 {
				return wireRequest{}, fmt.Errorf("task %d pose %d: expected 16 values, got %d", i, j, len(vals))
			}
			var t kinematics.Transform
			copy(t[:], vals)
			poses = append(poses, t)
		}
		req.Tasks = append(req.Tasks, poses)
	}

	req.InitialJoints = wr.floats()
	if wr.err != nil {
		return wireRequest{}, fmt.Errorf("failed to decode request: %w", wr.err)
	}
	return req, nil
}

func writeResponse(w io.Writer, plans [][]PlanAttempt) error {
	ww := newWireWriter(w, responseOrder)
	for _, attempts := range plans {
		for _, a := range attempts {
			ww.putInt(a.NScrewSegments)
			ww.putInt(len(a.Trajectory))
			for _, waypoint := range a.Trajectory {
				ww.putFloats(waypoint)
			}
			ww.putBool(a.IsSuccessful)
			if !a.IsSuccessful {
				ww.putInt(a.FailedScrewSegment)
				ww.putInt(a.FailedJointIndex)
			}
		}
	}
	return ww.flush()
}

// readResponse decodes nTasks attempt lists. The wire carries no
// demonstration IDs: attempt k of a task used demoIDs[k].
func readResponse(r io.Reader, nTasks int, demoIDs []int) ([][]PlanAttempt, error) {
	wr := newWireReader(r, responseOrder)
	plans := make([][]PlanAttempt, nTasks)

	for i := 0; i < nTasks; i++ {
		attempts := make([]PlanAttempt, 0, 1)
		for k := 0; k < len(demoIDs); k++ {
			a := PlanAttempt{DemonstrationID: demoIDs[k]}
			a.NScrewSegments = wr.int()
			nWaypoints := wr.length()
			for j := 0; j < nWaypoints && wr.err == nil; j++ {
				a.Trajectory = append(a.Trajectory, wr.floats())
			}
			a.IsSuccessful = wr.bool()
			if !a.IsSuccessful {
				a.FailedScrewSegment = wr.int()
				a.FailedJointIndex = wr.int()
			}
			if wr.err != nil {
				return nil, fmt.Errorf("task instance %d attempt %d: %w", i, k, wr.err)
			}
			attempts = append(attempts, a)
			if a.IsSuccessful {
				break
			}
		}
		plans[i] = attempts
	}
	return plans, nil
}
