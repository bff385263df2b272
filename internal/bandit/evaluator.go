// Package bandit estimates per-region failure probabilities of demonstration
// guided motion planning and picks the next demonstration to collect.
//
// Each arm of the partitioned workspace is sampled with a PAC sample count,
// evaluated against the motion planner, and reduced to failure statistics.
// The coordinator joins all arms, identifies the worst one and suggests the
// most informative failed task instance inside it.
package bandit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/monitoring"
	"github.com/banshee-data/selfeval/internal/planner"
	"github.com/banshee-data/selfeval/internal/sampling"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// ArmError identifies the arm whose evaluation failed.
type ArmError struct {
	ArmID int
	Err   error
}

func (e *ArmError) Error() string {
	return fmt.Sprintf("arm %d: %v", e.ArmID, e.Err)
}

func (e *ArmError) Unwrap() error { return e.Err }

// EvalInput is everything one arm evaluation needs. Demonstrations must
// already be ranked.
type EvalInput struct {
	Arm            workspace.Arm
	Demonstrations []demo.Demonstration
	Robot          kinematics.RobotConfig
	InitialJoints  []float64
	SamplesPerArm  int
	NObjects       int
	NDims          int
}

// ArmStatistics is the reduced outcome of evaluating one arm. Task
// instances keep only their positions, one per object.
type ArmStatistics struct {
	ArmID         int                      `json:"arm_id"`
	TaskInstances [][]kinematics.Position  `json:"task_instances"`
	FailedIndices []int                    `json:"failed_indices"`
	FailureScores []float64                `json:"failure_scores"`
	PlanAttempts  [][]planner.PlanAttempt  `json:"plan_attempts,omitempty"`
}

// FailureProbability is the fraction of failed task instances.
func (s ArmStatistics) FailureProbability() float64 {
	if len(s.TaskInstances) == 0 {
		return 0
	}
	return float64(len(s.FailedIndices)) / float64(len(s.TaskInstances))
}

// EvaluateArm samples the arm, plans every task instance and reduces the
// attempts. A task instance fails when its last attempt is unsuccessful.
// Planner errors are returned as *ArmError.
func EvaluateArm(ctx context.Context, in EvalInput, p planner.Planner, src rand.Source) (ArmStatistics, error) {
	instances, err := sampling.NewGenerator(src).Sample(in.Arm, in.SamplesPerArm, in.NObjects, in.NDims)
	if err != nil {
		return ArmStatistics{}, &ArmError{ArmID: in.Arm.ID, Err: err}
	}

	monitoring.Logf("Evaluating %d task instances for arm #%d", len(instances), in.Arm.ID)

	plans, err := p.Plan(ctx, planner.Request{
		Robot:          in.Robot,
		InitialJoints:  in.InitialJoints,
		Demonstrations: in.Demonstrations,
		TaskInstances:  instances,
	})
	if err != nil {
		var ae *ArmError
		if errors.As(err, &ae) {
			return ArmStatistics{}, err
		}
		return ArmStatistics{}, &ArmError{ArmID: in.Arm.ID, Err: err}
	}
	if len(plans) != len(instances) {
		return ArmStatistics{}, &ArmError{ArmID: in.Arm.ID, Err: &planner.OracleError{
			Transport: "planner",
			Err:       fmt.Errorf("got %d attempt lists for %d task instances", len(plans), len(instances)),
		}}
	}

	stats := ArmStatistics{
		ArmID:         in.Arm.ID,
		TaskInstances: make([][]kinematics.Position, len(instances)),
		FailedIndices: []int{},
		FailureScores: []float64{},
		PlanAttempts:  plans,
	}
	for i, ti := range instances {
		stats.TaskInstances[i] = ti.Positions()

		attempts := plans[i]
		if len(attempts) > 0 && attempts[len(attempts)-1].IsSuccessful {
			continue
		}
		stats.FailedIndices = append(stats.FailedIndices, i)
		stats.FailureScores = append(stats.FailureScores, FailureScore(attempts))
	}

	monitoring.Logf("Arm #%d: failed %d/%d task instances", in.Arm.ID, len(stats.FailedIndices), len(instances))
	return stats, nil
}

// FailureScore is the mean fraction of screw segments completed before
// each attempt failed. Attempts reporting no segments contribute 0, as
// does an empty attempt list. Lower means the plans failed earlier.
func FailureScore(attempts []planner.PlanAttempt) float64 {
	if len(attempts) == 0 {
		return 0
	}
	progress := make([]float64, len(attempts))
	for i, a := range attempts {
		if a.NScrewSegments > 0 {
			progress[i] = float64(a.FailedScrewSegment) / float64(a.NScrewSegments)
		}
	}
	return stat.Mean(progress, nil)
}
