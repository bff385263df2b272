// Package planner is the bridge to the external motion-planning oracle.
//
// The oracle receives ranked demonstrations, an initial joint
// configuration and a batch of task instances. For every task instance it
// tries the demonstrations in rank order and stops at the first success,
// returning the attempts it made.
package planner

import (
	"context"
	"fmt"

	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/sampling"
)

// PlanAttempt is the outcome of guiding one task instance with one
// demonstration. FailedScrewSegment and FailedJointIndex are only
// meaningful when IsSuccessful is false.
type PlanAttempt struct {
	DemonstrationID    int         `json:"demonstration_id"`
	IsSuccessful       bool        `json:"is_successful"`
	NScrewSegments     int         `json:"n_screw_segments"`
	FailedScrewSegment int         `json:"failed_screw_segment"`
	FailedJointIndex   int         `json:"failed_joint_index"`
	Trajectory         [][]float64 `json:"trajectory,omitempty"`
}

// Request is one batch call to the oracle. Demonstrations must already be
// ranked.
type Request struct {
	Robot          kinematics.RobotConfig  `json:"robot"`
	InitialJoints  []float64               `json:"initial_joints"`
	Demonstrations []demo.Demonstration    `json:"demonstrations"`
	TaskInstances  []sampling.TaskInstance `json:"task_instances"`
}

// Planner plans a batch of task instances. Any transport or compute
// failure fails the whole batch.
type Planner interface {
	Plan(ctx context.Context, req Request) ([][]PlanAttempt, error)
}

// Func adapts a function to the Planner interface.
type Func func(ctx context.Context, req Request) ([][]PlanAttempt, error)

// Plan calls f.
func (f Func) Plan(ctx context.Context, req Request) ([][]PlanAttempt, error) {
	return f(ctx, req)
}

// OracleError is a failed oracle call.
type OracleError struct {
	Transport string
	Err       error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("motion planner (%s): %v", e.Transport, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// ValidateResponse checks a response against the oracle contract: one
// attempt list per task instance, non-empty when demonstrations exist,
// attempts in rank order, and nothing after the first success.
func ValidateResponse(req Request, resp [][]PlanAttempt) error {
	if len(resp) != len(req.TaskInstances) {
		return fmt.Errorf("got %d attempt lists for %d task instances", len(resp), len(req.TaskInstances))
	}
	for i, attempts := range resp {
		if len(req.Demonstrations) > 0 && len(attempts) == 0 {
			return fmt.Errorf("task instance %d: no attempts", i)
		}
		if len(attempts) > len(req.Demonstrations) {
			return fmt.Errorf("task instance %d: %d attempts for %d demonstrations", i, len(attempts), len(req.Demonstrations))
		}
		for k, a := range attempts {
			if a.DemonstrationID != req.Demonstrations[k].ID {
				return fmt.Errorf("task instance %d attempt %d: demonstration %d out of rank order (want %d)",
					i, k, a.DemonstrationID, req.Demonstrations[k].ID)
			}
			if a.IsSuccessful && k != len(attempts)-1 {
				return fmt.Errorf("task instance %d: attempts continue after success", i)
			}
		}
	}
	return nil
}
