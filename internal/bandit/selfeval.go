package bandit

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/monitoring"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// SelfEvalInput drives a simulated collection session over a pool of
// already recorded demonstrations.
type SelfEvalInput struct {
	Dimensions    []workspace.Dimension
	NObjects      int
	Pool          []demo.Demonstration
	Robot         kinematics.RobotConfig
	InitialJoints []float64
	Seed          *uint64
	// MaxRounds stops the simulation early; <= 0 runs until done or the
	// pool is exhausted.
	MaxRounds int
}

// SelfEvalResult is the outcome of one simulated session.
type SelfEvalResult struct {
	Seed        uint64    `json:"seed"`
	SelectedIDs []int     `json:"selected_ids"`
	Rounds      []*Result `json:"rounds"`
	Done        bool      `json:"done"`
	Exhausted   bool      `json:"exhausted"`
}

// SelfEvaluate simulates an operator who, after every round, records the
// pooled demonstration closest to the suggested next demonstration. It
// starts from a random arm and stops once a round reports Done, the pool
// runs dry or MaxRounds is reached.
func SelfEvaluate(ctx context.Context, coord *Coordinator, in SelfEvalInput) (*SelfEvalResult, error) {
	arms, err := workspace.Partition(in.Dimensions, in.NObjects)
	if err != nil {
		return nil, err
	}
	workspace.AssignDemonstrations(arms, len(in.Dimensions), in.Pool)

	var seed uint64
	if in.Seed != nil {
		seed = *in.Seed
	} else {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, math.MaxUint64))
	out := &SelfEvalResult{Seed: seed, SelectedIDs: []int{}}

	current := rng.IntN(len(arms))
	target := armCentre(arms[current])
	var selected []demo.Demonstration

	for in.MaxRounds <= 0 || len(out.Rounds) < in.MaxRounds {
		armIdx, demoIdx, ok := nearestPooled(arms, current, target)
		if !ok {
			out.Exhausted = true
			monitoring.Logf("Self-evaluation exhausted the demonstration pool after %d rounds", len(out.Rounds))
			break
		}
		d := arms[armIdx].Demonstrations[demoIdx]
		arms[armIdx].Demonstrations = slices.Delete(arms[armIdx].Demonstrations, demoIdx, demoIdx+1)
		selected = append(selected, d)
		out.SelectedIDs = append(out.SelectedIDs, d.ID)

		roundSeed := rng.Uint64()
		res, err := coord.Run(ctx, Round{
			Dimensions:     in.Dimensions,
			NObjects:       in.NObjects,
			Demonstrations: selected,
			Robot:          in.Robot,
			InitialJoints:  in.InitialJoints,
			Seed:           &roundSeed,
		})
		if err != nil {
			return out, fmt.Errorf("self-evaluation round %d: %w", len(out.Rounds)+1, err)
		}
		out.Rounds = append(out.Rounds, res)
		if res.Done {
			out.Done = true
			break
		}

		current = slices.IndexFunc(arms, func(a workspace.Arm) bool { return a.ID == res.WorstArmID })
		if len(res.NextDemonstration) > 0 {
			target = res.NextDemonstration[0]
		} else {
			target = armCentre(arms[current])
		}
	}
	return out, nil
}

func armCentre(a workspace.Arm) kinematics.Position {
	c := a.Center()
	return kinematics.Position{X: c[0], Y: c[1], Z: kinematics.TableHeight}
}

// nearestPooled finds the pooled demonstration nearest to target, looking
// in the preferred arm first and in every other arm when it is empty.
func nearestPooled(arms []workspace.Arm, preferred int, target kinematics.Position) (armIdx, demoIdx int, ok bool) {
	search := []int{preferred}
	if len(arms[preferred].Demonstrations) == 0 {
		search = search[:0]
		for i := range arms {
			search = append(search, i)
		}
	}

	best := math.Inf(1)
	for _, i := range search {
		for k, d := range arms[i].Demonstrations {
			pos, _ := d.ObjectPosition(0)
			if dist := kinematics.PlanarDistance(target, pos); dist < best {
				best, armIdx, demoIdx, ok = dist, i, k, true
			}
		}
	}
	return armIdx, demoIdx, ok
}
