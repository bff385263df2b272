package bandit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/monitoring"
	"github.com/banshee-data/selfeval/internal/planner"
	"github.com/banshee-data/selfeval/internal/timeutil"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// ErrRoundInFlight is returned when a round is started while another one
// is still running on the same coordinator.
var ErrRoundInFlight = errors.New("an evaluation round is already in flight")

// Params are the PAC parameters of a round.
type Params struct {
	Epsilon float64 `json:"epsilon"`
	Delta   float64 `json:"delta"`
	Beta    float64 `json:"beta"`
}

// DefaultParams returns ε=0.2, δ=0.05, β=0.95.
func DefaultParams() Params {
	return Params{Epsilon: 0.2, Delta: 0.05, Beta: 0.95}
}

// Validate requires every parameter to lie strictly inside (0, 1).
func (p Params) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"epsilon", p.Epsilon}, {"delta", p.Delta}, {"beta", p.Beta}} {
		if !(f.v > 0 && f.v < 1) {
			return &workspace.ConfigurationError{Field: f.name, Reason: fmt.Sprintf("must be in (0, 1), got %v", f.v)}
		}
	}
	return nil
}

// Threshold is the worst-arm failure probability below which no further
// demonstrations are needed: 1 + ε − β.
func (p Params) Threshold() float64 {
	return 1 + p.Epsilon - p.Beta
}

// MaxSamplesPerArm caps SampleSize for very small ε.
const MaxSamplesPerArm = 1 << 20

// SampleSize is the per-arm task instance count for k arms:
// floor(ln(2k/δ) / (2ε²)), clamped to [1, MaxSamplesPerArm].
func SampleSize(k int, epsilon, delta float64) int {
	if k < 1 {
		return 0
	}
	m := math.Floor(math.Log(2*float64(k)/delta) / (2 * epsilon * epsilon))
	if math.IsNaN(m) || m > MaxSamplesPerArm {
		return MaxSamplesPerArm
	}
	return max(1, int(m))
}

// FailurePolicy decides what a failed arm does to its round.
type FailurePolicy string

const (
	// FailurePolicyAbort cancels the round on the first arm error.
	FailurePolicyAbort FailurePolicy = "abort"
	// FailurePolicyPartial drops failed arms from aggregation. The round
	// still fails when every arm fails.
	FailurePolicyPartial FailurePolicy = "partial"
)

// ParseFailurePolicy accepts "abort", "partial" or "" (abort).
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailurePolicyAbort:
		return FailurePolicyAbort, nil
	case FailurePolicyPartial:
		return FailurePolicyPartial, nil
	}
	return "", &workspace.ConfigurationError{Field: "failure_policy", Reason: fmt.Sprintf("unknown policy %q", s)}
}

// Options configure a Coordinator.
type Options struct {
	Params Params
	// Concurrency caps simultaneous arm evaluations; <= 0 is unbounded.
	Concurrency int
	// ArmTimeout bounds one arm evaluation; 0 disables it.
	ArmTimeout    time.Duration
	FailurePolicy FailurePolicy
	Clock         timeutil.Clock
}

// Round is the input of one coordination round. Demonstrations need not
// be ranked; the coordinator ranks them.
type Round struct {
	Dimensions     []workspace.Dimension
	NObjects       int
	Demonstrations []demo.Demonstration
	Robot          kinematics.RobotConfig
	InitialJoints  []float64
	// Seed fixes all randomness of the round. Nil draws a fresh seed,
	// reported back in Result.Seed.
	Seed *uint64
}

// ArmSummary describes one arm of the partition.
type ArmSummary struct {
	ID               int                  `json:"id"`
	Intervals        []workspace.Interval `json:"intervals"`
	DemonstrationIDs []int                `json:"demonstration_ids"`
}

// ArmErrorInfo records an arm dropped under FailurePolicyPartial.
type ArmErrorInfo struct {
	ArmID int    `json:"arm_id"`
	Error string `json:"error"`
}

// Result is the outcome of one round.
type Result struct {
	RoundID       string                `json:"round_id"`
	Seed          uint64                `json:"seed"`
	Params        Params                `json:"params"`
	Dimensions    []workspace.Dimension `json:"dimensions"`
	NObjects      int                   `json:"n_objects"`
	SamplesPerArm int                   `json:"samples_per_arm"`
	Arms          []ArmSummary          `json:"arms"`
	PerArm        []ArmStatistics       `json:"per_arm_statistics"`

	WorstArmID                 int                   `json:"worst_arm_id"`
	WorstArmFailureProbability float64               `json:"worst_arm_failure_probability"`
	NextDemonstration          []kinematics.Position `json:"next_demonstration"`
	Done                       bool                  `json:"done"`

	ArmErrors  []ArmErrorInfo `json:"arm_errors,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// FailureProbability returns the estimated failure probability of an arm
// and whether the arm was evaluated.
func (r *Result) FailureProbability(armID int) (float64, bool) {
	for _, s := range r.PerArm {
		if s.ArmID == armID {
			return s.FailureProbability(), true
		}
	}
	return 0, false
}

// Coordinator runs bandit rounds against a planner.
type Coordinator struct {
	planner planner.Planner
	opts    Options
	clock   timeutil.Clock

	mu      sync.RWMutex
	snap    Snapshot
	running bool
}

// NewCoordinator validates opts and returns an idle coordinator.
func NewCoordinator(p planner.Planner, opts Options) (*Coordinator, error) {
	if p == nil {
		return nil, errors.New("planner is required")
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	policy, err := ParseFailurePolicy(string(opts.FailurePolicy))
	if err != nil {
		return nil, err
	}
	opts.FailurePolicy = policy
	if opts.ArmTimeout < 0 {
		return nil, &workspace.ConfigurationError{Field: "arm_timeout", Reason: "must not be negative"}
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Coordinator{
		planner: p,
		opts:    opts,
		clock:   clock,
		snap:    Snapshot{State: StateIdle},
	}, nil
}

// Params returns the coordinator's PAC parameters.
func (c *Coordinator) Params() Params { return c.opts.Params }

func (c *Coordinator) begin(roundID string) error {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrRoundInFlight
	}
	c.running = true
	c.snap = Snapshot{State: StateIdle, RoundID: roundID, StartedAt: &now}
	return nil
}

// Run partitions the workspace, evaluates every arm and aggregates the
// statistics into a Result. With a fixed seed and unchanged inputs the
// result is reproducible regardless of goroutine scheduling.
func (c *Coordinator) Run(ctx context.Context, r Round) (res *Result, err error) {
	roundID := uuid.NewString()
	if err := c.begin(roundID); err != nil {
		return nil, err
	}
	defer func() {
		c.finish(err)
		switch {
		case err != nil || res == nil:
			monitoring.RoundsTotal.WithLabelValues("error").Inc()
		case len(res.ArmErrors) > 0:
			monitoring.RoundsTotal.WithLabelValues("partial").Inc()
		default:
			monitoring.RoundsTotal.WithLabelValues("complete").Inc()
		}
	}()

	arms, err := workspace.Partition(r.Dimensions, r.NObjects)
	if err != nil {
		return nil, err
	}
	nDims := len(r.Dimensions)
	ranked := demo.Rank(r.Demonstrations)
	oow := workspace.AssignDemonstrations(arms, nDims, ranked)

	var seed uint64
	if r.Seed != nil {
		seed = *r.Seed
	} else {
		seed = rand.Uint64()
	}
	m := SampleSize(len(arms), c.opts.Params.Epsilon, c.opts.Params.Delta)
	if m == MaxSamplesPerArm {
		monitoring.Warnf("Round %s: sample size capped at %d task instances per arm", roundID, m)
	}

	res = &Result{
		RoundID:       roundID,
		Seed:          seed,
		Params:        c.opts.Params,
		Dimensions:    r.Dimensions,
		NObjects:      r.NObjects,
		SamplesPerArm: m,
		Arms:          make([]ArmSummary, len(arms)),
		StartedAt:     c.clock.Now(),
	}
	for i, a := range arms {
		ids := make([]int, len(a.Demonstrations))
		for k, d := range a.Demonstrations {
			ids[k] = d.ID
		}
		res.Arms[i] = ArmSummary{ID: a.ID, Intervals: a.Intervals, DemonstrationIDs: ids}
	}
	for _, w := range oow {
		res.Warnings = append(res.Warnings, w.Error())
	}

	c.mu.Lock()
	c.snap.State = StatePartitioned
	c.snap.ArmsTotal = len(arms)
	c.mu.Unlock()

	monitoring.Logf("Round %s: %d arms, %d task instances per arm, %d demonstrations (seed %d)",
		roundID, len(arms), m, len(ranked), seed)

	slots, armErrs, err := c.evaluateAll(ctx, arms, ranked, r, m, seed)
	if err != nil {
		return nil, err
	}

	var evaluated []ArmStatistics
	for i, s := range slots {
		if armErrs[i] != nil {
			res.ArmErrors = append(res.ArmErrors, ArmErrorInfo{ArmID: arms[i].ID, Error: armErrs[i].Error()})
			monitoring.Warnf("Excluding arm #%d from round %s: %v", arms[i].ID, roundID, armErrs[i])
			continue
		}
		evaluated = append(evaluated, s)
	}
	if len(evaluated) == 0 {
		return nil, fmt.Errorf("round %s: every arm failed: %w", roundID, firstError(armErrs))
	}
	res.PerArm = evaluated

	c.setState(StateAggregated)
	rng := rand.New(rand.NewPCG(seed, 0))
	worst := selectWorst(evaluated, rng)
	res.WorstArmID = evaluated[worst].ArmID
	res.WorstArmFailureProbability = evaluated[worst].FailureProbability()
	res.NextDemonstration = nextDemonstration(evaluated[worst], rng)
	res.Done = res.WorstArmFailureProbability < c.opts.Params.Threshold()
	res.FinishedAt = c.clock.Now()

	monitoring.WorstArmFailureProbability.Set(res.WorstArmFailureProbability)
	monitoring.Logf("Round %s: worst arm #%d with failure probability %.3f (done=%v)",
		roundID, res.WorstArmID, res.WorstArmFailureProbability, res.Done)
	return res, nil
}

// evaluateAll fans the arms out over a bounded errgroup and joins into
// fixed slots indexed like arms. Under FailurePolicyAbort the first arm
// error is returned; under FailurePolicyPartial arm errors land in the
// second return value.
func (c *Coordinator) evaluateAll(ctx context.Context, arms []workspace.Arm, ranked []demo.Demonstration, r Round, m int, seed uint64) ([]ArmStatistics, []error, error) {
	c.setState(StateSampling)

	slots := make([]ArmStatistics, len(arms))
	armErrs := make([]error, len(arms))

	g, gctx := errgroup.WithContext(ctx)
	if c.opts.Concurrency > 0 {
		g.SetLimit(c.opts.Concurrency)
	}
	for i, arm := range arms {
		in := EvalInput{
			Arm:            arm,
			Demonstrations: ranked,
			Robot:          r.Robot,
			InitialJoints:  r.InitialJoints,
			SamplesPerArm:  m,
			NObjects:       r.NObjects,
			NDims:          len(r.Dimensions),
		}
		g.Go(func() error {
			stats, err := c.evaluate(gctx, in, rand.NewPCG(seed, uint64(in.Arm.ID)))
			c.armFinished(err)
			if err != nil {
				if c.opts.FailurePolicy == FailurePolicyAbort {
					return err
				}
				armErrs[i] = err
				return nil
			}
			slots[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return slots, armErrs, nil
}

func (c *Coordinator) evaluate(ctx context.Context, in EvalInput, src rand.Source) (stats ArmStatistics, err error) {
	defer func() {
		if r := recover(); r != nil {
			stats, err = ArmStatistics{}, &ArmError{ArmID: in.Arm.ID, Err: fmt.Errorf("planner panicked: %v", r)}
		}
	}()
	if c.opts.ArmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ArmTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return ArmStatistics{}, &ArmError{ArmID: in.Arm.ID, Err: err}
	}

	start := c.clock.Now()
	stats, err = EvaluateArm(ctx, in, c.planner, src)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	monitoring.ArmEvaluationDuration.WithLabelValues(outcome).Observe(c.clock.Since(start).Seconds())
	return stats, err
}

// selectWorst returns the index of the arm with the highest failure
// probability, breaking ties uniformly at random.
func selectWorst(stats []ArmStatistics, rng *rand.Rand) int {
	probs := make([]float64, len(stats))
	for i, s := range stats {
		probs[i] = s.FailureProbability()
	}
	worst := floats.Max(probs)
	var tied []int
	for i, p := range probs {
		if p == worst {
			tied = append(tied, i)
		}
	}
	return tied[rng.IntN(len(tied))]
}

// nextDemonstration picks uniformly among the failed task instances with
// the lowest failure score and returns their object positions. It returns
// nil when the arm had no failures.
func nextDemonstration(s ArmStatistics, rng *rand.Rand) []kinematics.Position {
	if len(s.FailedIndices) == 0 {
		return nil
	}
	lowest := floats.Min(s.FailureScores)
	var candidates []int
	for k, score := range s.FailureScores {
		if score == lowest {
			candidates = append(candidates, s.FailedIndices[k])
		}
	}
	return s.TaskInstances[candidates[rng.IntN(len(candidates))]]
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
