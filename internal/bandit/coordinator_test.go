package bandit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/planner"
	"github.com/banshee-data/selfeval/internal/sampling"
	"github.com/banshee-data/selfeval/internal/testutil"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// stripRates fails each strip arm at a fixed rate, indexed by arm ID - 1.
func stripRates(rates ...float64) *planner.Scripted {
	return &planner.Scripted{Rate: func(ti sampling.TaskInstance) float64 {
		i := int(ti.Poses[0].X)
		return rates[min(max(i, 0), len(rates)-1)]
	}}
}

func stripRound(n int, seed uint64) Round {
	return Round{
		Dimensions:     testutil.StripDimensions(n),
		NObjects:       1,
		Demonstrations: []demo.Demonstration{testutil.DemoAt(1, 0.5, 0.5)},
		Robot:          testutil.Robot(),
		InitialJoints:  []float64{0, 0},
		Seed:           &seed,
	}
}

func newCoordinator(t *testing.T, p planner.Planner, opts Options) *Coordinator {
	t.Helper()
	if opts.Params == (Params{}) {
		opts.Params = DefaultParams()
	}
	c, err := NewCoordinator(p, opts)
	require.NoError(t, err)
	return c
}

func TestSampleSize(t *testing.T) {
	tests := []struct {
		name           string
		k              int
		epsilon, delta float64
		want           int
	}{
		{"reference", 4, 0.2, 0.05, 63},
		{"sixteen arms", 16, 0.2, 0.05, 80},
		{"no arms", 0, 0.2, 0.05, 0},
		{"clamped to one", 1, 0.99, 0.99, 1},
		{"clamped to max", 4, 1e-9, 0.05, MaxSamplesPerArm},
		{"tiny epsilon does not wrap", 1 << 20, 1e-300, 1e-300, MaxSamplesPerArm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SampleSize(tt.k, tt.epsilon, tt.delta))
		})
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		field  string
	}{
		{"defaults", DefaultParams(), ""},
		{"epsilon zero", Params{Epsilon: 0, Delta: 0.05, Beta: 0.95}, "epsilon"},
		{"delta one", Params{Epsilon: 0.2, Delta: 1, Beta: 0.95}, "delta"},
		{"beta negative", Params{Epsilon: 0.2, Delta: 0.05, Beta: -0.1}, "beta"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ce *workspace.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
	assert.InDelta(t, 0.25, DefaultParams().Threshold(), 1e-12)
}

func TestParseFailurePolicy(t *testing.T) {
	for in, want := range map[string]FailurePolicy{"": FailurePolicyAbort, "abort": FailurePolicyAbort, "partial": FailurePolicyPartial} {
		got, err := ParseFailurePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFailurePolicy("ignore")
	assert.Error(t, err)
}

func TestNewCoordinator_Errors(t *testing.T) {
	_, err := NewCoordinator(nil, Options{Params: DefaultParams()})
	assert.Error(t, err)
	_, err = NewCoordinator(&planner.Scripted{}, Options{})
	assert.Error(t, err)
	_, err = NewCoordinator(&planner.Scripted{}, Options{Params: DefaultParams(), ArmTimeout: -time.Second})
	assert.Error(t, err)
}

func TestCoordinator_WorstArm(t *testing.T) {
	c := newCoordinator(t, stripRates(0.1, 0.3, 0.3, 0.05), Options{})

	res, err := c.Run(context.Background(), stripRound(4, 7))
	require.NoError(t, err)

	assert.Equal(t, 63, res.SamplesPerArm)
	assert.Len(t, res.PerArm, 4)
	assert.Contains(t, []int{2, 3}, res.WorstArmID)
	assert.InDelta(t, 0.3, res.WorstArmFailureProbability, 0.01)
	assert.False(t, res.Done)
	assert.NotEmpty(t, res.RoundID)
	assert.Equal(t, uint64(7), res.Seed)

	require.Len(t, res.NextDemonstration, 1)
	worst := res.Arms[res.WorstArmID-1]
	assert.True(t, worst.Intervals[0].Contains(res.NextDemonstration[0].X))
	assert.True(t, worst.Intervals[1].Contains(res.NextDemonstration[0].Y))

	p, ok := res.FailureProbability(1)
	require.True(t, ok)
	assert.InDelta(t, 0.1, p, 0.01)
	assert.Equal(t, []int{1}, res.Arms[0].DemonstrationIDs)

	snap := c.State()
	assert.Equal(t, StateTerminal, snap.State)
	assert.Equal(t, 4, snap.ArmsTotal)
	assert.Equal(t, 4, snap.ArmsDone)
	assert.Equal(t, res.RoundID, snap.RoundID)
}

func TestCoordinator_TieBreakIsUniform(t *testing.T) {
	c := newCoordinator(t, stripRates(0.1, 0.3, 0.3, 0.05), Options{})

	const trials = 200
	counts := map[int]int{}
	for seed := range uint64(trials) {
		res, err := c.Run(context.Background(), stripRound(4, seed))
		require.NoError(t, err)
		counts[res.WorstArmID]++
	}

	assert.Equal(t, trials, counts[2]+counts[3], "only the tied arms may be selected: %v", counts)
	assert.Greater(t, counts[2], trials/4)
	assert.Greater(t, counts[3], trials/4)
}

func TestCoordinator_SeededIdempotence(t *testing.T) {
	c := newCoordinator(t, stripRates(0.2, 0.4, 0.4, 0.4), Options{Concurrency: 3})

	first, err := c.Run(context.Background(), stripRound(4, 42))
	require.NoError(t, err)
	second, err := c.Run(context.Background(), stripRound(4, 42))
	require.NoError(t, err)

	assert.Equal(t, first.WorstArmID, second.WorstArmID)
	if diff := cmp.Diff(first.NextDemonstration, second.NextDemonstration); diff != "" {
		t.Errorf("next demonstration mismatch (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.PerArm, second.PerArm); diff != "" {
		t.Errorf("per-arm statistics mismatch (-first +second):\n%s", diff)
	}
	assert.NotEqual(t, first.RoundID, second.RoundID)
}

func TestCoordinator_Done(t *testing.T) {
	c := newCoordinator(t, stripRates(0, 0, 0.1, 0), Options{})

	res, err := c.Run(context.Background(), stripRound(4, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, res.WorstArmID)
	assert.True(t, res.Done)

	c = newCoordinator(t, stripRates(0, 0, 0, 0), Options{})
	res, err = c.Run(context.Background(), stripRound(4, 1))
	require.NoError(t, err)
	assert.Zero(t, res.WorstArmFailureProbability)
	assert.Nil(t, res.NextDemonstration)
	assert.True(t, res.Done)
}

// failingArm returns a planner that fails every batch sampled in arm 3 of
// the strip and otherwise defers to next.
func failingArm(next planner.Planner) planner.Planner {
	return planner.Func(func(ctx context.Context, req planner.Request) ([][]planner.PlanAttempt, error) {
		if x := req.TaskInstances[0].Poses[0].X; x >= 2 && x <= 3 {
			return nil, &planner.OracleError{Transport: "test", Err: errors.New("planner crashed")}
		}
		return next.Plan(ctx, req)
	})
}

func TestCoordinator_FailurePolicy(t *testing.T) {
	t.Run("abort", func(t *testing.T) {
		c := newCoordinator(t, failingArm(stripRates(0.1, 0.1, 0.1, 0.1)), Options{})
		_, err := c.Run(context.Background(), stripRound(4, 1))

		var ae *ArmError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, 3, ae.ArmID)
		assert.Equal(t, StateTerminal, c.State().State)
		assert.NotEmpty(t, c.State().Error)
	})

	t.Run("partial", func(t *testing.T) {
		c := newCoordinator(t, failingArm(stripRates(0.1, 0.2, 0.9, 0.1)), Options{FailurePolicy: FailurePolicyPartial})
		res, err := c.Run(context.Background(), stripRound(4, 1))
		require.NoError(t, err)

		assert.Len(t, res.PerArm, 3)
		require.Len(t, res.ArmErrors, 1)
		assert.Equal(t, 3, res.ArmErrors[0].ArmID)
		assert.Equal(t, 2, res.WorstArmID)
		_, ok := res.FailureProbability(3)
		assert.False(t, ok)
		assert.Equal(t, 1, c.State().ArmsFailed)
	})

	t.Run("partial with every arm failing", func(t *testing.T) {
		p := planner.Func(func(context.Context, planner.Request) ([][]planner.PlanAttempt, error) {
			return nil, errors.New("down")
		})
		c := newCoordinator(t, p, Options{FailurePolicy: FailurePolicyPartial})
		_, err := c.Run(context.Background(), stripRound(4, 1))
		assert.ErrorContains(t, err, "every arm failed")
	})
}

func blockingPlanner(started chan<- struct{}) planner.Planner {
	return planner.Func(func(ctx context.Context, req planner.Request) ([][]planner.PlanAttempt, error) {
		if started != nil {
			select {
			case started <- struct{}{}:
			default:
			}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func TestCoordinator_ArmTimeout(t *testing.T) {
	c := newCoordinator(t, blockingPlanner(nil), Options{ArmTimeout: 20 * time.Millisecond})

	_, err := c.Run(context.Background(), stripRound(2, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var ae *ArmError
	assert.ErrorAs(t, err, &ae)
}

func TestCoordinator_Cancelled(t *testing.T) {
	c := newCoordinator(t, blockingPlanner(nil), Options{FailurePolicy: FailurePolicyPartial})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Run(ctx, stripRound(2, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int64
	next := stripRates(0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1)
	p := planner.Func(func(ctx context.Context, req planner.Request) ([][]planner.PlanAttempt, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return next.Plan(ctx, req)
	})
	c := newCoordinator(t, p, Options{Concurrency: 2})

	res, err := c.Run(context.Background(), stripRound(8, 1))
	require.NoError(t, err)
	assert.Len(t, res.PerArm, 8)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestCoordinator_RoundInFlight(t *testing.T) {
	started := make(chan struct{}, 1)
	c := newCoordinator(t, blockingPlanner(started), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, stripRound(2, 1))
		done <- err
	}()
	<-started

	_, err := c.Run(context.Background(), stripRound(2, 1))
	assert.ErrorIs(t, err, ErrRoundInFlight)
	assert.Equal(t, StateSampling, c.State().State)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateTerminal, c.State().State)
}

func TestCoordinator_ConfigurationError(t *testing.T) {
	c := newCoordinator(t, stripRates(0.1), Options{})
	r := stripRound(1, 1)
	r.Dimensions[0].NSegments = 0

	_, err := c.Run(context.Background(), r)
	var ce *workspace.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "x.n_segments", ce.Field)
}

func TestCoordinator_OutOfWorkspaceWarning(t *testing.T) {
	c := newCoordinator(t, stripRates(0.1, 0.1), Options{})
	r := stripRound(2, 1)
	r.Demonstrations = append(r.Demonstrations, testutil.DemoAt(2, 5, 5))

	res, err := c.Run(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "2")
}

func TestCoordinator_PlannerPanic(t *testing.T) {
	panicking := planner.Func(func(ctx context.Context, req planner.Request) ([][]planner.PlanAttempt, error) {
		panic("segfault in planner")
	})

	t.Run("abort", func(t *testing.T) {
		c := newCoordinator(t, panicking, Options{})
		_, err := c.Run(context.Background(), stripRound(2, 1))

		var ae *ArmError
		require.ErrorAs(t, err, &ae)
		assert.ErrorContains(t, err, "planner panicked: segfault in planner")
		assert.Equal(t, StateTerminal, c.State().State)

		// the coordinator accepts the next round
		c.planner = stripRates(0.1, 0.1)
		_, err = c.Run(context.Background(), stripRound(2, 1))
		assert.NoError(t, err)
	})

	t.Run("partial", func(t *testing.T) {
		ok := stripRates(0.2)
		p := planner.Func(func(ctx context.Context, req planner.Request) ([][]planner.PlanAttempt, error) {
			if req.TaskInstances[0].Poses[0].X >= 1 {
				panic("segfault in planner")
			}
			return ok.Plan(ctx, req)
		})
		c := newCoordinator(t, p, Options{FailurePolicy: FailurePolicyPartial})

		res, err := c.Run(context.Background(), stripRound(2, 1))
		require.NoError(t, err)
		require.Len(t, res.ArmErrors, 1)
		assert.Equal(t, 2, res.ArmErrors[0].ArmID)
		assert.Equal(t, 1, res.WorstArmID)
	})
}

func TestCoordinator_ArmCountOverflow(t *testing.T) {
	c := newCoordinator(t, stripRates(0.1), Options{})
	r := stripRound(3, 1)
	r.Dimensions[1].NSegments = 1 << 62

	_, err := c.Run(context.Background(), r)
	var ce *workspace.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StateTerminal, c.State().State)
}

func TestCoordinator_NoDemonstrations(t *testing.T) {
	c := newCoordinator(t, stripRates(0, 0), Options{})
	r := stripRound(2, 5)
	r.Demonstrations = nil

	res, err := c.Run(context.Background(), r)
	require.NoError(t, err)

	// without demonstrations no task instance gets an attempt, so every
	// instance counts as failed with score 0
	for _, s := range res.PerArm {
		assert.Equal(t, 1.0, s.FailureProbability(), "arm #%d", s.ArmID)
		assert.Len(t, s.FailedIndices, res.SamplesPerArm)
		for _, score := range s.FailureScores {
			assert.Zero(t, score)
		}
	}
	assert.Equal(t, 1.0, res.WorstArmFailureProbability)
	assert.False(t, res.Done)
	assert.Len(t, res.NextDemonstration, 1)
}
