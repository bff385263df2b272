package bandit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/selfeval/internal/monitoring"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// StudyLog maps an arm count K (as a decimal string) to the number of
// demonstrations each completed self-evaluation run needed. It is the
// on-disk JSON format, so an interrupted study can be resumed.
type StudyLog map[string][]int

// StudyConfig describes a sweep over workspace partitions.
type StudyConfig struct {
	// Grids override n_segments per dimension name, one partition per entry.
	Grids    []map[string]int `json:"grids"`
	RunsPerK int              `json:"runs_per_k"`
	Seed     *uint64          `json:"seed,omitempty"`
}

// StudySummary holds the distribution of demonstrations needed for one K.
type StudySummary struct {
	K      int     `json:"k"`
	Runs   int     `json:"runs"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Summary returns one entry per K, sorted by K. Keys that are not
// integers are skipped.
func (l StudyLog) Summary() []StudySummary {
	var out []StudySummary
	for key, runs := range l {
		k, err := strconv.Atoi(key)
		if err != nil || len(runs) == 0 {
			continue
		}
		xs := make([]float64, len(runs))
		for i, n := range runs {
			xs[i] = float64(n)
		}
		s := StudySummary{K: k, Runs: len(runs), Min: floats.Min(xs), Max: floats.Max(xs)}
		if len(xs) > 1 {
			s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
		} else {
			s.Mean = xs[0]
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b StudySummary) int { return a.K - b.K })
	return out
}

// Study runs RunsPerK self-evaluations for every grid, minus the runs
// already present in log. Only runs that reach Done are recorded; save
// is called after each recorded run.
func Study(ctx context.Context, coord *Coordinator, in SelfEvalInput, cfg StudyConfig, log StudyLog, save func(StudyLog) error) (StudyLog, error) {
	if cfg.RunsPerK < 1 {
		return nil, &workspace.ConfigurationError{Field: "runs_per_k", Reason: "must be at least 1"}
	}
	if log == nil {
		log = StudyLog{}
	}
	var seed uint64
	if cfg.Seed != nil {
		seed = *cfg.Seed
	} else {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, 1))

	for _, grid := range cfg.Grids {
		dims, err := applyGrid(in.Dimensions, grid)
		if err != nil {
			return log, err
		}
		k, err := workspace.Count(dims, in.NObjects)
		if err != nil {
			return log, err
		}
		key := strconv.Itoa(k)
		remaining := cfg.RunsPerK - len(log[key])
		if remaining <= 0 {
			continue
		}
		monitoring.Logf("Study: K=%d, %d runs remaining", k, remaining)

		for range remaining {
			runSeed := rng.Uint64()
			run := in
			run.Dimensions = dims
			run.Seed = &runSeed
			res, err := SelfEvaluate(ctx, coord, run)
			if err != nil {
				return log, fmt.Errorf("study K=%d: %w", k, err)
			}
			if !res.Done {
				continue
			}
			log[key] = append(log[key], len(res.SelectedIDs))
			if save != nil {
				if err := save(log); err != nil {
					return log, fmt.Errorf("save study log: %w", err)
				}
			}
		}
	}
	return log, nil
}

func applyGrid(dims []workspace.Dimension, grid map[string]int) ([]workspace.Dimension, error) {
	out := slices.Clone(dims)
	for name, n := range grid {
		i := slices.IndexFunc(out, func(d workspace.Dimension) bool { return d.Name == name })
		if i < 0 {
			return nil, &workspace.ConfigurationError{Field: "grids", Reason: fmt.Sprintf("unknown dimension %q", name)}
		}
		out[i].NSegments = n
	}
	return out, nil
}
