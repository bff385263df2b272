package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banshee-data/selfeval/internal/bandit"
	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/fsutil"
)

var (
	simPool      string
	simMaxRounds int
	simStudy     string
	simLog       string
	simJSON      bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a collection session over a pool of recorded demonstrations",
	Long: `Simulate an operator who, after every round, records the pooled
demonstration closest to the suggested next demonstration, until the
worst arm drops below the threshold or the pool runs dry.

With --study the simulation is repeated for every workspace grid in the
study config and the number of demonstrations each run needed is
appended to --log, so an interrupted study resumes where it stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if simPool == "" {
			return errors.New("--pool is required")
		}
		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := openEnv(ctx, globalOptions(cmd))
		if err != nil {
			return err
		}
		defer e.Close()

		ws, err := e.sess.Workspace()
		if err != nil {
			return err
		}
		robot := e.sess.Robot()
		pool, err := demo.LoadDir(fsutil.OSFileSystem{}, simPool, robot.Limits())
		if err != nil {
			return err
		}
		in := bandit.SelfEvalInput{
			Dimensions:    ws.Dimensions,
			NObjects:      ws.NObjects,
			Pool:          pool,
			Robot:         robot,
			InitialJoints: ws.InitialJointConfig,
			Seed:          e.cfg.GetSeed(),
			MaxRounds:     simMaxRounds,
		}
		out := cmd.OutOrStdout()

		if simStudy != "" {
			fsys := fsutil.OSFileSystem{}
			cfg, err := loadStudyConfig(fsys, simStudy)
			if err != nil {
				return err
			}
			if cfg.Seed == nil {
				cfg.Seed = in.Seed
			}
			log, err := loadStudyLog(fsys, simLog)
			if err != nil {
				return err
			}
			save := func(l bandit.StudyLog) error { return saveStudyLog(fsys, simLog, l) }
			if simLog == "" {
				save = nil
			}
			log, err = bandit.Study(ctx, e.coord, in, cfg, log, save)
			if err != nil {
				return err
			}
			if simJSON {
				return writeJSON(out, log.Summary())
			}
			printStudy(out, log.Summary())
			return nil
		}

		res, err := bandit.SelfEvaluate(ctx, e.coord, in)
		if err != nil {
			return err
		}
		if simJSON {
			return writeJSON(out, res)
		}
		printSelfEval(out, res)
		return nil
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simPool, "pool", "", "directory of recorded demonstrations to draw from")
	f.IntVar(&simMaxRounds, "max-rounds", 0, "stop after this many rounds (0 runs until done)")
	f.StringVar(&simStudy, "study", "", "study config (JSON) sweeping workspace grids")
	f.StringVar(&simLog, "log", "", "study log (JSON) to resume from and append to")
	f.BoolVar(&simJSON, "json", false, "print JSON instead of a summary")
	rootCmd.AddCommand(simulateCmd)
}

func loadStudyConfig(fsys fsutil.FileSystem, path string) (bandit.StudyConfig, error) {
	var cfg bandit.StudyConfig
	data, err := fsys.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read study config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse study config: %w", err)
	}
	return cfg, nil
}

// loadStudyLog returns an empty log when path is empty or does not exist.
func loadStudyLog(fsys fsutil.FileSystem, path string) (bandit.StudyLog, error) {
	log := bandit.StudyLog{}
	if path == "" {
		return log, nil
	}
	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return log, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read study log: %w", err)
	}
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("failed to parse study log %s: %w", path, err)
	}
	return log, nil
}

func saveStudyLog(fsys fsutil.FileSystem, path string, log bandit.StudyLog) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return err
	}
	return fsys.WriteFile(path, data, 0o644)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSelfEval(w io.Writer, res *bandit.SelfEvalResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow, color.Bold).SprintFunc()

	fmt.Fprintf(w, "\n%s seed %d\n", cyan("Self-evaluation"), res.Seed)
	for i, r := range res.Rounds {
		fmt.Fprintf(w, "  round %-3d added #%-3d worst arm #%d p=%.3f\n",
			i+1, res.SelectedIDs[i], r.WorstArmID, r.WorstArmFailureProbability)
	}
	fmt.Fprintln(w)
	switch {
	case res.Done:
		fmt.Fprintf(w, "%s after %d demonstrations %v\n", green("Done"), len(res.SelectedIDs), res.SelectedIDs)
	case res.Exhausted:
		fmt.Fprintf(w, "%s after %d demonstrations\n", yellow("Pool exhausted"), len(res.SelectedIDs))
	default:
		fmt.Fprintf(w, "%s after %d rounds\n", yellow("Stopped"), len(res.Rounds))
	}
}

func printStudy(w io.Writer, summary []bandit.StudySummary) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(w, "\n%s\n", cyan("Demonstrations needed per arm count"))
	fmt.Fprintf(w, "  %4s %5s %7s %7s %7s %7s\n", "K", "runs", "min", "mean", "stddev", "max")
	for _, s := range summary {
		fmt.Fprintf(w, "  %4d %5d %7.1f %7.2f %7.2f %7.1f\n", s.K, s.Runs, s.Min, s.Mean, s.StdDev, s.Max)
	}
}
