// Command selfeval runs PAC self-evaluation rounds over recorded
// demonstrations, serves the operator API and manages the store.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/selfeval/internal/bandit"
	"github.com/banshee-data/selfeval/internal/config"
	"github.com/banshee-data/selfeval/internal/db"
	"github.com/banshee-data/selfeval/internal/fsutil"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/monitoring"
	"github.com/banshee-data/selfeval/internal/planner"
	"github.com/banshee-data/selfeval/internal/session"
	"github.com/banshee-data/selfeval/internal/timeutil"
)

var (
	dbPath        string
	workspacePath string
	banditPath    string
	robotDir      string
	plannerAddr   string
	spoolDir      string
	seed          uint64
	quiet         bool

	rootCmd = &cobra.Command{
		Use:   "selfeval",
		Short: "Decide which demonstration to record next",
		Long: `selfeval partitions the task workspace into arms, estimates each arm's
planning failure probability from sampled task instances and suggests
where the next demonstration should be recorded.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if quiet {
				monitoring.SetLogger(nil)
			}
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dbPath, "db", "", "SQLite database path (empty keeps state in memory)")
	pf.StringVarP(&workspacePath, "workspace", "w", "", "workspace config (.json or .yaml)")
	pf.StringVarP(&banditPath, "bandit", "b", "", "bandit tuning config (.json or .yaml)")
	pf.StringVar(&robotDir, "robot", "", "directory holding the robot kinematics CSVs")
	pf.StringVarP(&plannerAddr, "planner", "p", "proximity://0.25", "planner address (unix://, tcp://, grpc:// or proximity://)")
	pf.StringVar(&spoolDir, "spool", "", "directory for demonstration files sent to socket planners (default: temp dir)")
	pf.Uint64Var(&seed, "seed", 0, "fix the round seed (overrides the bandit config)")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress diagnostic logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// env is everything a command needs to evaluate rounds.
type env struct {
	cfg     *config.BanditConfig
	store   *db.DB
	planner planner.Planner
	coord   *bandit.Coordinator
	sess    *session.Session
}

// envOptions are the resolved global flags.
type envOptions struct {
	DBPath        string
	WorkspacePath string
	BanditPath    string
	RobotDir      string
	PlannerAddr   string
	SpoolDir      string
	Seed          *uint64
}

func globalOptions(cmd *cobra.Command) envOptions {
	opts := envOptions{
		DBPath:        dbPath,
		WorkspacePath: workspacePath,
		BanditPath:    banditPath,
		RobotDir:      robotDir,
		PlannerAddr:   plannerAddr,
		SpoolDir:      spoolDir,
	}
	if cmd.Flags().Changed("seed") {
		s := seed
		opts.Seed = &s
	}
	return opts
}

// openEnv loads the configs, dials the planner, opens the store and
// restores the session from it.
func openEnv(ctx context.Context, opts envOptions) (*env, error) {
	e := &env{}
	if err := e.open(ctx, opts); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) open(ctx context.Context, opts envOptions) error {
	var err error
	e.cfg = config.DefaultBanditConfig()
	if opts.BanditPath != "" {
		if e.cfg, err = config.LoadBanditConfig(opts.BanditPath); err != nil {
			return err
		}
	}
	if opts.Seed != nil {
		e.cfg.Seed = opts.Seed
	}

	var ws *config.WorkspaceConfig
	if opts.WorkspacePath != "" {
		if ws, err = config.LoadWorkspaceConfig(opts.WorkspacePath); err != nil {
			return err
		}
	}
	var robot kinematics.RobotConfig
	if opts.RobotDir != "" {
		if robot, err = kinematics.LoadRobotConfig(fsutil.OSFileSystem{}, opts.RobotDir); err != nil {
			return fmt.Errorf("failed to load robot config: %w", err)
		}
	}

	spool := opts.SpoolDir
	if spool == "" {
		spool = os.TempDir()
	}
	if e.planner, err = planner.Dial(opts.PlannerAddr, fsutil.OSFileSystem{}, spool); err != nil {
		return err
	}
	clock := timeutil.RealClock{}
	e.coord, err = bandit.NewCoordinator(session.NewPlanner(e.planner, e.cfg, clock), e.cfg.CoordinatorOptions(clock))
	if err != nil {
		return err
	}

	var store session.Store
	if opts.DBPath != "" {
		if e.store, err = db.NewDB(opts.DBPath); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		store = e.store
	}
	e.sess, err = session.New(e.coord, store, session.Options{Workspace: ws, Robot: robot, Seed: e.cfg.GetSeed()})
	if err != nil {
		return err
	}
	return e.sess.Load(ctx)
}

func (e *env) Close() {
	if c, ok := e.planner.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Printf("failed to close planner: %v", err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Printf("failed to close database: %v", err)
		}
	}
}
