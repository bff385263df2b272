// Package session holds the state an operator works against between
// evaluation rounds: the workspace, the robot, the accepted
// demonstrations and the last result.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/banshee-data/selfeval/internal/bandit"
	"github.com/banshee-data/selfeval/internal/config"
	"github.com/banshee-data/selfeval/internal/db"
	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/monitoring"
	"github.com/banshee-data/selfeval/internal/planner"
	"github.com/banshee-data/selfeval/internal/timeutil"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// ErrRoundInFlight is returned when demonstrations or the workspace are
// changed, or a new round is started, while a round is running.
var ErrRoundInFlight = bandit.ErrRoundInFlight

// ErrNoWorkspace is returned when no workspace has been configured.
var ErrNoWorkspace = errors.New("no workspace configured")

// Store persists session state. *db.DB implements it.
type Store interface {
	SaveDemonstration(ctx context.Context, d demo.Demonstration) error
	Demonstrations(ctx context.Context) ([]demo.Demonstration, error)
	DeleteDemonstrations(ctx context.Context) error
	SaveRound(ctx context.Context, res *bandit.Result) error
	PutBlob(ctx context.Context, key string, value []byte) error
	Blob(ctx context.Context, key string) ([]byte, error)
}

// Session is safe for concurrent use. Demonstrations and the workspace
// only change strictly between rounds.
type Session struct {
	coord *bandit.Coordinator
	store Store
	seed  *uint64

	mu       sync.RWMutex
	ws       *config.WorkspaceConfig
	robot    kinematics.RobotConfig
	demos    []demo.Demonstration
	inFlight bool
	last     *bandit.Result
}

// Options configure a new Session. Workspace and Robot may be left empty
// when they are restored from the store by Load.
type Options struct {
	Workspace *config.WorkspaceConfig
	Robot     kinematics.RobotConfig
	// Seed fixes every round's seed; nil draws one per round.
	Seed *uint64
}

// New returns a session evaluating through coord. store may be nil to
// keep everything in memory.
func New(coord *bandit.Coordinator, store Store, opts Options) (*Session, error) {
	if coord == nil {
		return nil, errors.New("coordinator is required")
	}
	if opts.Workspace != nil {
		if err := opts.Workspace.Validate(); err != nil {
			return nil, err
		}
	}
	return &Session{coord: coord, store: store, seed: opts.Seed, ws: opts.Workspace, robot: opts.Robot}, nil
}

// NewPlanner decorates base with the retry policy and rate limit of cfg.
func NewPlanner(base planner.Planner, cfg *config.BanditConfig, clock timeutil.Clock) planner.Planner {
	p := base
	if r := cfg.GetOracleRateLimit(); r > 0 {
		p = planner.NewRateLimited(p, r, 1)
	}
	return planner.NewRetrying(p, cfg.GetOracleAttempts(), cfg.GetRetryBackoff(), clock)
}

// Load restores demonstrations from the store. The workspace and robot
// configuration are restored too when the session was created without
// them, and persisted otherwise.
func (s *Session) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrRoundInFlight
	}

	if s.ws == nil {
		data, err := s.store.Blob(ctx, db.WorkspaceConfigKey)
		switch {
		case err == nil:
			ws, err := config.ParseWorkspaceConfig(data, config.FormatJSON)
			if err != nil {
				return fmt.Errorf("stored workspace: %w", err)
			}
			s.ws = ws
		case !errors.Is(err, db.ErrNotFound):
			return err
		}
	} else if err := s.putJSON(ctx, db.WorkspaceConfigKey, s.ws); err != nil {
		return err
	}

	if len(s.robot.Joints) == 0 {
		data, err := s.store.Blob(ctx, db.RobotConfigKey)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &s.robot); err != nil {
				return fmt.Errorf("stored robot config: %w", err)
			}
		case !errors.Is(err, db.ErrNotFound):
			return err
		}
	} else if err := s.putJSON(ctx, db.RobotConfigKey, s.robot); err != nil {
		return err
	}

	demos, err := s.store.Demonstrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load demonstrations: %w", err)
	}
	s.demos = demos
	monitoring.Logf("Loaded %d demonstrations", len(demos))
	return nil
}

func (s *Session) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.store.PutBlob(ctx, key, data)
}

// SetWorkspace replaces the workspace configuration.
func (s *Session) SetWorkspace(ctx context.Context, ws *config.WorkspaceConfig) error {
	if err := ws.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrRoundInFlight
	}
	if s.store != nil {
		if err := s.putJSON(ctx, db.WorkspaceConfigKey, ws); err != nil {
			return err
		}
	}
	s.ws = ws
	return nil
}

// Workspace returns the current workspace configuration.
func (s *Session) Workspace() (*config.WorkspaceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ws == nil {
		return nil, ErrNoWorkspace
	}
	ws := *s.ws
	return &ws, nil
}

// Robot returns the robot configuration.
func (s *Session) Robot() kinematics.RobotConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.robot
}

// AddDemonstration scores and stores a newly recorded demonstration under
// the next free ID. A demonstration outside every arm is still kept; the
// returned *workspace.OutOfWorkspaceError is a warning.
func (s *Session) AddDemonstration(ctx context.Context, jointAngles [][]float64, poses []kinematics.Transform, roi float64) (demo.Demonstration, *workspace.OutOfWorkspaceError, error) {
	if len(poses) == 0 {
		return demo.Demonstration{}, nil, errors.New("demonstration needs at least one object pose")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return demo.Demonstration{}, nil, ErrRoundInFlight
	}

	d := demo.New(demo.NextID(s.demos), jointAngles, poses, roi, s.robot.Limits())
	if err := s.save(ctx, d); err != nil {
		return demo.Demonstration{}, nil, err
	}
	s.demos = append(s.demos, d)
	monitoring.Logf("Added demonstration %d (score %.4f)", d.ID, d.Score)
	return d, s.outside(d), nil
}

// ImportDemonstrations adds already loaded demonstrations. IDs that
// collide with existing ones are reassigned.
func (s *Session) ImportDemonstrations(ctx context.Context, demos []demo.Demonstration) ([]demo.Demonstration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return nil, ErrRoundInFlight
	}

	taken := make(map[int]bool, len(s.demos))
	for _, d := range s.demos {
		taken[d.ID] = true
	}
	var added []demo.Demonstration
	for _, d := range demos {
		if d.ID < 1 || taken[d.ID] {
			d.ID = demo.NextID(append(slices.Clone(s.demos), added...))
		}
		if err := s.save(ctx, d); err != nil {
			return added, err
		}
		taken[d.ID] = true
		added = append(added, d)
		s.demos = append(s.demos, d)
		if w := s.outside(d); w != nil {
			monitoring.Warnf("%v", w)
		}
	}
	return added, nil
}

func (s *Session) save(ctx context.Context, d demo.Demonstration) error {
	if s.store == nil {
		return nil
	}
	return s.store.SaveDemonstration(ctx, d)
}

// outside must be called with mu held.
func (s *Session) outside(d demo.Demonstration) *workspace.OutOfWorkspaceError {
	if s.ws == nil {
		return nil
	}
	arms, err := workspace.Partition(s.ws.Dimensions, s.ws.NObjects)
	if err != nil {
		return nil
	}
	for _, a := range arms {
		if a.Contains(d, s.ws.NDims()) {
			return nil
		}
	}
	pos, _ := d.ObjectPosition(0)
	return &workspace.OutOfWorkspaceError{DemonstrationID: d.ID, Position: pos}
}

// Demonstrations returns a copy of the accepted demonstrations in ID order.
func (s *Session) Demonstrations() []demo.Demonstration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.demos)
	slices.SortFunc(out, func(a, b demo.Demonstration) int { return a.ID - b.ID })
	return out
}

// ClearDemonstrations removes every demonstration.
func (s *Session) ClearDemonstrations(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrRoundInFlight
	}
	if s.store != nil {
		if err := s.store.DeleteDemonstrations(ctx); err != nil {
			return err
		}
	}
	s.demos = nil
	return nil
}

// Arms returns the partition with the current demonstrations assigned.
func (s *Session) Arms() ([]workspace.Arm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ws == nil {
		return nil, ErrNoWorkspace
	}
	arms, err := workspace.Partition(s.ws.Dimensions, s.ws.NObjects)
	if err != nil {
		return nil, err
	}
	workspace.AssignDemonstrations(arms, s.ws.NDims(), demo.Rank(s.demos))
	return arms, nil
}

// Evaluate runs one round over a snapshot of the current demonstrations
// and records the result.
func (s *Session) Evaluate(ctx context.Context) (*bandit.Result, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrRoundInFlight
	}
	if s.ws == nil {
		s.mu.Unlock()
		return nil, ErrNoWorkspace
	}
	round := bandit.Round{
		Dimensions:     slices.Clone(s.ws.Dimensions),
		NObjects:       s.ws.NObjects,
		Demonstrations: slices.Clone(s.demos),
		Robot:          s.robot,
		InitialJoints:  slices.Clone(s.ws.InitialJointConfig),
		Seed:           s.seed,
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	res, err := s.coord.Run(ctx, round)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.last = res
	if s.store != nil {
		if err := s.store.SaveRound(ctx, res); err != nil {
			return res, fmt.Errorf("failed to record round %s: %w", res.RoundID, err)
		}
	}
	return res, nil
}

// LastResult returns the most recent successful round, or nil.
func (s *Session) LastResult() *bandit.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// State returns the coordinator's round snapshot.
func (s *Session) State() bandit.Snapshot {
	return s.coord.State()
}

// InFlight reports whether a round is running.
func (s *Session) InFlight() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight
}
