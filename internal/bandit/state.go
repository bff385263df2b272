package bandit

import "time"

// State is the phase of the current coordination round.
type State string

const (
	StateIdle        State = "idle"
	StatePartitioned State = "partitioned"
	StateSampling    State = "sampling"
	StateAggregated  State = "aggregated"
	StateTerminal    State = "terminal"
)

// Snapshot is a copy of the coordinator's progress, safe to hand out.
type Snapshot struct {
	State       State      `json:"state"`
	RoundID     string     `json:"round_id,omitempty"`
	ArmsTotal   int        `json:"arms_total"`
	ArmsDone    int        `json:"arms_done"`
	ArmsFailed  int        `json:"arms_failed"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// State returns a snapshot of the current round.
func (c *Coordinator) State() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.State = s
}

func (c *Coordinator) armFinished(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.ArmsDone++
	if err != nil {
		c.snap.ArmsFailed++
	}
}

func (c *Coordinator) finish(err error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.State = StateTerminal
	c.snap.CompletedAt = &now
	if err != nil {
		c.snap.Error = err.Error()
	}
	c.running = false
}
