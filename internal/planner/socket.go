package planner

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/fsutil"
)

// SocketClient talks to a native planner over a unix or tcp stream socket
// using the binary wire protocol. Demonstrations travel as file paths, so
// the planner must share the client's filesystem. Records without an
// on-disk source are written to SpoolDir first.
//
// The robot configuration is not sent: a socket planner loads its own.
type SocketClient struct {
	Network  string
	Address  string
	FS       fsutil.FileSystem
	SpoolDir string
	Dialer   net.Dialer

	mu      sync.Mutex
	spooled map[int]string
}

// NewSocketClient returns a client for network ("unix" or "tcp") and
// address.
func NewSocketClient(network, address string, fsys fsutil.FileSystem, spoolDir string) *SocketClient {
	return &SocketClient{Network: network, Address: address, FS: fsys, SpoolDir: spoolDir}
}

// Plan sends one batch and blocks until the planner has answered every
// task instance.
func (c *SocketClient) Plan(ctx context.Context, req Request) (plans [][]PlanAttempt, err error) {
	defer func() { observe("socket", err) }()

	wreq := wireRequest{InitialJoints: req.InitialJoints}
	ids := make([]int, len(req.Demonstrations))
	for i, d := range req.Demonstrations {
		files, err := c.demoFiles(d)
		if err != nil {
			return nil, &OracleError{Transport: "socket", Err: err}
		}
		wreq.Demos = append(wreq.Demos, files)
		ids[i] = d.ID
	}
	for _, ti := range req.TaskInstances {
		wreq.Tasks = append(wreq.Tasks, ti.Transforms)
	}

	conn, err := c.Dialer.DialContext(ctx, c.Network, c.Address)
	if err != nil {
		return nil, &OracleError{Transport: "socket", Err: fmt.Errorf("dial %s %s: %w", c.Network, c.Address, err)}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := writeRequest(conn, wreq); err != nil {
		return nil, c.fail(ctx, fmt.Errorf("send request: %w", err))
	}
	plans, err = readResponse(conn, len(wreq.Tasks), ids)
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("read response: %w", err))
	}
	if err := ValidateResponse(req, plans); err != nil {
		return nil, &OracleError{Transport: "socket", Err: err}
	}
	return plans, nil
}

func (c *SocketClient) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &OracleError{Transport: "socket", Err: fmt.Errorf("%w (%v)", ctxErr, err)}
	}
	return &OracleError{Transport: "socket", Err: err}
}

// demoFiles returns the on-disk location of d, spooling it when needed.
func (c *SocketClient) demoFiles(d demo.Demonstration) (wireDemo, error) {
	w := wireDemo{RegionOfInterest: d.RegionOfInterest, Score: d.Score}

	dir := d.Source
	if dir == "" || !c.FS.Exists(filepath.Join(dir, demo.ObjectPosesFile)) {
		var err error
		if dir, err = c.spool(d); err != nil {
			return wireDemo{}, err
		}
	}
	w.JointFile = filepath.Join(dir, demo.JointAnglesFile)
	w.PoseFile = filepath.Join(dir, demo.ObjectPosesFile)
	return w, nil
}

// spool writes d under SpoolDir once per demonstration ID. Demonstrations
// are immutable, so an ID maps to one set of files for the client's life.
func (c *SocketClient) spool(d demo.Demonstration) (string, error) {
	if c.SpoolDir == "" {
		return "", fmt.Errorf("demonstration %d has no source directory and no spool directory is configured", d.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spooled == nil {
		c.spooled = make(map[int]string)
	}
	if dir, ok := c.spooled[d.ID]; ok {
		return dir, nil
	}

	dir := filepath.Join(c.SpoolDir, fmt.Sprintf("demo%d", d.ID))
	if err := demo.WriteFiles(c.FS, dir, d); err != nil {
		return "", fmt.Errorf("spool demonstration %d: %w", d.ID, err)
	}
	c.spooled[d.ID] = dir
	return dir, nil
}

// ResetSpool forgets spooled demonstrations so they are rewritten on the
// next call. Call it after demonstrations are cleared and IDs reused.
func (c *SocketClient) ResetSpool() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spooled = nil
}
