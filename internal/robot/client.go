// Package robot talks to the demonstration recording endpoints of the
// robot host, and provides a mock of those endpoints backed by recorded
// demonstrations.
package robot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/httputil"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/monitoring"
)

var (
	// ErrNotEnabled is returned when the robot reports it could not be enabled.
	ErrNotEnabled = errors.New("robot could not be enabled")
	// ErrNoPose is returned when no object pose could be detected.
	ErrNoPose = errors.New("object pose unavailable")
)

// Location is an object position on the table.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StartRequest begins recording a demonstration. The robot host moves to
// JointConfig and waits WaitTime seconds before recording.
type StartRequest struct {
	JointConfig    []float64 `json:"joint_config,omitempty"`
	WaitTime       int       `json:"wait_time,omitempty"`
	ObjectLocation *Location `json:"object_location,omitempty"`
}

type initResponse struct {
	Status bool `json:"status"`
}

type poseResponse struct {
	Success bool    `json:"success"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type startResponse struct {
	PID int `json:"pid"`
}

type stopResponse struct {
	Demonstration string `json:"demonstration"`
}

// Client calls the robot host at a base URL.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for baseURL. c may be nil.
func NewClient(baseURL string, c httputil.HTTPClient) *Client {
	if c == nil {
		c = httputil.NewStandardClient(&http.Client{Timeout: 2 * time.Minute})
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: c}
}

// Init enables the robot.
func (c *Client) Init(ctx context.Context) error {
	var resp initResponse
	if err := httputil.DoJSON(ctx, c.http, http.MethodGet, c.base+"/init", nil, &resp); err != nil {
		return fmt.Errorf("robot init: %w", err)
	}
	if !resp.Status {
		return ErrNotEnabled
	}
	return nil
}

// Pose returns the detected object position.
func (c *Client) Pose(ctx context.Context) (kinematics.Position, error) {
	var resp poseResponse
	if err := httputil.DoJSON(ctx, c.http, http.MethodGet, c.base+"/pose", nil, &resp); err != nil {
		return kinematics.Position{}, fmt.Errorf("robot pose: %w", err)
	}
	if !resp.Success {
		return kinematics.Position{}, ErrNoPose
	}
	return kinematics.Position{X: resp.X, Y: resp.Y, Z: kinematics.TableHeight}, nil
}

// Start begins recording and returns the recorder's process id.
func (c *Client) Start(ctx context.Context, req StartRequest) (int, error) {
	var resp startResponse
	if err := httputil.DoJSON(ctx, c.http, http.MethodPost, c.base+"/start", req, &resp); err != nil {
		return 0, fmt.Errorf("robot start: %w", err)
	}
	return resp.PID, nil
}

// Stop ends the recording started as pid and returns its joint angles.
func (c *Client) Stop(ctx context.Context, pid int) ([][]float64, error) {
	var resp stopResponse
	if err := httputil.DoJSON(ctx, c.http, http.MethodGet, fmt.Sprintf("%s/stop/%d", c.base, pid), nil, &resp); err != nil {
		return nil, fmt.Errorf("robot stop: %w", err)
	}
	rows, err := demo.ParseJointAngles([]byte(resp.Demonstration))
	if err != nil {
		return nil, fmt.Errorf("robot stop: %w", err)
	}
	return rows, nil
}

// Recording is an in-progress demonstration.
type Recording struct {
	PID  int                 `json:"pid"`
	Pose kinematics.Position `json:"pose"`
}

// Begin detects the object and starts recording from the initial joint
// configuration.
func (c *Client) Begin(ctx context.Context, initialJoints []float64, wait time.Duration) (Recording, error) {
	pose, err := c.Pose(ctx)
	if err != nil {
		return Recording{}, err
	}
	pid, err := c.Start(ctx, StartRequest{
		JointConfig:    initialJoints,
		WaitTime:       int(wait / time.Second),
		ObjectLocation: &Location{X: pose.X, Y: pose.Y},
	})
	if err != nil {
		return Recording{}, err
	}
	monitoring.Logf("Recording demonstration (pid %d) at (%.3f, %.3f)", pid, pose.X, pose.Y)
	return Recording{PID: pid, Pose: pose}, nil
}

// Poses returns the single-object pose list of a recording.
func (r Recording) Poses() []kinematics.Transform {
	return []kinematics.Transform{kinematics.ToSE3(kinematics.PlanarPose{X: r.Pose.X, Y: r.Pose.Y})}
}
