package planner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"path/filepath"
	"sync"

	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/fsutil"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/monitoring"
	"github.com/banshee-data/selfeval/internal/sampling"
)

// SocketServer exposes a Planner over the binary socket protocol, so
// clients that speak only that protocol can use any Planner
// implementation (for example a remote gRPC planner).
type SocketServer struct {
	Planner Planner
	FS      fsutil.FileSystem
	Robot   kinematics.RobotConfig
}

// Serve accepts connections until ctx is done. Each connection carries one
// request and one response.
func (s *SocketServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			if err := s.handle(ctx, conn); err != nil {
				monitoring.Logf("[planner] socket request from %s failed: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func (s *SocketServer) handle(ctx context.Context, conn net.Conn) error {
	wreq, err := readRequest(conn)
	if err != nil {
		return err
	}
	req, err := s.decode(wreq)
	if err != nil {
		return err
	}

	plans, err := s.Planner.Plan(ctx, req)
	if err != nil {
		return err
	}
	if err := ValidateResponse(req, plans); err != nil {
		return fmt.Errorf("planner returned an invalid response: %w", err)
	}
	return writeResponse(conn, plans)
}

// decode loads the demonstration files named in the request. IDs follow
// rank order starting at 1.
func (s *SocketServer) decode(wreq wireRequest) (Request, error) {
	req := Request{Robot: s.Robot, InitialJoints: wreq.InitialJoints}

	for i, wd := range wreq.Demos {
		poseData, err := s.FS.ReadFile(wd.PoseFile)
		if err != nil {
			return Request{}, fmt.Errorf("demonstration %d: %w", i+1, err)
		}
		poses, err := kinematics.ParseTransforms(poseData)
		if err != nil {
			return Request{}, fmt.Errorf("demonstration %d: %w", i+1, err)
		}

		var joints [][]float64
		jointData, err := s.FS.ReadFile(wd.JointFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Request{}, fmt.Errorf("demonstration %d: %w", i+1, err)
		default:
			if joints, err = demo.ParseJointAngles(jointData); err != nil {
				return Request{}, fmt.Errorf("demonstration %d: %w", i+1, err)
			}
		}

		req.Demonstrations = append(req.Demonstrations, demo.Demonstration{
			ID:               i + 1,
			JointAngles:      joints,
			ObjectPoses:      poses,
			Score:            wd.Score,
			RegionOfInterest: wd.RegionOfInterest,
			Source:           filepath.Dir(wd.PoseFile),
		})
	}

	for _, tfs := range wreq.Tasks {
		ti := sampling.TaskInstance{Transforms: tfs, Poses: make([]kinematics.PlanarPose, len(tfs))}
		for j, t := range tfs {
			ti.Poses[j] = kinematics.PoseFromTransform(t)
		}
		req.TaskInstances = append(req.TaskInstances, ti)
	}
	return req, nil
}
