package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/banshee-data/selfeval/internal/fsutil"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/planner"
)

var plannerListen string

var plannerCmd = &cobra.Command{
	Use:   "planner",
	Short: "Planner utilities",
}

var plannerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the --planner backend on another transport",
	Long: `Expose the planner selected with --planner on another transport.

  selfeval planner serve -p proximity://0.2 --listen grpc://:9400
  selfeval planner serve -p grpc://planner:9400 --listen unix:///tmp/planner.sock

Socket listeners need --robot so requests can be decoded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		base, err := planner.Dial(plannerAddr, fsutil.OSFileSystem{}, os.TempDir())
		if err != nil {
			return err
		}
		if c, ok := base.(io.Closer); ok {
			defer c.Close()
		}

		var robot kinematics.RobotConfig
		if robotDir != "" {
			if robot, err = kinematics.LoadRobotConfig(fsutil.OSFileSystem{}, robotDir); err != nil {
				return err
			}
		}
		return servePlanner(ctx, plannerListen, base, robot)
	},
}

func init() {
	plannerServeCmd.Flags().StringVar(&plannerListen, "listen", "grpc://:9400", "listen address (unix://, tcp:// or grpc://)")
	plannerCmd.AddCommand(plannerServeCmd)
	rootCmd.AddCommand(plannerCmd)
}

func servePlanner(ctx context.Context, addr string, p planner.Planner, robot kinematics.RobotConfig) error {
	scheme, target, ok := strings.Cut(addr, "://")
	if !ok || target == "" {
		return fmt.Errorf("invalid listen address %q", addr)
	}

	switch scheme {
	case "grpc":
		ln, err := net.Listen("tcp", target)
		if err != nil {
			return err
		}
		s := grpc.NewServer(grpc.MaxRecvMsgSize(planner.MaxMessageSize), grpc.MaxSendMsgSize(planner.MaxMessageSize))
		planner.RegisterGRPCServer(s, p)
		go func() {
			<-ctx.Done()
			s.GracefulStop()
		}()
		log.Printf("planner gRPC service listening on %s", ln.Addr())
		return s.Serve(ln)

	case "unix", "tcp":
		if len(robot.Joints) == 0 {
			return fmt.Errorf("%s listener needs --robot", scheme)
		}
		if scheme == "unix" {
			os.Remove(target)
		}
		ln, err := net.Listen(scheme, target)
		if err != nil {
			return err
		}
		log.Printf("planner socket listening on %s", ln.Addr())
		srv := &planner.SocketServer{Planner: p, FS: fsutil.OSFileSystem{}, Robot: robot}
		return srv.Serve(ctx, ln)

	default:
		return fmt.Errorf("unsupported listen scheme %q", scheme)
	}
}
