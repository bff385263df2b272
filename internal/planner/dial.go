package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/selfeval/internal/fsutil"
)

// Dial returns a Planner for addr:
//
//	unix:///path/to/socket   native planner, socket protocol
//	tcp://host:port          native planner, socket protocol
//	grpc://host:port         remote MotionPlanner gRPC service
//	proximity://0.1          in-process synthetic planner (radius in metres)
//
// fsys and spoolDir are used by socket transports to materialise
// demonstrations. Callers should Close the planner if it implements
// io.Closer.
func Dial(addr string, fsys fsutil.FileSystem, spoolDir string) (Planner, error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok {
		return nil, fmt.Errorf("planner address %q has no scheme", addr)
	}
	if rest == "" {
		return nil, fmt.Errorf("planner address %q has no target", addr)
	}

	switch scheme {
	case "unix", "tcp":
		return NewSocketClient(scheme, rest, fsys, spoolDir), nil
	case "grpc":
		return NewGRPCClient(rest)
	case "proximity":
		radius, err := strconv.ParseFloat(rest, 64)
		if err != nil || radius <= 0 {
			return nil, fmt.Errorf("invalid proximity radius %q", rest)
		}
		return Proximity{Radius: radius}, nil
	default:
		return nil, fmt.Errorf("unsupported planner scheme %q", scheme)
	}
}
