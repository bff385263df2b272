package robot

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"

	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/httputil"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// MockHandler serves the robot endpoints from recorded demonstrations:
// /pose reports a random position inside the workspace, /start picks the
// recorded demonstration nearest to the object location and /stop returns
// its joint angles.
type MockHandler struct {
	xDim, yDim workspace.Dimension
	demos      func() []demo.Demonstration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockHandler returns a mock over dims. The x and y dimensions are
// found by name, falling back to the first two. demos is called on every
// request so newly recorded demonstrations are served too.
func NewMockHandler(dims []workspace.Dimension, demos func() []demo.Demonstration, src rand.Source) (*MockHandler, error) {
	if len(dims) < 2 {
		return nil, &workspace.ConfigurationError{Field: "dimensions", Reason: "mock robot needs x and y dimensions"}
	}
	h := &MockHandler{xDim: dims[0], yDim: dims[1], demos: demos, rng: rand.New(src)}
	for _, d := range dims {
		switch d.Name {
		case "x":
			h.xDim = d
		case "y":
			h.yDim = d
		}
	}
	return h, nil
}

// Routes registers the mock endpoints on mux.
func (h *MockHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /init", h.handleInit)
	mux.HandleFunc("GET /pose", h.handlePose)
	mux.HandleFunc("POST /start", h.handleStart)
	mux.HandleFunc("GET /stop/{index}", h.handleStop)
}

func (h *MockHandler) handleInit(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, initResponse{Status: true})
}

func (h *MockHandler) handlePose(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	x := h.xDim.Min + h.rng.Float64()*(h.xDim.Max-h.xDim.Min)
	y := h.yDim.Min + h.rng.Float64()*(h.yDim.Max-h.yDim.Min)
	h.mu.Unlock()
	httputil.WriteJSONOK(w, poseResponse{Success: true, X: x, Y: y})
}

func (h *MockHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.ObjectLocation == nil {
		httputil.BadRequest(w, "object_location is required")
		return
	}

	best, bestDist := 0, math.Inf(1)
	for _, d := range h.demos() {
		pos, ok := d.ObjectPosition(0)
		if !ok {
			continue
		}
		dx, dy := req.ObjectLocation.X-pos.X, req.ObjectLocation.Y-pos.Y
		if dist := dx*dx + dy*dy; dist < bestDist {
			best, bestDist = d.ID, dist
		}
	}
	if best == 0 {
		httputil.NotFound(w, "no recorded demonstrations")
		return
	}
	httputil.WriteJSONOK(w, startResponse{PID: best})
}

func (h *MockHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		httputil.BadRequest(w, "invalid index")
		return
	}
	for _, d := range h.demos() {
		if d.ID == id {
			httputil.WriteJSONOK(w, stopResponse{Demonstration: string(demo.FormatJointAngles(d.JointAngles))})
			return
		}
	}
	httputil.NotFound(w, "unknown demonstration")
}
