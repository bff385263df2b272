package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/selfeval/internal/bandit"
	"github.com/banshee-data/selfeval/internal/config"
	"github.com/banshee-data/selfeval/internal/db"
	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/fsutil"
	"github.com/banshee-data/selfeval/internal/httputil"
	"github.com/banshee-data/selfeval/internal/planner"
	"github.com/banshee-data/selfeval/internal/robot"
	"github.com/banshee-data/selfeval/internal/sampling"
	"github.com/banshee-data/selfeval/internal/session"
	"github.com/banshee-data/selfeval/internal/testutil"
)

func stripWorkspace() *config.WorkspaceConfig {
	return &config.WorkspaceConfig{
		Dimensions:         testutil.StripDimensions(2),
		NObjects:           1,
		InitialJointConfig: []float64{0, 0},
	}
}

func halfFailing() planner.Planner {
	return &planner.Scripted{Rate: func(sampling.TaskInstance) float64 { return 0.5 }}
}

type testServer struct {
	server *Server
	mux    *http.ServeMux
	sess   *session.Session
	store  *db.DB
}

func setupTestServer(t *testing.T, p planner.Planner, ws *config.WorkspaceConfig, opts Options) *testServer {
	t.Helper()
	store, err := db.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	coord, err := bandit.NewCoordinator(p, bandit.Options{Params: bandit.DefaultParams()})
	require.NoError(t, err)
	seed := uint64(11)
	sess, err := session.New(coord, store, session.Options{Workspace: ws, Robot: testutil.Robot(), Seed: &seed})
	require.NoError(t, err)
	require.NoError(t, sess.Load(context.Background()))

	if opts.History == nil {
		opts.History = store
	}
	s := NewServer(sess, opts)
	return &testServer{server: s, mux: s.ServeMux(), sess: sess, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	LoggingMiddleware(ts.mux).ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestWorkspaceEndpoints(t *testing.T) {
	ts := setupTestServer(t, halfFailing(), stripWorkspace(), Options{})

	rec := ts.do(t, http.MethodGet, "/api/workspace", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, *stripWorkspace(), decode[config.WorkspaceConfig](t, rec))

	tests := []struct {
		name string
		body any
		want int
	}{
		{"valid", map[string]any{"dimensions": testutil.GridDimensions(2, 2), "n_objects": 1, "initial_joint_config": []float64{0, 0}}, http.StatusOK},
		{"zero objects", map[string]any{"dimensions": testutil.GridDimensions(2, 2), "n_objects": 0}, http.StatusBadRequest},
		{"unknown field", `{"dimensions": [], "n_objects": 1, "bogus": 1}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPut, "/api/workspace", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	ws, err := ts.sess.Workspace()
	require.NoError(t, err)
	assert.Len(t, ws.Dimensions, 3)
}

func TestDemonstrationEndpoints(t *testing.T) {
	ts := setupTestServer(t, halfFailing(), stripWorkspace(), Options{})

	rec := ts.do(t, http.MethodGet, "/api/demonstrations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/demonstrations", map[string]any{
		"joint_angles": [][]float64{{0, 0.5, -0.5}},
		"object_poses": []map[string]float64{{"x": 0.5, "y": 0.5}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[addDemonstrationResponse](t, rec)
	assert.Equal(t, 1, added.Demonstration.ID)
	assert.InDelta(t, 0.5, added.Demonstration.Score, 1e-12)
	assert.Empty(t, added.Warning)

	rec = ts.do(t, http.MethodPost, "/api/demonstrations", map[string]any{
		"object_poses": []map[string]float64{{"x": 5, "y": 5}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, decode[addDemonstrationResponse](t, rec).Warning, "outside the workspace")

	rec = ts.do(t, http.MethodPost, "/api/demonstrations", map[string]any{"joint_angles": [][]float64{{0, 0}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/demonstrations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]demo.Demonstration](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/api/arms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	arms := decode[[]bandit.ArmSummary](t, rec)
	require.Len(t, arms, 2)
	assert.Equal(t, []int{1}, arms[0].DemonstrationIDs)
	assert.Empty(t, arms[1].DemonstrationIDs)

	rec = ts.do(t, http.MethodDelete, "/api/demonstrations", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, ts.sess.Demonstrations())
}

func TestImportDemonstrations(t *testing.T) {
	root := t.TempDir()
	demoDir := filepath.Join(root, "recorded")
	for _, d := range []demo.Demonstration{testutil.DemoAt(1, 0.5, 0.5), testutil.DemoAt(2, 1.5, 0.5)} {
		require.NoError(t, demo.WriteFiles(fsutil.OSFileSystem{}, filepath.Join(demoDir, fmt.Sprintf("demo%d", d.ID)), d))
	}

	disabled := setupTestServer(t, halfFailing(), stripWorkspace(), Options{})
	rec := disabled.do(t, http.MethodPost, "/api/demonstrations/import", importRequest{Path: demoDir})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	ts := setupTestServer(t, halfFailing(), stripWorkspace(), Options{ImportRoot: root})
	rec = ts.do(t, http.MethodPost, "/api/demonstrations/import", importRequest{Path: filepath.Join(root, "..")})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/demonstrations/import", importRequest{Path: filepath.Join(root, "missing")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/demonstrations/import", importRequest{Path: demoDir})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[[]demo.Demonstration](t, rec)
	require.Len(t, added, 2)
	assert.Equal(t, 1, added[0].ID)
	assert.Equal(t, 2, added[1].ID)
	assert.Len(t, ts.sess.Demonstrations(), 2)
}

func TestEvaluateAndResults(t *testing.T) {
	ts := setupTestServer(t, halfFailing(), stripWorkspace(), Options{})

	for _, path := range []string{"/api/result", "/api/heatmap"} {
		rec := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	_, err := ts.sess.ImportDemonstrations(context.Background(), []demo.Demonstration{testutil.DemoAt(1, 0.5, 0.5)})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/evaluate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[bandit.Result](t, rec)
	assert.Equal(t, uint64(11), res.Seed)
	assert.InDelta(t, 0.5, res.WorstArmFailureProbability, 0.02)
	assert.False(t, res.Done)

	rec = ts.do(t, http.MethodGet, "/api/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, res.RoundID, decode[bandit.Result](t, rec).RoundID)

	rec = ts.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[bandit.Snapshot](t, rec)
	assert.Equal(t, bandit.StateTerminal, snap.State)
	assert.Equal(t, 2, snap.ArmsDone)

	heatmaps := []struct {
		format string
		want   int
		ct     string
		prefix string
	}{
		{"", http.StatusOK, "text/html; charset=utf-8", ""},
		{"html", http.StatusOK, "text/html; charset=utf-8", ""},
		{"png", http.StatusOK, "image/png", "\x89PNG"},
		{"json", http.StatusOK, "application/json", "{"},
		{"svg", http.StatusBadRequest, "application/json", ""},
	}
	for _, tt := range heatmaps {
		t.Run("heatmap "+tt.format, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/heatmap?format="+tt.format, nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.ct, rec.Header().Get("Content-Type"))
			assert.True(t, strings.HasPrefix(rec.Body.String(), tt.prefix))
		})
	}

	rec = ts.do(t, http.MethodGet, "/api/rounds?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rounds := decode[[]db.RoundRecord](t, rec)
	require.Len(t, rounds, 1)
	assert.Equal(t, res.RoundID, rounds[0].RoundID)

	rec = ts.do(t, http.MethodGet, "/api/rounds?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/rounds/"+res.RoundID+"/arms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]db.ArmResultRecord](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/api/rounds/nope/arms", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "selfeval_rounds_total")
}

func TestNoWorkspace(t *testing.T) {
	ts := setupTestServer(t, halfFailing(), nil, Options{})

	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/api/workspace"},
		{http.MethodGet, "/api/arms"},
		{http.MethodPost, "/api/evaluate"},
	} {
		rec := ts.do(t, tt.method, tt.path, nil)
		assert.Equal(t, http.StatusPreconditionFailed, rec.Code, tt.path)
		assert.Contains(t, decode[map[string]string](t, rec)["error"], "no workspace")
	}
}

func TestRoundInFlightConflict(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	p := planner.Func(func(ctx context.Context, req planner.Request) ([][]planner.PlanAttempt, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return halfFailing().Plan(ctx, req)
	})
	ts := setupTestServer(t, p, stripWorkspace(), Options{})

	done := make(chan int, 1)
	go func() {
		done <- ts.do(t, http.MethodPost, "/api/evaluate", nil).Code
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("round never reached the planner")
	}

	rec := ts.do(t, http.MethodPost, "/api/evaluate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/demonstrations", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, bandit.StateSampling, decode[bandit.Snapshot](t, rec).State)

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestRobotRecording(t *testing.T) {
	recorded := []demo.Demonstration{testutil.DemoAt(4, 0.5, 0.5), testutil.DemoAt(9, 1.5, 0.5)}
	mock, err := robot.NewMockHandler(testutil.StripDimensions(2), func() []demo.Demonstration { return recorded }, rand.NewPCG(3, 4))
	require.NoError(t, err)
	robotMux := http.NewServeMux()
	mock.Routes(robotMux)
	robotServer := httptest.NewServer(robotMux)
	defer robotServer.Close()

	client := robot.NewClient(robotServer.URL, httputil.NewStandardClient(robotServer.Client()))
	ts := setupTestServer(t, halfFailing(), stripWorkspace(), Options{Robot: client})

	rec := ts.do(t, http.MethodPost, "/api/robot/init", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/robot/recordings", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	recording := decode[robot.Recording](t, rec)
	assert.Contains(t, []int{4, 9}, recording.PID)

	rec = ts.do(t, http.MethodPost, "/api/robot/recordings/12345/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/robot/recordings/"+strconv.Itoa(recording.PID)+"/stop", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[addDemonstrationResponse](t, rec)
	assert.Equal(t, 1, added.Demonstration.ID)
	assert.Equal(t, testutil.DemoAt(1, 0, 0).JointAngles, added.Demonstration.JointAngles)
	pos, ok := added.Demonstration.ObjectPosition(0)
	require.True(t, ok)
	assert.InDelta(t, recording.Pose.X, pos.X, 1e-9)

	// a finished recording cannot be stopped twice
	rec = ts.do(t, http.MethodPost, "/api/robot/recordings/"+strconv.Itoa(recording.PID)+"/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptionalRoutesDisabled(t *testing.T) {
	ts := setupTestServer(t, halfFailing(), stripWorkspace(), Options{})
	rec := ts.do(t, http.MethodPost, "/api/robot/init", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
