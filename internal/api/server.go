package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/selfeval/internal/db"
	"github.com/banshee-data/selfeval/internal/httputil"
	"github.com/banshee-data/selfeval/internal/monitoring"
	"github.com/banshee-data/selfeval/internal/robot"
	"github.com/banshee-data/selfeval/internal/session"
	"github.com/banshee-data/selfeval/internal/workspace"
)

// RoundHistory is the read side of the round store.
type RoundHistory interface {
	Rounds(ctx context.Context, limit int) ([]db.RoundRecord, error)
	ArmResults(ctx context.Context, roundID string) ([]db.ArmResultRecord, error)
}

// Options configure optional parts of the API.
type Options struct {
	// History serves /api/rounds when set.
	History RoundHistory
	// Robot serves /api/robot/* when set.
	Robot *robot.Client
	// ImportRoot is the only directory demonstrations may be imported
	// from. Empty disables imports.
	ImportRoot string
	// RecordWait is how long the robot holds the initial configuration
	// before recording starts.
	RecordWait time.Duration
}

type Server struct {
	sess *session.Session
	opts Options

	mu         sync.Mutex
	recordings map[int]robot.Recording
}

func NewServer(sess *session.Session, opts Options) *Server {
	return &Server{sess: sess, opts: opts, recordings: make(map[int]robot.Recording)}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

var (
	okColor       = color.New(color.FgGreen, color.Bold)
	redirectColor = color.New(color.FgYellow)
	errColor      = color.New(color.FgRed, color.Bold)
	pathColor     = color.New(color.FgCyan)
)

func statusCodeColor(statusCode int) string {
	code := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return okColor.Sprint(code)
	case statusCode >= 300 && statusCode < 400:
		return redirectColor.Sprint(code)
	case statusCode >= 400:
		return errColor.Sprint(code)
	default:
		return code
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			pathColor.Sprint(r.RequestURI),
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/workspace", s.getWorkspace)
	mux.HandleFunc("PUT /api/workspace", s.putWorkspace)
	mux.HandleFunc("GET /api/demonstrations", s.listDemonstrations)
	mux.HandleFunc("POST /api/demonstrations", s.addDemonstration)
	mux.HandleFunc("DELETE /api/demonstrations", s.clearDemonstrations)
	mux.HandleFunc("POST /api/demonstrations/import", s.importDemonstrations)
	mux.HandleFunc("GET /api/arms", s.listArms)
	mux.HandleFunc("POST /api/evaluate", s.evaluate)
	mux.HandleFunc("GET /api/result", s.lastResult)
	mux.HandleFunc("GET /api/state", s.state)
	mux.HandleFunc("GET /api/heatmap", s.heatmap)
	if s.opts.History != nil {
		mux.HandleFunc("GET /api/rounds", s.listRounds)
		mux.HandleFunc("GET /api/rounds/{id}/arms", s.roundArms)
	}
	if s.opts.Robot != nil {
		mux.HandleFunc("POST /api/robot/init", s.robotInit)
		mux.HandleFunc("POST /api/robot/recordings", s.startRecording)
		mux.HandleFunc("POST /api/robot/recordings/{pid}/stop", s.stopRecording)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var cfgErr *workspace.ConfigurationError
	var statusErr *httputil.StatusError
	switch {
	case errors.As(err, &cfgErr):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, session.ErrRoundInFlight):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNoWorkspace):
		httputil.WriteJSONError(w, http.StatusPreconditionFailed, err.Error())
	case errors.As(err, &statusErr), errors.Is(err, robot.ErrNotEnabled), errors.Is(err, robot.ErrNoPose):
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
	default:
		monitoring.Logf("api error: %v", err)
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
