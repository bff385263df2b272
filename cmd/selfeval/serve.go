package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/selfeval/internal/api"
	"github.com/banshee-data/selfeval/internal/httputil"
	"github.com/banshee-data/selfeval/internal/robot"
)

var (
	listen     string
	importRoot string
	robotURL   string
	mockRobot  bool
	recordWait time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operator API",
	Long: `Serve the operator API: workspace and demonstration management,
evaluation rounds, the failure heat map and round history.

With --db the SQLite console and backups are mounted under /debug/.
--robot-url enables the robot recording endpoints; --mock-robot serves a
simulated robot under /robot/ that replays stored demonstrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if robotURL != "" && mockRobot {
			return errors.New("--robot-url and --mock-robot are mutually exclusive")
		}
		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := openEnv(ctx, globalOptions(cmd))
		if err != nil {
			return err
		}
		defer e.Close()

		mux, err := buildMux(e, serveOptions{
			Listen:     listen,
			ImportRoot: importRoot,
			RobotURL:   robotURL,
			MockRobot:  mockRobot,
			RecordWait: recordWait,
		})
		if err != nil {
			return err
		}
		return runServer(ctx, listen, api.LoggingMiddleware(mux))
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&listen, "listen", ":8080", "listen address")
	f.StringVar(&importRoot, "import-root", "", "directory demonstrations may be imported from (empty disables imports)")
	f.StringVar(&robotURL, "robot-url", "", "base URL of the robot recording service")
	f.BoolVar(&mockRobot, "mock-robot", false, "serve a simulated robot under /robot/")
	f.DurationVar(&recordWait, "record-wait", 3*time.Second, "time the robot holds its initial configuration before recording")
	rootCmd.AddCommand(serveCmd)
}

type serveOptions struct {
	Listen     string
	ImportRoot string
	RobotURL   string
	MockRobot  bool
	RecordWait time.Duration
}

func buildMux(e *env, opts serveOptions) (*http.ServeMux, error) {
	apiOpts := api.Options{ImportRoot: opts.ImportRoot, RecordWait: opts.RecordWait}
	if e.store != nil {
		apiOpts.History = e.store
	}

	var mock *robot.MockHandler
	baseURL := opts.RobotURL
	if opts.MockRobot {
		ws, err := e.sess.Workspace()
		if err != nil {
			return nil, fmt.Errorf("mock robot: %w", err)
		}
		mock, err = robot.NewMockHandler(ws.Dimensions, e.sess.Demonstrations, rand.NewPCG(rand.Uint64(), rand.Uint64()))
		if err != nil {
			return nil, err
		}
		baseURL = selfURL(opts.Listen) + "/robot"
	}
	if baseURL != "" {
		apiOpts.Robot = robot.NewClient(baseURL, httputil.NewStandardClient(nil))
	}

	mux := api.NewServer(e.sess, apiOpts).ServeMux()
	if mock != nil {
		robotMux := http.NewServeMux()
		mock.Routes(robotMux)
		mux.Handle("/robot/", http.StripPrefix("/robot", robotMux))
	}
	if e.store != nil {
		if err := e.store.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// selfURL is the loopback URL of a server listening on addr.
func selfURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func runServer(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
	}()

	log.Printf("listening on %s", addr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	wg.Wait()
	return nil
}
