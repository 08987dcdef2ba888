package web

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/dashboard"
	"github.com/hpungsan/quarry/internal/db"
	"github.com/hpungsan/quarry/internal/events"
	"github.com/hpungsan/quarry/internal/logging"
	"github.com/hpungsan/quarry/internal/ops"
	"github.com/hpungsan/quarry/internal/training"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Options holds the collaborators of the web UI.
type Options struct {
	DB         *sql.DB
	Config     *config.Config
	Controller *training.Controller
	Bus        *events.Bus
	Logger     *zap.Logger
	Version    string
}

// NewHandlers wires the dashboard sessions and toast buffer for the web UI.
func NewHandlers(opts Options) (*Handlers, error) {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to create template sub-FS: %w", err)
	}
	logger := logging.OrNop(opts.Logger)
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}

	toasts := events.NewToasts(0)
	toasts.Attach(bus)

	manager := dashboard.NewManager(
		ops.NewRegistry(opts.DB, opts.Config),
		opts.Controller,
		dashboard.Options{
			AutoTrainOnAdd: opts.Config.AutoTrainOnAdd,
			SampleRepoURL:  opts.Config.SampleRepoURL,
			Bus:            bus,
			Logger:         logger,
		},
	)

	return &Handlers{
		db:         opts.DB,
		cfg:        opts.Config,
		controller: opts.Controller,
		sessions:   manager,
		toasts:     toasts,
		bus:        bus,
		chat:       newChatRequests(bus),
		renderer:   NewRenderer(templateSub, opts.Version, logger),
		logger:     logger,
	}, nil
}

// Server is the HTTP server of the quarry web UI together with the
// background training it started.
type Server struct {
	*http.Server
	handlers *Handlers
}

// NewServer creates and configures the HTTP server for the quarry web UI.
// Runs left "running" by an earlier process are recorded as cancelled.
func NewServer(opts Options, bind string, port int) (*Server, error) {
	h, err := NewHandlers(opts)
	if err != nil {
		return nil, err
	}
	handler, err := h.Routes()
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	if n, err := db.AbandonRuns(context.Background(), opts.DB, now, now); err != nil {
		h.logger.Warn("failed to close abandoned training runs", zap.Error(err))
	} else if n > 0 {
		h.logger.Info("closed abandoned training runs", zap.Int("runs", n))
	}

	return &Server{
		Server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", bind, port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		handlers: h,
	}, nil
}

// Shutdown stops accepting requests, cancels in-flight training and waits
// for the background runs to record their outcome, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	if drainErr := s.handlers.drain(ctx); err == nil {
		err = drainErr
	}
	return err
}

// drain cancels every run and waits for the dashboard sessions to finish.
func (h *Handlers) drain(ctx context.Context) error {
	defer h.sessions.Close()
	if n := h.controller.CancelAll(); n > 0 {
		h.logger.Info("cancelled training runs", zap.Int("runs", n))
	}

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for training runs: %w", ctx.Err())
	}
}

// Routes returns the UI's route table wrapped in the security headers.
func (h *Handlers) Routes() (http.Handler, error) {
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create static sub-FS: %w", err)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/projects", http.StatusFound)
	})
	mux.HandleFunc("GET /projects", h.HandleProjects)
	mux.HandleFunc("POST /projects", h.HandleCreateProject)
	mux.HandleFunc("GET /projects/{id}", h.HandleDashboard)
	mux.HandleFunc("GET /projects/{id}/onboarding", h.HandleOnboarding)
	mux.HandleFunc("POST /projects/{id}/onboarding/finish", h.HandleFinishOnboarding)
	mux.HandleFunc("POST /projects/{id}/sources", h.HandleAddSource)
	mux.HandleFunc("POST /projects/{id}/sources/sample", h.HandleAddSampleSource)
	mux.HandleFunc("DELETE /projects/{id}/sources/{sourceID}", h.HandleDeleteSource)
	mux.HandleFunc("POST /projects/{id}/train", h.HandleTrain)
	mux.HandleFunc("POST /projects/{id}/train/cancel", h.HandleCancelTraining)
	mux.HandleFunc("POST /projects/{id}/chat", h.HandleOpenChat)
	mux.HandleFunc("GET /projects/{id}/status", h.HandleStatus)
	mux.HandleFunc("GET /projects/{id}/connector", h.HandleConnector)
	mux.HandleFunc("GET /projects/{id}/files/{fileID}", h.HandleFile)
	mux.HandleFunc("GET /projects/{id}/references", h.HandleReference)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return securityHeaders(mux), nil
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' data:")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *Server, logger *zap.Logger) error {
	logger = logging.OrNop(logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("quarry UI running", zap.String("url", "http://"+srv.Addr))

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		_ = srv.handlers.drain(context.Background())
		return err
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
