package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lumengrid/lumen-core/internal/audit"
	"github.com/lumengrid/lumen-core/internal/auth"
	"github.com/lumengrid/lumen-core/internal/control"
	"github.com/lumengrid/lumen-core/internal/device"
	"github.com/lumengrid/lumen-core/internal/infrastructure/config"
	"github.com/lumengrid/lumen-core/internal/infrastructure/logging"
	"github.com/lumengrid/lumen-core/internal/settings"
	"github.com/lumengrid/lumen-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	Security    config.SecurityConfig
	Automation  config.AutomationConfig
	Logger      *logging.Logger
	Registry    *device.Registry
	Telemetry   *telemetry.Service
	Control     *control.Service
	Auth        *auth.Service
	Transitions audit.Repository
	Settings    settings.Repository
	Version     string
}

// Server is the HTTP API server for Lumen Core.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	secCfg      config.SecurityConfig
	autoCfg     config.AutomationConfig
	logger      *logging.Logger
	registry    *device.Registry
	telemetry   *telemetry.Service
	control     *control.Service
	auth        *auth.Service
	transitions audit.Repository
	settings    settings.Repository
	version     string
	server      *http.Server
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("telemetry service is required")
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("control service is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Transitions == nil {
		return nil, fmt.Errorf("transition log repository is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings repository is required")
	}

	return &Server{
		cfg:         deps.Config,
		secCfg:      deps.Security,
		autoCfg:     deps.Automation,
		logger:      deps.Logger,
		registry:    deps.Registry,
		telemetry:   deps.Telemetry,
		control:     deps.Control,
		auth:        deps.Auth,
		transitions: deps.Transitions,
		settings:    deps.Settings,
		version:     deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	_, s.cancel = context.WithCancel(ctx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
