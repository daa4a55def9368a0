package api

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/dispatcher"
	"github.com/cuemby/warden/pkg/heartbeat"
	"github.com/cuemby/warden/pkg/liveness"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/manager"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/registry"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// Cluster is the subset of the Raft manager exposed over HTTP
type Cluster interface {
	IsLeader() bool
	LeaderAddr() string
	Stats() map[string]string
	GenerateJoinToken(ttl time.Duration) (*manager.JoinToken, error)
	Join(nodeID, address, token string) error
}

// Deps are the components the API serves
type Deps struct {
	Registry   *registry.Registry
	Ingester   *heartbeat.Ingester
	Dispatcher *dispatcher.Dispatcher
	Evaluator  liveness.Evaluator
	Cluster    Cluster // nil outside cluster mode
	Version    string
}

// Server serves the operator API, the daemon heartbeat endpoint, probes
// and an optional gRPC health service
type Server struct {
	cfg     config.Config
	deps    Deps
	app     *fiber.App
	ln      net.Listener
	grpc    *grpc.Server
	health  *health.Server
	limiter *HeartbeatLimiter
	logger  zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	monitorOnce sync.Once
	stopOnce    sync.Once
	stopCh      chan struct{}
}

// NewServer builds the fiber app and registers every route
func NewServer(cfg config.Config, deps Deps) *Server {
	logger := log.WithComponent("api")
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		limiter: NewHeartbeatLimiter(cfg.Heartbeat.Rate, cfg.Heartbeat.Burst),
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "warden",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		BodyLimit:             cfg.Server.BodyLimit,
		ErrorHandler:          ErrorHandler(logger),
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	app := s.app
	app.Use(recover.New())
	app.Use(RequestLogger(s.logger, "/health", "/ready", "/live", "/metrics"))
	app.Use(Metrics())

	s.registerProbes()

	// Daemon routes authenticate with the node's API key
	daemon := app.Group("/daemon/v1")
	daemon.Post("/heartbeat", s.heartbeat)

	// Manager-to-manager join carries its own token
	app.Post("/cluster/v1/join", s.joinCluster)

	v1 := app.Group("/v1", AdminAuth(s.cfg.Auth))
	v1.Post("/nodes", s.createNode)
	v1.Get("/nodes", s.listNodes)
	v1.Get("/nodes/:id", s.getNode)
	v1.Put("/nodes/:id/status", s.updateStatus)
	v1.Delete("/nodes/:id", s.deleteNode)
	v1.Post("/nodes/:id/maintenance", s.enterMaintenance)
	v1.Delete("/nodes/:id/maintenance", s.exitMaintenance)
	v1.Post("/nodes/:id/tasks", s.queueTask)
	v1.Get("/nodes/:id/tasks", s.listTasks)
	v1.Post("/nodes/:id/assign", s.assignServer)
	v1.Get("/fleet/summary", s.fleetSummary)
	v1.Get("/cluster", s.clusterStatus)
	v1.Post("/cluster/tokens", s.clusterToken)
}

// App returns the fiber app, mainly for app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on addr until Shutdown
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves HTTP on ln until Shutdown. ln is closed by Shutdown even if
// Serve has not started accepting yet.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopped() {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	metrics.RegisterComponent(metrics.ComponentAPI, true, "")
	s.startMonitor(DefaultProbeInterval)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP API listening")
	err := s.app.Listener(ln)
	if err != nil && !s.stopped() {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return err
	}
	return nil
}

// ServeGRPC serves the grpc.health.v1 service on addr until Shutdown
func (s *Server) ServeGRPC(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv, hs := newGRPCHealth(s.logger)
	s.mu.Lock()
	if s.stopped() {
		s.mu.Unlock()
		lis.Close()
		return nil
	}
	s.grpc, s.health = srv, hs
	s.mu.Unlock()
	s.syncServingStatus()
	s.startMonitor(DefaultProbeInterval)

	s.logger.Info().Str("addr", addr).Msg("gRPC health service listening")
	return srv.Serve(lis)
}

func (s *Server) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Shutdown stops both listeners
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopOnce.Do(func() { close(s.stopCh) })
	ln, srv, hs := s.ln, s.grpc, s.health
	s.mu.Unlock()

	if hs != nil {
		hs.Shutdown()
	}
	if srv != nil {
		srv.GracefulStop()
	}
	err := s.app.ShutdownWithContext(ctx)
	if ln != nil {
		// fiber closes ln itself once it has started accepting
		_ = ln.Close()
	}
	return err
}
