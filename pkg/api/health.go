package api

import (
	"context"
	"time"

	"github.com/cuemby/warden/pkg/metrics"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultProbeInterval is how often the storage probe runs
const DefaultProbeInterval = 5 * time.Second

func (s *Server) registerProbes() {
	s.app.Get("/health", adaptor.HTTPHandlerFunc(metrics.HealthHandler()))
	s.app.Get("/ready", adaptor.HTTPHandlerFunc(metrics.ReadyHandler()))
	s.app.Get("/live", adaptor.HTTPHandlerFunc(metrics.LivenessHandler()))
	if s.cfg.Metrics.Enabled {
		s.app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}
}

// ProbeStorage lists nodes once and records the outcome as the storage
// component's health
func (s *Server) ProbeStorage(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := s.deps.Registry.ListNodes(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Storage probe failed")
		metrics.UpdateComponent(metrics.ComponentStorage, false, err.Error())
		return false
	}
	metrics.UpdateComponent(metrics.ComponentStorage, true, "")
	return true
}

// startMonitor probes storage on an interval and mirrors readiness onto the
// gRPC health service. It runs once per server.
func (s *Server) startMonitor(interval time.Duration) {
	s.monitorOnce.Do(func() {
		go s.monitor(interval)
	})
}

func (s *Server) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.ProbeStorage(context.Background())
		s.syncServingStatus()

		select {
		case <-ticker.C:
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) syncServingStatus() {
	s.mu.Lock()
	hs := s.health
	s.mu.Unlock()
	if hs == nil {
		return
	}

	status := healthpb.HealthCheckResponse_SERVING
	if metrics.GetReadiness().Status != "ready" {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(GRPCServiceName, status)
}
