package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/warden/pkg/api"
	"github.com/cuemby/warden/pkg/client"
	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/dispatcher"
	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/heartbeat"
	"github.com/cuemby/warden/pkg/liveness"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/manager"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/reconciler"
	"github.com/cuemby/warden/pkg/registry"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Warden control plane",
	Long: `Run the HTTP API, the heartbeat endpoint and the optional offline sweep.

With cluster.enabled the node registry is replicated with Raft. The first
manager bootstraps the cluster; further managers start with --join and a
token from "warden cluster token".`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("join", "", "API URL of the cluster leader to join")
	serveCmd.Flags().String("join-token", "", "Join token issued by the leader")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	joinURL, _ := cmd.Flags().GetString("join")
	joinToken, _ := cmd.Flags().GetString("join-token")
	if joinURL != "" {
		if !cfg.Cluster.Enabled {
			return fmt.Errorf("--join requires cluster.enabled")
		}
		if joinToken == "" {
			return fmt.Errorf("--join-token is required with --join")
		}
	}

	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	// Storage: a raft-replicated store in cluster mode, otherwise the
	// configured backend directly
	var (
		store storage.Store
		mgr   *manager.Manager
	)
	if cfg.Cluster.Enabled {
		mgr, err = startManager(cfg, joinURL == "")
		if err != nil {
			return err
		}
		store = mgr
		metrics.SetCriticalComponents(metrics.ComponentStorage, metrics.ComponentAPI, metrics.ComponentRaft)
	} else {
		backend, err := storage.Open(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
		}
		store = backend
	}
	defer store.Close()
	metrics.RegisterComponent(metrics.ComponentStorage, true, "")
	logger.Info().Str("backend", cfg.Storage.Backend).Bool("cluster", cfg.Cluster.Enabled).Msg("Storage ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Events
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sink, err := events.NewSink(cfg.Events)
	if err != nil {
		return fmt.Errorf("failed to create event sink: %w", err)
	}
	if sink != nil {
		defer sink.Close()
		go events.NewForwarder(broker, sink, cfg.Events.SubjectPrefix).Run(ctx)
		logger.Info().Str("sink", cfg.Events.Sink).Msg("Forwarding events")
	}
	metrics.RegisterComponent(metrics.ComponentEvents, true, "")

	// Core services
	eval := liveness.New(cfg.Liveness.Window)
	reg := registry.New(store, registry.WithPublisher(broker))
	ingester := heartbeat.New(reg, store, heartbeat.WithPublisher(broker))
	disp := dispatcher.New(reg, dispatcher.WithPublisher(broker))

	if cfg.Reconciler.Enabled {
		opts := []reconciler.Option{reconciler.WithPublisher(broker)}
		if mgr != nil {
			opts = append(opts, reconciler.WithLeaderCheck(mgr.IsLeader))
		}
		recon := reconciler.NewReconciler(store, eval, cfg.Reconciler.Interval, opts...)
		recon.Start()
		defer recon.Stop()
		logger.Info().Dur("interval", cfg.Reconciler.Interval).Msg("Reconciler started")
	}

	if cfg.Metrics.Enabled {
		var raftSource metrics.RaftSource
		if mgr != nil {
			raftSource = mgr
		}
		collector := metrics.NewCollector(store, eval, raftSource, cfg.Metrics.CollectInterval)
		collector.Start()
		defer collector.Stop()
	}

	deps := api.Deps{
		Registry:   reg,
		Ingester:   ingester,
		Dispatcher: disp,
		Evaluator:  eval,
		Version:    Version,
	}
	if mgr != nil {
		deps.Cluster = mgr
	}
	server := api.NewServer(*cfg, deps)

	errCh := make(chan error, 2)
	httpAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort))
	go func() {
		if err := server.Listen(httpAddr); err != nil {
			errCh <- fmt.Errorf("HTTP API error: %w", err)
		}
	}()
	if cfg.Server.GRPCPort > 0 {
		grpcAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
		go func() {
			if err := server.ServeGRPC(grpcAddr); err != nil {
				errCh <- fmt.Errorf("gRPC health error: %w", err)
			}
		}()
	}

	if joinURL != "" {
		if err := joinCluster(ctx, cfg, joinURL, joinToken); err != nil {
			shutdownServer(server, logger)
			return err
		}
		metrics.RegisterComponent(metrics.ComponentRaft, true, "")
	}

	logger.Info().Str("addr", httpAddr).Str("version", Version).Msg("Warden is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down after error")
	}

	shutdownServer(server, logger)
	return runErr
}

// shutdownServer stops the HTTP and gRPC listeners
func shutdownServer(server *api.Server, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("API shutdown")
	}
}

// startManager starts Raft, bootstrapping a single-voter cluster when this
// is the first manager
func startManager(cfg *config.Config, bootstrap bool) (*manager.Manager, error) {
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   cfg.Cluster.NodeID,
		BindAddr: cfg.Cluster.BindAddr,
		DataDir:  cfg.Storage.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}

	if bootstrap && cfg.Cluster.Bootstrap {
		err = mgr.Bootstrap()
	} else {
		err = mgr.Start()
	}
	if err != nil {
		mgr.Close()
		return nil, err
	}

	if bootstrap && cfg.Cluster.Bootstrap {
		if err := mgr.WaitForLeader(30 * time.Second); err != nil {
			mgr.Close()
			return nil, err
		}
		metrics.RegisterComponent(metrics.ComponentRaft, true, "")
	}
	return mgr, nil
}

// joinCluster asks the leader to add this manager as a voter
func joinCluster(ctx context.Context, cfg *config.Config, leaderURL, token string) error {
	c, err := client.NewClient(leaderURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := c.JoinCluster(ctx, cfg.Cluster.NodeID, cfg.Cluster.BindAddr, token); err != nil {
		var apiErr *client.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("leader refused join: %w", err)
		}
		return fmt.Errorf("failed to join cluster: %w", err)
	}

	logger := log.WithComponent("serve")
	logger.Info().Str("leader", leaderURL).Msg("Joined cluster")
	return nil
}
