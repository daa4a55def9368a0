package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/warden/pkg/client"
	"github.com/cuemby/warden/pkg/daemon"
	"github.com/cuemby/warden/pkg/log"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the node agent that posts heartbeats",
	Long: `Run the agent on a managed node. It samples CPU, memory, disks,
network and the container count, posts a heartbeat every daemon.interval
and logs tasks delivered by the control plane.

Credentials come from daemon.node_id and daemon.api_key, or the
WARDEN_DAEMON_NODE_ID and WARDEN_DAEMON_API_KEY environment variables.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringSlice("mount", nil, "Mount points to report (default: all physical partitions)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mounts, _ := cmd.Flags().GetStringSlice("mount")
	logger := log.WithComponent("daemon")

	apiURL := cfg.Daemon.APIURL
	if flag, _ := cmd.Flags().GetString("api"); flag != "" {
		apiURL = flag
	}
	c, err := client.NewClient(apiURL)
	if err != nil {
		return err
	}

	counter, err := daemon.NewContainerCounter(cfg.Daemon)
	if err != nil {
		return err
	}
	if counter != nil {
		defer counter.Close()
	}

	agent, err := daemon.NewAgent(c, daemon.NewSystemCollector(Version, counter, mounts...), daemon.AgentConfig{
		NodeID:   cfg.Daemon.NodeID,
		APIKey:   cfg.Daemon.APIKey,
		Interval: cfg.Daemon.Interval,
	})
	if err != nil {
		return fmt.Errorf("invalid daemon config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("api", apiURL).Str("runtime", cfg.Daemon.Runtime).Msg("Starting daemon")
	return agent.Run(ctx)
}
