package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/client"
	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - node provisioning and health tracking for game-server fleets",
	Long: `Warden keeps the registry of game-server hosts, accepts heartbeats
from the daemon running on each host and reports which nodes are healthy.

Run "warden serve" on the control plane and "warden daemon" on every node.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Warden version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Config file (default ./warden.yaml or /etc/warden/warden.yaml)")
	rootCmd.PersistentFlags().String("api", "", "API URL for client commands (default from WARDEN_API_URL or http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().String("token", "", "Operator JWT for client commands (default from WARDEN_TOKEN)")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Timeout for client commands")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(fleetCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(daemonCmd)
}

// loadConfig loads the file named by --config and initializes logging
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Logging.Level),
		JSONOutput: strings.EqualFold(cfg.Logging.Format, "json"),
		Service:    "warden",
	})
	return cfg, nil
}

// newClient builds an API client from --api and --token, falling back to
// the environment
func newClient(cmd *cobra.Command) (*client.Client, error) {
	apiURL, _ := cmd.Flags().GetString("api")
	if apiURL == "" {
		apiURL = os.Getenv("WARDEN_API_URL")
	}
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}

	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("WARDEN_TOKEN")
	}

	var opts []client.Option
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.NewClient(apiURL, opts...)
}
