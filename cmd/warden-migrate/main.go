package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warden-migrate",
	Short: "Copy the node registry between storage backends",
	Long: `Copy every node and task from one storage backend to another, e.g.
from a single-host bolt file to SQLite or etcd.

The destination is reset before the copy. Stop warden before migrating so
the source does not change underneath.

Examples:
  warden-migrate --from bolt --from-dir /var/lib/warden --to sqlite --to-path /var/lib/warden/warden.sqlite
  warden-migrate --from sqlite --from-path ./warden.sqlite --to etcd --to-etcd http://10.0.0.5:2379`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.String("from", "bolt", "Source backend (bolt, sqlite, etcd)")
	f.String("from-dir", "./data", "Source data directory (bolt, sqlite)")
	f.String("from-path", "", "Source SQLite file")
	f.StringSlice("from-etcd", nil, "Source etcd endpoints")
	f.String("to", "sqlite", "Destination backend (bolt, sqlite, etcd)")
	f.String("to-dir", "./data", "Destination data directory (bolt, sqlite)")
	f.String("to-path", "", "Destination SQLite file")
	f.StringSlice("to-etcd", nil, "Destination etcd endpoints")
	f.String("etcd-prefix", storage.DefaultEtcdPrefix, "Key prefix for etcd backends")
	f.Bool("dry-run", false, "Count what would be copied without writing")
}

func backendConfig(cmd *cobra.Command, side string) config.StorageConfig {
	f := cmd.Flags()
	backend, _ := f.GetString(side)
	dir, _ := f.GetString(side + "-dir")
	path, _ := f.GetString(side + "-path")
	endpoints, _ := f.GetStringSlice(side + "-etcd")
	prefix, _ := f.GetString("etcd-prefix")

	return config.StorageConfig{
		Backend:    backend,
		DataDir:    dir,
		SQLitePath: path,
		Etcd: config.EtcdConfig{
			Endpoints:   endpoints,
			DialTimeout: 5 * time.Second,
			Prefix:      prefix,
		},
	}
}

func run(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{Level: log.InfoLevel, Service: "warden-migrate"})
	logger := log.WithComponent("migrate")

	srcCfg := backendConfig(cmd, "from")
	dstCfg := backendConfig(cmd, "to")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if sameBackend(srcCfg, dstCfg) {
		return fmt.Errorf("source and destination are the same")
	}
	for _, c := range []config.StorageConfig{srcCfg, dstCfg} {
		if err := c.Validate(); err != nil {
			return err
		}
	}

	ctx := context.Background()
	src, err := storage.Open(srcCfg)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	if dryRun {
		nodes, tasks, err := count(ctx, src)
		if err != nil {
			return err
		}
		logger.Info().Int("nodes", nodes).Int("tasks", tasks).Msg("Dry run completed, no changes made")
		return nil
	}

	dst, err := storage.Open(dstCfg)
	if err != nil {
		return fmt.Errorf("failed to open destination: %w", err)
	}
	defer dst.Close()

	logger.Info().Str("from", srcCfg.Backend).Str("to", dstCfg.Backend).Msg("Migrating")
	nodes, tasks, err := storage.Copy(ctx, src, dst)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info().Int("nodes", nodes).Int("tasks", tasks).Msg("✓ Migration completed")
	return nil
}

func sameBackend(a, b config.StorageConfig) bool {
	if a.Backend != b.Backend {
		return false
	}
	switch a.Backend {
	case "etcd":
		return strings.Join(a.Etcd.Endpoints, ",") == strings.Join(b.Etcd.Endpoints, ",") &&
			a.Etcd.Prefix == b.Etcd.Prefix
	case "sqlite":
		return a.SQLitePath == b.SQLitePath && a.DataDir == b.DataDir
	}
	return a.DataDir == b.DataDir
}

func count(ctx context.Context, s storage.Store) (nodes, tasks int, err error) {
	all, err := s.ListNodes(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, n := range all {
		t, err := s.ListTasks(ctx, n.ID)
		if err != nil {
			return 0, 0, err
		}
		tasks += len(t)
	}
	return len(all), tasks, nil
}
