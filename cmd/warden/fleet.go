package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cuemby/warden/pkg/client"
	"github.com/spf13/cobra"
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet-wide views",
}

var fleetSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show node counts by health and total capacity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			s, err := c.FleetSummary(ctx)
			if err != nil {
				return err
			}
			if outputJSON(cmd) {
				return printJSON(s)
			}

			fmt.Printf("Fleet health: %d%%\n\n", s.HealthScore)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Total\t%d\n", s.Total)
			fmt.Fprintf(w, "Online\t%d\n", s.Online)
			fmt.Fprintf(w, "Offline\t%d\n", s.Offline)
			fmt.Fprintf(w, "Maintenance\t%d\n", s.Maintenance)
			fmt.Fprintf(w, "Provisioning\t%d\n", s.Provisioning)
			fmt.Fprintf(w, "Stale\t%d\n", s.Stale)
			fmt.Fprintf(w, "CPU cores\t%d\n", s.TotalCPU)
			fmt.Fprintf(w, "RAM\t%.1f GB\n", s.TotalRAMGB)
			fmt.Fprintf(w, "Generated\t%s\n", s.GeneratedAt.Format(time.RFC3339))
			return w.Flush()
		})
	},
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the Raft cluster of managers",
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Raft state of the manager behind --api",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			stats, err := c.ClusterStats(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(stats))
			for k := range stats {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\n", k, stats[k])
			}
			return w.Flush()
		})
	},
}

var clusterTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a single-use token for a manager to join",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			token, err := c.CreateJoinToken(ctx, ttl)
			if err != nil {
				return err
			}
			fmt.Printf("Join token: %s\n", token.Token)
			fmt.Printf("Expires:    %s\n", token.ExpiresAt.Format(time.RFC3339))
			fmt.Println()
			fmt.Println("On the new manager run:")
			fmt.Printf("  warden serve --join <leader api url> --join-token %s\n", token.Token)
			return nil
		})
	},
}

func init() {
	fleetCmd.AddCommand(fleetSummaryCmd)
	fleetSummaryCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")

	clusterCmd.AddCommand(clusterStatusCmd)
	clusterCmd.AddCommand(clusterTokenCmd)
	clusterTokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
}
