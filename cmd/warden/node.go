package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/warden/pkg/api"
	"github.com/cuemby/warden/pkg/client"
	"github.com/cuemby/warden/pkg/types"
	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage nodes",
}

var nodeCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Register a node and print its API key",
	Long: `Register a node in PROVISIONING state.

The API key is printed once and cannot be retrieved again. Configure it on
the node as daemon.api_key together with the printed node ID.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip, _ := cmd.Flags().GetString("ip")
		fqdn, _ := cmd.Flags().GetString("fqdn")
		ram, _ := cmd.Flags().GetInt("ram")
		cpu, _ := cmd.Flags().GetInt("cpu")
		disk, _ := cmd.Flags().GetString("disk")

		diskType, err := types.ParseDiskType(disk)
		if err != nil {
			return err
		}

		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			reg, err := c.CreateNode(ctx, types.NodeSpec{
				Name:       args[0],
				IPAddress:  ip,
				PublicFQDN: fqdn,
				TotalRAM:   ram,
				TotalCPU:   cpu,
				DiskType:   diskType,
			})
			if err != nil {
				return err
			}

			fmt.Printf("✓ Node %s registered\n", reg.Node.Name)
			fmt.Printf("  Node ID: %s\n", reg.Node.ID)
			fmt.Printf("  API key: %s\n", reg.APIKey)
			fmt.Println()
			fmt.Println("Store the API key now; it will not be shown again.")
			return nil
		})
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes with their effective health",
	RunE: func(cmd *cobra.Command, args []string) error {
		health, _ := cmd.Flags().GetString("health")
		var filter types.NodeStatus
		if health != "" {
			var err error
			if filter, err = types.ParseNodeStatus(health); err != nil {
				return err
			}
		}

		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			nodes, err := c.ListNodes(ctx, filter)
			if err != nil {
				return err
			}
			if outputJSON(cmd) {
				return printJSON(nodes)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tIP\tSTATUS\tHEALTH\tLAST HEARTBEAT")
			for _, n := range nodes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					n.ID, n.Name, n.IPAddress, n.Status, n.EffectiveHealth, since(n.LastHeartbeat))
			}
			return w.Flush()
		})
	},
}

var nodeGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			node, err := c.GetNode(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(node)
		})
	},
}

var nodeStatusCmd = &cobra.Command{
	Use:   "status ID STATUS",
	Short: "Set a node's status (ONLINE, OFFLINE, MAINTENANCE)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := types.ParseNodeStatus(args[1])
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			node, err := c.UpdateStatus(ctx, args[0], status)
			if err != nil {
				return err
			}
			printNodeLine(node)
			return nil
		})
	},
}

var nodeMaintenanceCmd = &cobra.Command{
	Use:   "maintenance ID on|off",
	Short: "Enter or leave maintenance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			var (
				node *api.NodeView
				err  error
			)
			switch args[1] {
			case "on":
				node, err = c.EnterMaintenance(ctx, args[0])
			case "off":
				var status types.NodeStatus
				if status, err = types.ParseNodeStatus(target); err != nil {
					return err
				}
				node, err = c.ExitMaintenance(ctx, args[0], status)
			default:
				return fmt.Errorf("expected on or off, got %q", args[1])
			}
			if err != nil {
				return err
			}
			printNodeLine(node)
			return nil
		})
	},
}

var nodeDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Decommission a node and revoke its API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.DeleteNode(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Node %s deleted\n", args[0])
			return nil
		})
	},
}

var nodeAssignCmd = &cobra.Command{
	Use:   "assign ID SERVER_ID",
	Short: "Queue a game server assignment for a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			task, err := c.AssignServer(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("✓ Task %s queued (%s)\n", task.ID, task.Kind)
			return nil
		})
	},
}

var nodeTasksCmd = &cobra.Command{
	Use:   "tasks ID",
	Short: "List tasks queued for a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			tasks, err := c.ListTasks(ctx, args[0])
			if err != nil {
				return err
			}
			if outputJSON(cmd) {
				return printJSON(tasks)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tCREATED\tDELIVERED")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					t.ID, t.Kind, t.CreatedAt.Format(time.RFC3339), since(t.DeliveredAt))
			}
			return w.Flush()
		})
	},
}

func init() {
	nodeCmd.AddCommand(nodeCreateCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeGetCmd)
	nodeCmd.AddCommand(nodeStatusCmd)
	nodeCmd.AddCommand(nodeMaintenanceCmd)
	nodeCmd.AddCommand(nodeDeleteCmd)
	nodeCmd.AddCommand(nodeAssignCmd)
	nodeCmd.AddCommand(nodeTasksCmd)

	nodeCreateCmd.Flags().String("ip", "", "Node IP address")
	nodeCreateCmd.Flags().String("fqdn", "", "Public FQDN")
	nodeCreateCmd.Flags().Int("ram", 0, "Total RAM in MB")
	nodeCreateCmd.Flags().Int("cpu", 0, "Total CPU cores")
	nodeCreateCmd.Flags().String("disk", "SSD", "Disk type (NVME, SSD, HDD)")
	_ = nodeCreateCmd.MarkFlagRequired("ip")
	_ = nodeCreateCmd.MarkFlagRequired("ram")
	_ = nodeCreateCmd.MarkFlagRequired("cpu")

	nodeListCmd.Flags().String("health", "", "Only nodes with this effective health")
	nodeListCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")
	nodeTasksCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")
	nodeMaintenanceCmd.Flags().String("target", "ONLINE", "Status when leaving maintenance (ONLINE, OFFLINE)")
}

// withClient runs fn with an API client and the --timeout deadline
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(cmd *cobra.Command) bool {
	out, _ := cmd.Flags().GetString("output")
	return out == "json"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printNodeLine(node *api.NodeView) {
	fmt.Printf("✓ %s (%s): status %s, health %s\n", node.Name, node.ID, node.Status, node.EffectiveHealth)
}

func since(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return time.Since(*t).Round(time.Second).String() + " ago"
}
