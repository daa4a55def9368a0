package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/warden/pkg/client"
	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var nodeApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Register nodes from a YAML manifest",
	Long: `Register every node listed in a YAML manifest. Nodes that already
exist (same name or IP) are skipped.

Example manifest:

  kind: NodeList
  nodes:
    - name: fra-01
      ip_address: 10.0.0.11
      public_fqdn: fra-01.example.net
      total_ram_mb: 65536
      total_cpu: 16
      disk_type: NVME

The API key of each new node is printed once.`,
	RunE: runApply,
}

func init() {
	nodeApplyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = nodeApplyCmd.MarkFlagRequired("file")

	nodeCmd.AddCommand(nodeApplyCmd)
}

// NodeManifest is the document read by "warden node apply"
type NodeManifest struct {
	Kind  string           `yaml:"kind"`
	Nodes []types.NodeSpec `yaml:"nodes"`
}

func parseManifest(data []byte) (*NodeManifest, error) {
	var manifest NodeManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %v", err)
	}
	if manifest.Kind != "" && manifest.Kind != "NodeList" {
		return nil, fmt.Errorf("unsupported resource kind: %s", manifest.Kind)
	}
	if len(manifest.Nodes) == 0 {
		return nil, fmt.Errorf("manifest lists no nodes")
	}
	return &manifest, nil
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	manifest, err := parseManifest(data)
	if err != nil {
		return err
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		var created, skipped int
		for _, spec := range manifest.Nodes {
			reg, err := c.CreateNode(ctx, spec)
			switch {
			case errdefs.IsConflict(err):
				fmt.Printf("- %s already registered, skipped\n", spec.Name)
				skipped++
				continue
			case err != nil:
				return fmt.Errorf("failed to register %s: %w", spec.Name, err)
			}
			fmt.Printf("✓ %s registered: id=%s api_key=%s\n", reg.Node.Name, reg.Node.ID, reg.APIKey)
			created++
		}

		fmt.Printf("\n%d created, %d skipped\n", created, skipped)
		return nil
	})
}
