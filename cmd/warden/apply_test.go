package main

import (
	"testing"

	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	manifest, err := parseManifest([]byte(`
kind: NodeList
nodes:
  - name: fra-01
    ip_address: 10.0.0.11
    total_ram_mb: 65536
    total_cpu: 16
    disk_type: NVME
  - name: fra-02
    ip_address: 10.0.0.12
    public_fqdn: fra-02.example.net
    total_ram_mb: 32768
    total_cpu: 8
    disk_type: ssd
`))
	require.NoError(t, err)
	require.Len(t, manifest.Nodes, 2)
	assert.Equal(t, "fra-01", manifest.Nodes[0].Name)
	assert.Equal(t, 65536, manifest.Nodes[0].TotalRAM)
	assert.Equal(t, types.DiskTypeNVME, manifest.Nodes[0].DiskType)
	assert.Equal(t, "fra-02.example.net", manifest.Nodes[1].PublicFQDN)
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"wrong kind", "kind: Service\nnodes: [{name: a}]"},
		{"no nodes", "kind: NodeList\nnodes: []"},
		{"bad yaml", "nodes: [oops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseManifest([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}
