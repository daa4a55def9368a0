package types

import (
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// TestApplyHeartbeat tests status promotion and timestamp monotonicity
func TestApplyHeartbeat(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		node          Node
		at            time.Time
		wantAdvanced  bool
		wantPromoted  bool
		wantRecovered bool
		wantStatus    NodeStatus
	}{
		{
			name:         "first heartbeat promotes provisioning node",
			node:         Node{Status: NodeStatusProvisioning},
			at:           base,
			wantAdvanced: true,
			wantPromoted: true,
			wantStatus:   NodeStatusOnline,
		},
		{
			name:         "newer heartbeat on online node",
			node:         Node{Status: NodeStatusOnline, LastHeartbeat: ptr(base)},
			at:           base.Add(time.Minute),
			wantAdvanced: true,
			wantStatus:   NodeStatusOnline,
		},
		{
			name:       "older heartbeat is discarded",
			node:       Node{Status: NodeStatusOnline, LastHeartbeat: ptr(base)},
			at:         base.Add(-time.Minute),
			wantStatus: NodeStatusOnline,
		},
		{
			name:       "equal timestamp is discarded",
			node:       Node{Status: NodeStatusOnline, LastHeartbeat: ptr(base)},
			at:         base,
			wantStatus: NodeStatusOnline,
		},
		{
			name:         "maintenance is sticky",
			node:         Node{Status: NodeStatusMaintenance, LastHeartbeat: ptr(base)},
			at:           base.Add(time.Minute),
			wantAdvanced: true,
			wantStatus:   NodeStatusMaintenance,
		},
		{
			name:         "operator offline is sticky",
			node:         Node{Status: NodeStatusOffline, LastHeartbeat: ptr(base)},
			at:           base.Add(time.Minute),
			wantAdvanced: true,
			wantStatus:   NodeStatusOffline,
		},
		{
			name:          "sweep offline recovers",
			node:          Node{Status: NodeStatusOffline, AutoOffline: true, LastHeartbeat: ptr(base)},
			at:            base.Add(time.Hour),
			wantAdvanced:  true,
			wantRecovered: true,
			wantStatus:    NodeStatusOnline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := tt.node
			before := node.LastHeartbeat

			out := node.ApplyHeartbeat(tt.at, &ResourceSnapshot{CPUPercent: 10}, "1.2.3")

			assert.Equal(t, tt.wantAdvanced, out.Advanced)
			assert.Equal(t, tt.wantPromoted, out.Promoted)
			assert.Equal(t, tt.wantRecovered, out.Recovered)
			assert.Equal(t, tt.wantStatus, node.Status)

			if tt.wantAdvanced {
				require.NotNil(t, node.LastHeartbeat)
				assert.True(t, node.LastHeartbeat.Equal(tt.at))
				assert.Equal(t, "1.2.3", node.DaemonVersion)
				assert.False(t, node.AutoOffline)
			} else {
				assert.Equal(t, before, node.LastHeartbeat)
				assert.Empty(t, node.DaemonVersion)
				assert.Nil(t, node.LastReport)
			}
		})
	}
}

// TestApplyStatus tests the operator transition rules
func TestApplyStatus(t *testing.T) {
	now := time.Now()
	seen := ptr(now.Add(-time.Minute))

	tests := []struct {
		name       string
		node       Node
		target     NodeStatus
		wantErr    error
		wantStatus NodeStatus
	}{
		{"online to maintenance", Node{Status: NodeStatusOnline, LastHeartbeat: seen}, NodeStatusMaintenance, nil, NodeStatusMaintenance},
		{"maintenance to online", Node{Status: NodeStatusMaintenance, LastHeartbeat: seen}, NodeStatusOnline, nil, NodeStatusOnline},
		{"maintenance to offline", Node{Status: NodeStatusMaintenance, LastHeartbeat: seen}, NodeStatusOffline, nil, NodeStatusOffline},
		{"provisioning to maintenance", Node{Status: NodeStatusProvisioning}, NodeStatusMaintenance, nil, NodeStatusMaintenance},
		{"maintenance to online without heartbeat", Node{Status: NodeStatusMaintenance}, NodeStatusOnline, nil, NodeStatusProvisioning},
		{"maintenance to offline without heartbeat", Node{Status: NodeStatusMaintenance}, NodeStatusOffline, nil, NodeStatusProvisioning},
		{"provisioning to online", Node{Status: NodeStatusProvisioning}, NodeStatusOnline, errdefs.ErrConflict, NodeStatusProvisioning},
		{"provisioning to offline", Node{Status: NodeStatusProvisioning}, NodeStatusOffline, errdefs.ErrConflict, NodeStatusProvisioning},
		{"back to provisioning", Node{Status: NodeStatusOnline, LastHeartbeat: seen}, NodeStatusProvisioning, errdefs.ErrConflict, NodeStatusOnline},
		{"unknown status", Node{Status: NodeStatusOnline}, NodeStatus("BROKEN"), errdefs.ErrInvalidPayload, NodeStatusOnline},
		{"same status", Node{Status: NodeStatusOffline, AutoOffline: true, LastHeartbeat: seen}, NodeStatusOffline, nil, NodeStatusOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := tt.node
			err := node.ApplyStatus(tt.target, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.False(t, node.AutoOffline, "operator writes clear the sweep flag")
			}
			assert.Equal(t, tt.wantStatus, node.Status)
		})
	}
}

// TestApplyOffline tests the sweep transition
func TestApplyOffline(t *testing.T) {
	now := time.Now()
	cutoff := now.Add(-30 * time.Minute)

	tests := []struct {
		name    string
		node    Node
		changed bool
	}{
		{"stale online node", Node{Status: NodeStatusOnline, LastHeartbeat: ptr(now.Add(-time.Hour))}, true},
		{"online node that never reported", Node{Status: NodeStatusOnline}, true},
		{"fresh online node", Node{Status: NodeStatusOnline, LastHeartbeat: ptr(now.Add(-time.Minute))}, false},
		{"stale maintenance node", Node{Status: NodeStatusMaintenance, LastHeartbeat: ptr(now.Add(-time.Hour))}, false},
		{"provisioning node", Node{Status: NodeStatusProvisioning}, false},
		{"already offline", Node{Status: NodeStatusOffline, LastHeartbeat: ptr(now.Add(-time.Hour))}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := tt.node
			prev := node.Status
			assert.Equal(t, tt.changed, node.ApplyOffline(cutoff, now))
			if tt.changed {
				assert.Equal(t, NodeStatusOffline, node.Status)
				assert.True(t, node.AutoOffline)
			} else {
				assert.Equal(t, prev, node.Status)
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	report := &HeartbeatReport{
		CPU:            ptr(42.5),
		Memory:         &MemoryReport{Used: ptr(int64(512)), Total: ptr(int64(1024)), Percent: ptr(50.0)},
		Disk:           []DiskReport{{Mount: "/", Used: ptr(int64(10)), Total: ptr(int64(100)), Percent: ptr(10.0)}},
		Network:        &NetworkReport{In: ptr(int64(7)), Out: ptr(int64(9))},
		ContainerCount: ptr(3),
		DaemonVersion:  "0.4.0",
	}

	snap := report.Snapshot()
	assert.Equal(t, 42.5, snap.CPUPercent)
	assert.Equal(t, int64(1024), snap.Memory.Total)
	require.Len(t, snap.Disks, 1)
	assert.Equal(t, "/", snap.Disks[0].Mount)
	assert.Equal(t, int64(9), snap.Network.Out)
	assert.Equal(t, 3, snap.ContainerCount)
}

func TestParseHelpers(t *testing.T) {
	s, err := ParseNodeStatus("maintenance")
	require.NoError(t, err)
	assert.Equal(t, NodeStatusMaintenance, s)

	_, err = ParseNodeStatus("rebooting")
	assert.ErrorIs(t, err, errdefs.ErrInvalidPayload)

	d, err := ParseDiskType("nvme")
	require.NoError(t, err)
	assert.Equal(t, DiskTypeNVME, d)

	_, err = ParseDiskType("tape")
	assert.ErrorIs(t, err, errdefs.ErrInvalidPayload)
}
