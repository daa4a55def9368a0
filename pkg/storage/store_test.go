package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func newTestBoltStore(t *testing.T) Store {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "warden.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStore(t *testing.T) {
	runStoreSuite(t, newTestBoltStore)
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, newTestSQLiteStore)
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newNode(name, ip string) *types.Node {
	return &types.Node{
		ID:         uuid.New().String(),
		Name:       name,
		IPAddress:  ip,
		TotalRAM:   16384,
		TotalCPU:   8,
		DiskType:   types.DiskTypeNVME,
		APIKeyHash: "deadbeef",
		Status:     types.NodeStatusProvisioning,
		CreatedAt:  baseTime,
		UpdatedAt:  baseTime,
	}
}

func newTask(nodeID string, created time.Time) *types.Task {
	return &types.Task{
		ID:        uuid.New().String(),
		NodeID:    nodeID,
		Kind:      types.TaskKindAssignServer,
		Payload:   map[string]string{"server_id": "srv-1"},
		CreatedAt: created,
	}
}

// runStoreSuite exercises the behaviour every backend must share
func runStoreSuite(t *testing.T, factory storeFactory) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := factory(t)
		node := newNode("node-a", "10.0.0.1")
		require.NoError(t, s.CreateNode(ctx, node))

		got, err := s.GetNode(ctx, node.ID)
		require.NoError(t, err)
		assert.Equal(t, node.Name, got.Name)
		assert.Equal(t, types.NodeStatusProvisioning, got.Status)
		assert.Nil(t, got.LastHeartbeat)
		assert.Equal(t, "deadbeef", got.APIKeyHash)
	})

	t.Run("get missing node", func(t *testing.T) {
		s := factory(t)
		_, err := s.GetNode(ctx, "missing")
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})

	t.Run("duplicate name and ip conflict", func(t *testing.T) {
		s := factory(t)
		require.NoError(t, s.CreateNode(ctx, newNode("node-a", "10.0.0.1")))

		err := s.CreateNode(ctx, newNode("node-a", "10.0.0.2"))
		assert.ErrorIs(t, err, errdefs.ErrConflict)

		err = s.CreateNode(ctx, newNode("node-b", "10.0.0.1"))
		assert.ErrorIs(t, err, errdefs.ErrConflict)

		nodes, err := s.ListNodes(ctx)
		require.NoError(t, err)
		assert.Len(t, nodes, 1)
	})

	t.Run("list is ordered by creation", func(t *testing.T) {
		s := factory(t)
		for i := 3; i > 0; i-- {
			node := newNode(fmt.Sprintf("node-%d", i), fmt.Sprintf("10.0.0.%d", i))
			node.CreatedAt = baseTime.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.CreateNode(ctx, node))
		}

		nodes, err := s.ListNodes(ctx)
		require.NoError(t, err)
		require.Len(t, nodes, 3)
		assert.Equal(t, "node-1", nodes[0].Name)
		assert.Equal(t, "node-3", nodes[2].Name)
	})

	t.Run("heartbeat promotes and advances monotonically", func(t *testing.T) {
		s := factory(t)
		node := newNode("node-a", "10.0.0.1")
		require.NoError(t, s.CreateNode(ctx, node))

		got, out, err := s.RecordHeartbeat(ctx, node.ID, baseTime.Add(time.Minute), &types.ResourceSnapshot{CPUPercent: 5}, "1.0.0")
		require.NoError(t, err)
		assert.True(t, out.Promoted)
		assert.Equal(t, types.NodeStatusOnline, got.Status)

		_, out, err = s.RecordHeartbeat(ctx, node.ID, baseTime, &types.ResourceSnapshot{CPUPercent: 99}, "0.9.0")
		require.NoError(t, err)
		assert.False(t, out.Advanced)

		stored, err := s.GetNode(ctx, node.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastHeartbeat)
		assert.True(t, stored.LastHeartbeat.Equal(baseTime.Add(time.Minute)))
		assert.Equal(t, "1.0.0", stored.DaemonVersion)
		require.NotNil(t, stored.LastReport)
		assert.Equal(t, 5.0, stored.LastReport.CPUPercent)
	})

	t.Run("heartbeat for missing node", func(t *testing.T) {
		s := factory(t)
		_, _, err := s.RecordHeartbeat(ctx, "missing", baseTime, nil, "")
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})

	t.Run("concurrent heartbeats keep the newest", func(t *testing.T) {
		s := factory(t)
		node := newNode("node-a", "10.0.0.1")
		require.NoError(t, s.CreateNode(ctx, node))

		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, err := s.RecordHeartbeat(ctx, node.ID, baseTime.Add(time.Duration(i)*time.Second), nil, "")
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		stored, err := s.GetNode(ctx, node.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastHeartbeat)
		assert.True(t, stored.LastHeartbeat.Equal(baseTime.Add(20*time.Second)))
		assert.Equal(t, types.NodeStatusOnline, stored.Status)
	})

	t.Run("status transitions", func(t *testing.T) {
		s := factory(t)
		node := newNode("node-a", "10.0.0.1")
		require.NoError(t, s.CreateNode(ctx, node))

		_, err := s.SetNodeStatus(ctx, node.ID, types.NodeStatusOffline, baseTime)
		assert.ErrorIs(t, err, errdefs.ErrConflict)

		got, err := s.SetNodeStatus(ctx, node.ID, types.NodeStatusMaintenance, baseTime)
		require.NoError(t, err)
		assert.Equal(t, types.NodeStatusMaintenance, got.Status)

		_, err = s.SetNodeStatus(ctx, "missing", types.NodeStatusMaintenance, baseTime)
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})

	t.Run("mark offline skips maintenance and fresh nodes", func(t *testing.T) {
		s := factory(t)
		stale := newNode("stale", "10.0.0.1")
		fresh := newNode("fresh", "10.0.0.2")
		maint := newNode("maint", "10.0.0.3")
		for _, n := range []*types.Node{stale, fresh, maint} {
			require.NoError(t, s.CreateNode(ctx, n))
		}
		_, _, err := s.RecordHeartbeat(ctx, stale.ID, baseTime, nil, "")
		require.NoError(t, err)
		_, _, err = s.RecordHeartbeat(ctx, fresh.ID, baseTime.Add(time.Hour), nil, "")
		require.NoError(t, err)
		_, _, err = s.RecordHeartbeat(ctx, maint.ID, baseTime, nil, "")
		require.NoError(t, err)
		_, err = s.SetNodeStatus(ctx, maint.ID, types.NodeStatusMaintenance, baseTime)
		require.NoError(t, err)

		cutoff := baseTime.Add(30 * time.Minute)
		now := baseTime.Add(61 * time.Minute)
		for _, tc := range []struct {
			node    *types.Node
			changed bool
		}{{stale, true}, {fresh, false}, {maint, false}} {
			changed, err := s.MarkOffline(ctx, tc.node.ID, cutoff, now)
			require.NoError(t, err)
			assert.Equal(t, tc.changed, changed, tc.node.Name)
		}

		// second sweep is a no-op
		changed, err := s.MarkOffline(ctx, stale.ID, cutoff, now)
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := s.GetNode(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, types.NodeStatusOffline, got.Status)
		assert.True(t, got.AutoOffline)

		got, err = s.GetNode(ctx, maint.ID)
		require.NoError(t, err)
		assert.Equal(t, types.NodeStatusMaintenance, got.Status)
	})

	t.Run("tasks are delivered once", func(t *testing.T) {
		s := factory(t)
		node := newNode("node-a", "10.0.0.1")
		require.NoError(t, s.CreateNode(ctx, node))

		first := newTask(node.ID, baseTime)
		second := newTask(node.ID, baseTime.Add(time.Second))
		require.NoError(t, s.CreateTask(ctx, second))
		require.NoError(t, s.CreateTask(ctx, first))

		taken, err := s.TakePendingTasks(ctx, node.ID, baseTime.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, taken, 2)
		assert.Equal(t, first.ID, taken[0].ID)
		assert.Equal(t, second.ID, taken[1].ID)
		require.NotNil(t, taken[0].DeliveredAt)

		taken, err = s.TakePendingTasks(ctx, node.ID, baseTime.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Empty(t, taken)

		all, err := s.ListTasks(ctx, node.ID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		for _, task := range all {
			assert.False(t, task.Pending())
		}
	})

	t.Run("task for missing node", func(t *testing.T) {
		s := factory(t)
		err := s.CreateTask(ctx, newTask("missing", baseTime))
		assert.ErrorIs(t, err, errdefs.ErrNotFound)

		_, err = s.ListTasks(ctx, "missing")
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})

	t.Run("delete cascades and frees name", func(t *testing.T) {
		s := factory(t)
		node := newNode("node-a", "10.0.0.1")
		require.NoError(t, s.CreateNode(ctx, node))
		require.NoError(t, s.CreateTask(ctx, newTask(node.ID, baseTime)))

		require.NoError(t, s.DeleteNode(ctx, node.ID))
		_, err := s.GetNode(ctx, node.ID)
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
		assert.ErrorIs(t, s.DeleteNode(ctx, node.ID), errdefs.ErrNotFound)

		again := newNode("node-a", "10.0.0.1")
		require.NoError(t, s.CreateNode(ctx, again))
		tasks, err := s.ListTasks(ctx, again.ID)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("copy between stores", func(t *testing.T) {
		src := factory(t)
		node := newNode("node-a", "10.0.0.1")
		require.NoError(t, src.CreateNode(ctx, node))
		require.NoError(t, src.CreateTask(ctx, newTask(node.ID, baseTime)))

		dst := newTestBoltStore(t)
		require.NoError(t, dst.CreateNode(ctx, newNode("leftover", "10.9.9.9")))

		nodes, tasks, err := Copy(ctx, src, dst.(Importer))
		require.NoError(t, err)
		assert.Equal(t, 1, nodes)
		assert.Equal(t, 1, tasks)

		all, err := dst.ListNodes(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, node.ID, all[0].ID)
	})
}
