package manager

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testManager struct {
	*Manager
	addr  raft.ServerAddress
	trans *raft.InmemTransport
}

func newTestManager(t *testing.T, id string, bootstrap bool, peers ...*testManager) *testManager {
	t.Helper()
	m, err := NewManager(&Config{NodeID: id, DataDir: t.TempDir()})
	require.NoError(t, err)

	addr, trans := raft.NewInmemTransport("")
	for _, p := range peers {
		trans.Connect(p.addr, p.trans)
		p.trans.Connect(addr, trans)
	}

	store := raft.NewInmemStore()
	require.NoError(t, m.startRaft(trans, store, store, raft.NewInmemSnapshotStore(), bootstrap))
	t.Cleanup(func() { _ = m.Close() })
	return &testManager{Manager: m, addr: addr, trans: trans}
}

func newLeader(t *testing.T) *testManager {
	t.Helper()
	m := newTestManager(t, "mgr-1", true)
	require.Eventually(t, m.IsLeader, 5*time.Second, 20*time.Millisecond)
	return m
}

func testNode(name, ip string) *types.Node {
	return &types.Node{
		ID:         uuid.New().String(),
		Name:       name,
		IPAddress:  ip,
		TotalRAM:   8192,
		TotalCPU:   4,
		DiskType:   types.DiskTypeSSD,
		APIKeyHash: "cafe",
		Status:     types.NodeStatusProvisioning,
		CreatedAt:  baseTime,
		UpdatedAt:  baseTime,
	}
}

func TestManagerReplicatedWrites(t *testing.T) {
	m := newLeader(t)
	ctx := context.Background()

	node := testNode("node-a", "10.0.0.1")
	require.NoError(t, m.CreateNode(ctx, node))
	assert.ErrorIs(t, m.CreateNode(ctx, testNode("node-a", "10.0.0.9")), errdefs.ErrConflict)

	got, out, err := m.RecordHeartbeat(ctx, node.ID, baseTime.Add(time.Minute), &types.ResourceSnapshot{CPUPercent: 3}, "1.0.0")
	require.NoError(t, err)
	assert.True(t, out.Promoted)
	assert.Equal(t, types.NodeStatusOnline, got.Status)

	_, out, err = m.RecordHeartbeat(ctx, node.ID, baseTime, nil, "")
	require.NoError(t, err)
	assert.False(t, out.Advanced)

	_, err = m.SetNodeStatus(ctx, node.ID, types.NodeStatusProvisioning, baseTime)
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	changed, err := m.MarkOffline(ctx, node.ID, baseTime.Add(time.Hour), baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)

	task := &types.Task{ID: uuid.New().String(), NodeID: node.ID, Kind: types.TaskKindReinstallDaemon, CreatedAt: baseTime}
	require.NoError(t, m.CreateTask(ctx, task))
	taken, err := m.TakePendingTasks(ctx, node.ID, baseTime.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, taken, 1)
	taken, err = m.TakePendingTasks(ctx, node.ID, baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, taken)

	require.NoError(t, m.DeleteNode(ctx, node.ID))
	_, err = m.GetNode(ctx, node.ID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.ErrorIs(t, m.DeleteNode(ctx, node.ID), errdefs.ErrNotFound)
}

func TestManagerJoinReplicates(t *testing.T) {
	leader := newLeader(t)
	follower := newTestManager(t, "mgr-2", false, leader)
	ctx := context.Background()

	err := leader.Join("mgr-2", string(follower.addr), "bogus")
	assert.ErrorIs(t, err, errdefs.ErrUnauthorized)

	token, err := leader.GenerateJoinToken(time.Minute)
	require.NoError(t, err)
	require.NoError(t, leader.Join("mgr-2", string(follower.addr), token.Token))

	// single use
	assert.ErrorIs(t, leader.Join("mgr-3", "nowhere", token.Token), errdefs.ErrUnauthorized)
	assert.Equal(t, 2, leader.PeerCount())

	node := testNode("node-a", "10.0.0.1")
	require.NoError(t, leader.CreateNode(ctx, node))

	require.Eventually(t, func() bool {
		got, err := follower.GetNode(ctx, node.ID)
		return err == nil && got.Name == "node-a"
	}, 5*time.Second, 20*time.Millisecond)

	// followers cannot write
	err = follower.CreateNode(ctx, testNode("node-b", "10.0.0.2"))
	assert.ErrorIs(t, err, errdefs.ErrUnavailable)
	_, err = follower.GenerateJoinToken(time.Minute)
	assert.ErrorIs(t, err, errdefs.ErrUnavailable)
	assert.False(t, follower.IsLeader())
	assert.NotEmpty(t, follower.LeaderAddr())
}

func TestFSMSnapshotRestore(t *testing.T) {
	ctx := context.Background()

	src, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer src.Close()

	node := testNode("node-a", "10.0.0.1")
	require.NoError(t, src.CreateNode(ctx, node))
	require.NoError(t, src.CreateTask(ctx, &types.Task{ID: "t1", NodeID: node.ID, Kind: types.TaskKindReinstallDaemon, CreatedAt: baseTime}))

	snap, err := NewFleetFSM(src).Snapshot()
	require.NoError(t, err)

	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))
	snap.Release()

	dst, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer dst.Close()
	require.NoError(t, dst.CreateNode(ctx, testNode("stale", "10.9.9.9")))

	require.NoError(t, NewFleetFSM(dst).Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	nodes, err := dst.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, node.ID, nodes[0].ID)

	tasks, err := dst.ListTasks(ctx, node.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)
}

func TestFSMUnknownCommand(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	res := NewFleetFSM(store).Apply(&raft.Log{Data: []byte(`{"op":"explode","data":null}`)})
	require.IsType(t, &applyResult{}, res)
	assert.Error(t, res.(*applyResult).Err)

	res = NewFleetFSM(store).Apply(&raft.Log{Data: []byte(`not json`)})
	assert.Error(t, res.(*applyResult).Err)
}

func TestNewManagerRequiresID(t *testing.T) {
	_, err := NewManager(&Config{DataDir: t.TempDir()})
	assert.Error(t, err)
}

func TestManagerWithoutRaft(t *testing.T) {
	m, err := NewManager(&Config{NodeID: "idle", DataDir: t.TempDir()})
	require.NoError(t, err)
	defer m.Close()

	err = m.CreateNode(context.Background(), testNode("a", "10.0.0.1"))
	assert.ErrorIs(t, err, errdefs.ErrUnavailable)
	assert.False(t, m.IsLeader())
	assert.Equal(t, 0, m.PeerCount())
	assert.Equal(t, "stopped", m.Stats()["state"])
}

type memorySink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memorySink) ID() string { return "mem" }
func (s *memorySink) Close() error { return nil }
func (s *memorySink) Cancel() error { s.cancelled = true; return nil }
