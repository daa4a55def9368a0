package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/liveness"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) Publish(e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seed creates a node and, when lastSeen is non-nil, a heartbeat at that time
func seed(t *testing.T, s storage.Store, name string, n int, lastSeen *time.Time, status types.NodeStatus) *types.Node {
	t.Helper()
	ctx := context.Background()
	node := &types.Node{
		ID:        uuid.New().String(),
		Name:      name,
		IPAddress: fmt.Sprintf("10.1.0.%d", n),
		TotalRAM:  1024,
		TotalCPU:  1,
		DiskType:  types.DiskTypeHDD,
		Status:    types.NodeStatusProvisioning,
		CreatedAt: start,
		UpdatedAt: start,
	}
	require.NoError(t, s.CreateNode(ctx, node))
	if lastSeen != nil {
		_, _, err := s.RecordHeartbeat(ctx, node.ID, *lastSeen, nil, "1.0.0")
		require.NoError(t, err)
	}
	if status != "" && status != types.NodeStatusOnline {
		_, err := s.SetNodeStatus(ctx, node.ID, status, start)
		require.NoError(t, err)
	}
	return node
}

func TestReconcile(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := start.Add(2 * time.Hour)
	old := start
	fresh := now.Add(-5 * time.Minute)

	stale := seed(t, s, "stale", 1, &old, types.NodeStatusOnline)
	live := seed(t, s, "live", 2, &fresh, types.NodeStatusOnline)
	maint := seed(t, s, "maint", 3, &old, types.NodeStatusMaintenance)
	prov := seed(t, s, "prov", 4, nil, "")

	rec := &recorder{}
	r := NewReconciler(s, liveness.New(30*time.Minute), time.Minute,
		WithPublisher(rec), WithClock(func() time.Time { return now }))

	marked, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, marked)
	assert.Equal(t, 1, rec.len())

	for _, tc := range []struct {
		node *types.Node
		want types.NodeStatus
	}{
		{stale, types.NodeStatusOffline},
		{live, types.NodeStatusOnline},
		{maint, types.NodeStatusMaintenance},
		{prov, types.NodeStatusProvisioning},
	} {
		got, err := s.GetNode(ctx, tc.node.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Status, tc.node.Name)
	}

	// idempotent
	marked, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, marked)
	assert.Equal(t, 1, rec.len())
}

func TestReconcileLeavesOperatorOffline(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	old := start
	node := seed(t, s, "ops", 1, &old, types.NodeStatusOffline)

	now := start.Add(time.Hour)
	r := NewReconciler(s, liveness.New(30*time.Minute), 0, WithClock(func() time.Time { return now }))
	assert.Equal(t, DefaultInterval, r.interval)

	marked, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, marked)

	got, err := s.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.False(t, got.AutoOffline)
}

func TestStartStop(t *testing.T) {
	s := newStore(t)
	old := start
	node := seed(t, s, "stale", 1, &old, types.NodeStatusOnline)

	calls := 0
	var mu sync.Mutex
	r := NewReconciler(s, liveness.New(time.Minute), 10*time.Millisecond,
		WithLeaderCheck(func() bool {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return true
		}))
	r.Start()

	require.Eventually(t, func() bool {
		got, err := s.GetNode(context.Background(), node.ID)
		return err == nil && got.Status == types.NodeStatusOffline
	}, time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, calls)
}

func TestFollowerDoesNotSweep(t *testing.T) {
	s := newStore(t)
	old := start
	node := seed(t, s, "stale", 1, &old, types.NodeStatusOnline)

	r := NewReconciler(s, liveness.New(time.Minute), 5*time.Millisecond,
		WithLeaderCheck(func() bool { return false }))
	r.Start()
	time.Sleep(40 * time.Millisecond)
	r.Stop()

	got, err := s.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOnline, got.Status)
}
