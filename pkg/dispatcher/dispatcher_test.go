package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/registry"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
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

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(t *testing.T) (*Dispatcher, storage.Store, *recorder) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rec := &recorder{}
	clock := func() time.Time { return now }
	reg := registry.New(store, registry.WithClock(clock))
	return New(reg, WithPublisher(rec), WithClock(clock)), store, rec
}

func register(t *testing.T, d *Dispatcher) *registry.Registration {
	t.Helper()
	res, err := d.CreateAndQueueRegistration(context.Background(), types.NodeSpec{
		Name:      "ams-01",
		IPAddress: "192.0.2.10",
		TotalRAM:  65536,
		TotalCPU:  32,
		DiskType:  types.DiskTypeNVME,
	})
	require.NoError(t, err)
	return res
}

func TestRegistration(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	res := register(t, d)

	assert.Equal(t, types.NodeStatusProvisioning, res.Node.Status)
	assert.Len(t, res.APIKey, 64)
	assert.Nil(t, res.Node.LastHeartbeat)
}

func TestMaintenanceLifecycle(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()
	res := register(t, d)

	_, _, err := store.RecordHeartbeat(ctx, res.Node.ID, now, nil, "1.0.0")
	require.NoError(t, err)

	node, err := d.EnterMaintenance(ctx, res.Node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusMaintenance, node.Status)

	node, err = d.ExitMaintenance(ctx, res.Node.ID, types.NodeStatusOffline)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOffline, node.Status)

	_, err = d.EnterMaintenance(ctx, res.Node.ID)
	require.NoError(t, err)
	node, err = d.ExitMaintenance(ctx, res.Node.ID, types.NodeStatusOnline)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOnline, node.Status)
}

func TestExitMaintenanceTargets(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()
	res := register(t, d)
	_, err := d.EnterMaintenance(ctx, res.Node.ID)
	require.NoError(t, err)

	for _, target := range []types.NodeStatus{types.NodeStatusMaintenance, types.NodeStatusProvisioning, "BOGUS"} {
		_, err := d.ExitMaintenance(ctx, res.Node.ID, target)
		assert.ErrorIs(t, err, errdefs.ErrInvalidPayload, string(target))
	}

	// never reported, so either target falls back to PROVISIONING
	node, err := d.ExitMaintenance(ctx, res.Node.ID, types.NodeStatusOffline)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusProvisioning, node.Status)

	_, err = d.EnterMaintenance(ctx, res.Node.ID)
	require.NoError(t, err)
	node, err = d.ExitMaintenance(ctx, res.Node.ID, types.NodeStatusOnline)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusProvisioning, node.Status)
}

func TestMaintenanceMissingNode(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	_, err := d.EnterMaintenance(context.Background(), "missing")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestDecommission(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()
	res := register(t, d)
	_, err := d.AssignServer(ctx, res.Node.ID, "srv-1")
	require.NoError(t, err)

	require.NoError(t, d.Decommission(ctx, res.Node.ID))

	_, err = store.GetNode(ctx, res.Node.ID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	_, err = d.Tasks(ctx, res.Node.ID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.ErrorIs(t, d.Decommission(ctx, res.Node.ID), errdefs.ErrNotFound)
}

func TestQueue(t *testing.T) {
	d, _, rec := newTestDispatcher(t)
	ctx := context.Background()
	res := register(t, d)

	task, err := d.AssignServer(ctx, res.Node.ID, " srv-7 ")
	require.NoError(t, err)
	assert.Equal(t, types.TaskKindAssignServer, task.Kind)
	assert.Equal(t, "srv-7", task.Payload["server_id"])
	assert.True(t, task.CreatedAt.Equal(now))
	assert.True(t, task.Pending())

	_, err = d.Queue(ctx, res.Node.ID, types.TaskKindReinstallDaemon, nil)
	require.NoError(t, err)

	tasks, err := d.Tasks(ctx, res.Node.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	queued := 0
	for _, e := range rec.events {
		if e.Type == events.EventTaskQueued {
			queued++
		}
	}
	assert.Equal(t, 2, queued)
}

func TestQueueValidation(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()
	res := register(t, d)

	tests := []struct {
		name    string
		nodeID  string
		kind    types.TaskKind
		payload map[string]string
		wantErr error
	}{
		{"unknown kind", res.Node.ID, "reboot", nil, errdefs.ErrInvalidPayload},
		{"assign without server", res.Node.ID, types.TaskKindAssignServer, nil, errdefs.ErrInvalidPayload},
		{"unassign without server", res.Node.ID, types.TaskKindUnassignServer, map[string]string{"server_id": " "}, errdefs.ErrInvalidPayload},
		{"missing node", "missing", types.TaskKindReinstallDaemon, nil, errdefs.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Queue(ctx, tt.nodeID, tt.kind, tt.payload)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := d.AssignServer(ctx, res.Node.ID, "")
	assert.ErrorIs(t, err, errdefs.ErrInvalidPayload)
}
