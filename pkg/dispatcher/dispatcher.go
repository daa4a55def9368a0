// Package dispatcher drives the operator side of the node lifecycle:
// registration, maintenance windows, decommissioning and queueing tasks
// for delivery on a node's next heartbeat.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/registry"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Dispatcher issues operator commands against the registry
type Dispatcher struct {
	registry  *registry.Registry
	store     storage.Store
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithPublisher publishes task.queued events to p
func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithClock overrides the time source used to stamp tasks
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher over reg
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		store:    reg.Store(),
		logger:   log.WithComponent("dispatcher"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CreateAndQueueRegistration registers a node. The node stays PROVISIONING
// until its daemon sends the first heartbeat with the returned key.
func (d *Dispatcher) CreateAndQueueRegistration(ctx context.Context, spec types.NodeSpec) (*registry.Registration, error) {
	return d.registry.CreateNode(ctx, spec)
}

// EnterMaintenance parks a node; liveness stops judging it
func (d *Dispatcher) EnterMaintenance(ctx context.Context, id string) (*types.Node, error) {
	return d.registry.UpdateStatus(ctx, id, types.NodeStatusMaintenance)
}

// ExitMaintenance returns a node to ONLINE or OFFLINE
func (d *Dispatcher) ExitMaintenance(ctx context.Context, id string, target types.NodeStatus) (*types.Node, error) {
	if target != types.NodeStatusOnline && target != types.NodeStatusOffline {
		return nil, validation.Errorf("maintenance can only end in %s or %s, got %q",
			types.NodeStatusOnline, types.NodeStatusOffline, target)
	}
	return d.registry.UpdateStatus(ctx, id, target)
}

// Decommission deletes a node, its tasks and its credentials
func (d *Dispatcher) Decommission(ctx context.Context, id string) error {
	return d.registry.Delete(ctx, id)
}

// AssignServer queues an assign_server task carrying serverID
func (d *Dispatcher) AssignServer(ctx context.Context, nodeID, serverID string) (*types.Task, error) {
	serverID = strings.TrimSpace(serverID)
	if serverID == "" {
		return nil, validation.Errorf("server_id is required")
	}
	return d.Queue(ctx, nodeID, types.TaskKindAssignServer, map[string]string{"server_id": serverID})
}

// Queue persists a task for delivery in the node's next heartbeat response
func (d *Dispatcher) Queue(ctx context.Context, nodeID string, kind types.TaskKind, payload map[string]string) (*types.Task, error) {
	if !kind.Valid() {
		return nil, validation.Errorf("unknown task kind %q", kind)
	}
	if kind == types.TaskKindAssignServer || kind == types.TaskKindUnassignServer {
		if strings.TrimSpace(payload["server_id"]) == "" {
			return nil, validation.Errorf("%s requires payload.server_id", kind)
		}
	}

	task := &types.Task{
		ID:        uuid.New().String(),
		NodeID:    nodeID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to queue %s for node %s: %w", kind, nodeID, err)
	}

	metrics.TasksQueued.WithLabelValues(string(kind)).Inc()
	d.logger.Info().
		Str("node_id", nodeID).
		Str("task_id", task.ID).
		Str("kind", string(kind)).
		Msg("Task queued")

	if d.publisher != nil {
		d.publisher.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     events.EventTaskQueued,
			NodeID:   nodeID,
			Metadata: map[string]string{"task_id": task.ID, "kind": string(kind)},
		})
	}
	return task, nil
}

// Tasks lists every task queued for a node, delivered or not
func (d *Dispatcher) Tasks(ctx context.Context, nodeID string) ([]*types.Task, error) {
	return d.store.ListTasks(ctx, nodeID)
}
