package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/types"
)

// Store defines the interface for fleet state storage.
//
// Every conditional write (status transitions, heartbeats, the offline
// sweep, task delivery) is applied atomically by the backend so that
// concurrent callers never lose an update.
type Store interface {
	// Nodes
	CreateNode(ctx context.Context, node *types.Node) error
	GetNode(ctx context.Context, id string) (*types.Node, error)
	ListNodes(ctx context.Context) ([]*types.Node, error)
	SetNodeStatus(ctx context.Context, id string, status types.NodeStatus, at time.Time) (*types.Node, error)
	RecordHeartbeat(ctx context.Context, id string, at time.Time, snap *types.ResourceSnapshot, version string) (*types.Node, types.HeartbeatOutcome, error)
	MarkOffline(ctx context.Context, id string, cutoff, at time.Time) (bool, error)
	DeleteNode(ctx context.Context, id string) error

	// Tasks
	CreateTask(ctx context.Context, task *types.Task) error
	ListTasks(ctx context.Context, nodeID string) ([]*types.Task, error)
	TakePendingTasks(ctx context.Context, nodeID string, at time.Time) ([]*types.Task, error)

	// Utility
	Close() error
}

// Importer is implemented by stores that can load records verbatim. It is
// used to restore raft snapshots and by warden-migrate.
type Importer interface {
	ImportNode(ctx context.Context, node *types.Node) error
	ImportTask(ctx context.Context, task *types.Task) error
	Reset(ctx context.Context) error
}

func nodeNotFound(id string) error {
	return fmt.Errorf("node %s: %w", id, errdefs.ErrNotFound)
}

func nodeConflict(field, value string) error {
	return fmt.Errorf("node with %s %q already exists: %w", field, value, errdefs.ErrConflict)
}

// sortNodes orders nodes by creation time, then name
func sortNodes(nodes []*types.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
		}
		return nodes[i].Name < nodes[j].Name
	})
}

// sortTasks orders tasks by creation time, then ID
func sortTasks(tasks []*types.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// Copy moves every node and task from src into dst, which is reset first
func Copy(ctx context.Context, src Store, dst Importer) (nodes, tasks int, err error) {
	all, err := src.ListNodes(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list nodes: %w", err)
	}
	if err := dst.Reset(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to reset destination: %w", err)
	}
	for _, node := range all {
		if err := dst.ImportNode(ctx, node); err != nil {
			return nodes, tasks, fmt.Errorf("failed to import node %s: %w", node.ID, err)
		}
		nodes++

		nodeTasks, err := src.ListTasks(ctx, node.ID)
		if err != nil {
			return nodes, tasks, fmt.Errorf("failed to list tasks for node %s: %w", node.ID, err)
		}
		for _, task := range nodeTasks {
			if err := dst.ImportTask(ctx, task); err != nil {
				return nodes, tasks, fmt.Errorf("failed to import task %s: %w", task.ID, err)
			}
			tasks++
		}
	}
	return nodes, tasks, nil
}
