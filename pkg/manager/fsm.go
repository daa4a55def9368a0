package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/hashicorp/raft"
)

// Command ops
const (
	opCreateNode      = "create_node"
	opSetStatus       = "set_status"
	opRecordHeartbeat = "record_heartbeat"
	opMarkOffline     = "mark_offline"
	opDeleteNode      = "delete_node"
	opCreateTask      = "create_task"
	opTakeTasks       = "take_tasks"
)

// Command represents a state change in the Raft log. Every timestamp a
// command needs travels inside Data so that all replicas apply the same
// value.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type statusCmd struct {
	ID     string           `json:"id"`
	Status types.NodeStatus `json:"status"`
	At     time.Time        `json:"at"`
}

type heartbeatCmd struct {
	ID       string                  `json:"id"`
	At       time.Time               `json:"at"`
	Snapshot *types.ResourceSnapshot `json:"snapshot,omitempty"`
	Version  string                  `json:"version,omitempty"`
}

type offlineCmd struct {
	ID     string    `json:"id"`
	Cutoff time.Time `json:"cutoff"`
	At     time.Time `json:"at"`
}

type takeTasksCmd struct {
	NodeID string    `json:"node_id"`
	At     time.Time `json:"at"`
}

// applyResult is what FSM.Apply hands back through the ApplyFuture
type applyResult struct {
	Node    *types.Node
	Outcome types.HeartbeatOutcome
	Changed bool
	Tasks   []*types.Task
	Err     error
}

// fsmStore is the local replica the FSM writes to
type fsmStore interface {
	storage.Store
	storage.Importer
}

// FleetFSM applies committed log entries to the local store
type FleetFSM struct {
	mu    sync.Mutex
	store fsmStore
}

// NewFleetFSM creates a new FSM over store
func NewFleetFSM(store fsmStore) *FleetFSM {
	return &FleetFSM{store: store}
}

// Apply is called by Raft once a log entry is committed
func (f *FleetFSM) Apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return &applyResult{Err: fmt.Errorf("failed to unmarshal command: %w", err)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ctx := context.Background()
	res := &applyResult{}

	switch cmd.Op {
	case opCreateNode:
		var node types.Node
		if res.Err = json.Unmarshal(cmd.Data, &node); res.Err == nil {
			res.Err = f.store.CreateNode(ctx, &node)
			res.Node = &node
		}

	case opSetStatus:
		var c statusCmd
		if res.Err = json.Unmarshal(cmd.Data, &c); res.Err == nil {
			res.Node, res.Err = f.store.SetNodeStatus(ctx, c.ID, c.Status, c.At)
		}

	case opRecordHeartbeat:
		var c heartbeatCmd
		if res.Err = json.Unmarshal(cmd.Data, &c); res.Err == nil {
			res.Node, res.Outcome, res.Err = f.store.RecordHeartbeat(ctx, c.ID, c.At, c.Snapshot, c.Version)
		}

	case opMarkOffline:
		var c offlineCmd
		if res.Err = json.Unmarshal(cmd.Data, &c); res.Err == nil {
			res.Changed, res.Err = f.store.MarkOffline(ctx, c.ID, c.Cutoff, c.At)
		}

	case opDeleteNode:
		var id string
		if res.Err = json.Unmarshal(cmd.Data, &id); res.Err == nil {
			res.Err = f.store.DeleteNode(ctx, id)
		}

	case opCreateTask:
		var task types.Task
		if res.Err = json.Unmarshal(cmd.Data, &task); res.Err == nil {
			res.Err = f.store.CreateTask(ctx, &task)
		}

	case opTakeTasks:
		var c takeTasksCmd
		if res.Err = json.Unmarshal(cmd.Data, &c); res.Err == nil {
			res.Tasks, res.Err = f.store.TakePendingTasks(ctx, c.NodeID, c.At)
		}

	default:
		res.Err = fmt.Errorf("unknown command: %s", cmd.Op)
	}

	return res
}

// Snapshot captures every node and task
func (f *FleetFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx := context.Background()
	nodes, err := f.store.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	snap := &FleetSnapshot{Nodes: nodes}
	for _, node := range nodes {
		tasks, err := f.store.ListTasks(ctx, node.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks of node %s: %w", node.ID, err)
		}
		snap.Tasks = append(snap.Tasks, tasks...)
	}
	return snap, nil
}

// Restore replaces the local store with the snapshot's contents
func (f *FleetFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap FleetSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ctx := context.Background()
	if err := f.store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	for _, node := range snap.Nodes {
		if err := f.store.ImportNode(ctx, node); err != nil {
			return fmt.Errorf("failed to restore node %s: %w", node.ID, err)
		}
	}
	for _, task := range snap.Tasks {
		if err := f.store.ImportTask(ctx, task); err != nil {
			return fmt.Errorf("failed to restore task %s: %w", task.ID, err)
		}
	}
	return nil
}

// FleetSnapshot is a point-in-time copy of the registry
type FleetSnapshot struct {
	Nodes []*types.Node `json:"nodes"`
	Tasks []*types.Task `json:"tasks"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *FleetSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		_ = sink.Cancel()
	}
	return err
}

// Release is a no-op; the snapshot holds no resources
func (s *FleetSnapshot) Release() {}
