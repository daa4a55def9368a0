package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Manager replicates the node registry across warden processes with Raft.
// It implements storage.Store: writes are applied through the log, reads
// are served from the local BoltDB replica.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft         *raft.Raft
	fsm          *FleetFSM
	store        *storage.BoltStore
	tokens       *TokenManager
	closers      []io.Closer
	applyTimeout time.Duration
	logger       zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

var _ storage.Store = (*Manager)(nil)

// NewManager opens the local replica; call Bootstrap or Start next
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("manager node ID is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return &Manager{
		nodeID:       cfg.NodeID,
		bindAddr:     cfg.BindAddr,
		dataDir:      cfg.DataDir,
		fsm:          NewFleetFSM(store),
		store:        store,
		tokens:       NewTokenManager(),
		applyTimeout: 5 * time.Second,
		logger:       log.WithComponent("manager"),
	}, nil
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// LAN timeouts: leader heartbeats every ~250ms, failover in a few seconds
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

// Bootstrap starts Raft and, on first run, forms a single-voter cluster
func (m *Manager) Bootstrap() error {
	return m.startTCP(true)
}

// Start starts Raft without bootstrapping; used by managers that will be
// added to an existing cluster and by restarts
func (m *Manager) Start() error {
	return m.startTCP(false)
}

func (m *Manager) startTCP(bootstrap bool) error {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		return fmt.Errorf("failed to create stable store: %w", err)
	}
	m.closers = append(m.closers, transport, logStore, stableStore)

	return m.startRaft(transport, logStore, stableStore, snapshots, bootstrap)
}

func (m *Manager) startRaft(transport raft.Transport, logs raft.LogStore, stable raft.StableStore, snapshots raft.SnapshotStore, bootstrap bool) error {
	config := raftConfig(m.nodeID)

	r, err := raft.NewRaft(config, m.fsm, logs, stable, snapshots, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	m.raft = r

	if !bootstrap {
		return nil
	}

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	m.logger.Info().
		Str("node_id", m.nodeID).
		Str("addr", string(transport.LocalAddr())).
		Msg("Raft cluster bootstrapped")
	return nil
}

// WaitForLeader blocks until a leader is known or the timeout passes
func (m *Manager) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.LeaderAddr() != "" {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no raft leader after %s: %w", timeout, errdefs.ErrUnavailable)
}

// Cluster membership

// GenerateJoinToken issues a single-use token admitting one manager
func (m *Manager) GenerateJoinToken(ttl time.Duration) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, m.notLeader()
	}
	return m.tokens.GenerateToken(ttl)
}

// Join consumes token and adds the manager as a voter
func (m *Manager) Join(nodeID, address, token string) error {
	if !m.IsLeader() {
		return m.notLeader()
	}
	if err := m.tokens.Consume(token); err != nil {
		return err
	}
	return m.AddVoter(nodeID, address)
}

// AddVoter adds a manager to the Raft configuration
func (m *Manager) AddVoter(nodeID, address string) error {
	if !m.IsLeader() {
		return m.notLeader()
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	m.logger.Info().Str("node_id", nodeID).Str("addr", address).Msg("Manager joined cluster")
	return nil
}

// RemoveServer removes a manager from the Raft configuration
func (m *Manager) RemoveServer(nodeID string) error {
	if !m.IsLeader() {
		return m.notLeader()
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// Servers returns the current Raft configuration
func (m *Manager) Servers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not started: %w", errdefs.ErrUnavailable)
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the Raft address of the current leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// PeerCount returns the number of servers in the configuration
func (m *Manager) PeerCount() int {
	servers, err := m.Servers()
	if err != nil {
		return 0
	}
	return len(servers)
}

// AppliedIndex returns the last log index applied to the FSM
func (m *Manager) AppliedIndex() uint64 {
	if m.raft == nil {
		return 0
	}
	return m.raft.AppliedIndex()
}

// Stats returns Raft state for the cluster status endpoint
func (m *Manager) Stats() map[string]string {
	if m.raft == nil {
		return map[string]string{"state": "stopped"}
	}
	stats := m.raft.Stats()
	stats["node_id"] = m.nodeID
	stats["leader"] = m.LeaderAddr()
	return stats
}

func (m *Manager) notLeader() error {
	if leader := m.LeaderAddr(); leader != "" {
		return fmt.Errorf("not the raft leader, leader is %s: %w", leader, errdefs.ErrUnavailable)
	}
	return fmt.Errorf("no raft leader elected: %w", errdefs.ErrUnavailable)
}

// apply submits a command and waits for the FSM result
func (m *Manager) apply(ctx context.Context, op string, data any) (*applyResult, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not started: %w", errdefs.ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", op, err)
	}
	cmd, err := json.Marshal(Command{Op: op, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(cmd, m.applyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return nil, m.notLeader()
		}
		return nil, fmt.Errorf("failed to apply %s: %w", op, err)
	}

	res, ok := future.Response().(*applyResult)
	if !ok {
		return nil, fmt.Errorf("unexpected apply response %T", future.Response())
	}
	return res, res.Err
}

// storage.Store

func (m *Manager) CreateNode(ctx context.Context, node *types.Node) error {
	_, err := m.apply(ctx, opCreateNode, node)
	return err
}

func (m *Manager) GetNode(ctx context.Context, id string) (*types.Node, error) {
	return m.store.GetNode(ctx, id)
}

func (m *Manager) ListNodes(ctx context.Context) ([]*types.Node, error) {
	return m.store.ListNodes(ctx)
}

func (m *Manager) SetNodeStatus(ctx context.Context, id string, status types.NodeStatus, at time.Time) (*types.Node, error) {
	res, err := m.apply(ctx, opSetStatus, statusCmd{ID: id, Status: status, At: at})
	if err != nil {
		return nil, err
	}
	return res.Node, nil
}

func (m *Manager) RecordHeartbeat(ctx context.Context, id string, at time.Time, snap *types.ResourceSnapshot, version string) (*types.Node, types.HeartbeatOutcome, error) {
	res, err := m.apply(ctx, opRecordHeartbeat, heartbeatCmd{ID: id, At: at, Snapshot: snap, Version: version})
	if err != nil {
		return nil, types.HeartbeatOutcome{}, err
	}
	return res.Node, res.Outcome, nil
}

func (m *Manager) MarkOffline(ctx context.Context, id string, cutoff, at time.Time) (bool, error) {
	res, err := m.apply(ctx, opMarkOffline, offlineCmd{ID: id, Cutoff: cutoff, At: at})
	if err != nil {
		return false, err
	}
	return res.Changed, nil
}

func (m *Manager) DeleteNode(ctx context.Context, id string) error {
	_, err := m.apply(ctx, opDeleteNode, id)
	return err
}

func (m *Manager) CreateTask(ctx context.Context, task *types.Task) error {
	_, err := m.apply(ctx, opCreateTask, task)
	return err
}

func (m *Manager) ListTasks(ctx context.Context, nodeID string) ([]*types.Task, error) {
	return m.store.ListTasks(ctx, nodeID)
}

func (m *Manager) TakePendingTasks(ctx context.Context, nodeID string, at time.Time) ([]*types.Task, error) {
	res, err := m.apply(ctx, opTakeTasks, takeTasksCmd{NodeID: nodeID, At: at})
	if err != nil {
		return nil, err
	}
	return res.Tasks, nil
}

// Close shuts Raft down and closes the local replica
func (m *Manager) Close() error {
	var errs []error
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown raft: %w", err))
		}
	}
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	return errors.Join(errs...)
}
