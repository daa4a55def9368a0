package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/types"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultEtcdPrefix is the key namespace used when none is configured
const DefaultEtcdPrefix = "/warden/"

// EtcdStore implements Store on an etcd cluster. Conditional writes use
// compare-and-swap on the node key's ModRevision and retry on contention.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdStore connects to the given endpoints
func NewEtcdStore(endpoints []string, prefix string, dialTimeout time.Duration) (*EtcdStore, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return NewEtcdStoreFromClient(cli, prefix), nil
}

// NewEtcdStoreFromClient wraps an existing client. Close closes the client.
func NewEtcdStoreFromClient(cli *clientv3.Client, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &EtcdStore{client: cli, prefix: prefix}
}

// Close closes the etcd client
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

// Key layout

func (s *EtcdStore) nodeKey(id string) string { return s.prefix + "nodes/" + id }
func (s *EtcdStore) nameKey(name string) string { return s.prefix + "node-names/" + name }
func (s *EtcdStore) ipKey(ip string) string { return s.prefix + "node-ips/" + ip }
func (s *EtcdStore) tasksPrefix(nodeID string) string {
	return s.prefix + "tasks/" + nodeID + "/"
}
func (s *EtcdStore) taskKey(task *types.Task) string {
	return s.tasksPrefix(task.NodeID) + task.ID
}

func (s *EtcdStore) CreateNode(ctx context.Context, node *types.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	resp, err := s.client.Txn(ctx).
		If(
			clientv3.Compare(clientv3.CreateRevision(s.nodeKey(node.ID)), "=", 0),
			clientv3.Compare(clientv3.CreateRevision(s.nameKey(node.Name)), "=", 0),
			clientv3.Compare(clientv3.CreateRevision(s.ipKey(node.IPAddress)), "=", 0),
		).
		Then(
			clientv3.OpPut(s.nodeKey(node.ID), string(data)),
			clientv3.OpPut(s.nameKey(node.Name), node.ID),
			clientv3.OpPut(s.ipKey(node.IPAddress), node.ID),
		).
		Commit()
	if err != nil {
		return err
	}
	if resp.Succeeded {
		return nil
	}

	// Work out which constraint failed for the error message
	for _, c := range []struct{ key, field, value string }{
		{s.nameKey(node.Name), "name", node.Name},
		{s.ipKey(node.IPAddress), "ip address", node.IPAddress},
	} {
		got, err := s.client.Get(ctx, c.key, clientv3.WithCountOnly())
		if err != nil {
			return err
		}
		if got.Count > 0 {
			return nodeConflict(c.field, c.value)
		}
	}
	return nodeConflict("id", node.ID)
}

func (s *EtcdStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	node, _, err := s.getNode(ctx, id)
	return node, err
}

func (s *EtcdStore) ListNodes(ctx context.Context) ([]*types.Node, error) {
	resp, err := s.client.Get(ctx, s.prefix+"nodes/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	nodes := make([]*types.Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var node types.Node
		if err := json.Unmarshal(kv.Value, &node); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", kv.Key, err)
		}
		nodes = append(nodes, &node)
	}
	sortNodes(nodes)
	return nodes, nil
}

func (s *EtcdStore) SetNodeStatus(ctx context.Context, id string, status types.NodeStatus, at time.Time) (*types.Node, error) {
	return s.updateNode(ctx, id, func(node *types.Node) (bool, error) {
		if err := node.ApplyStatus(status, at); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (s *EtcdStore) RecordHeartbeat(ctx context.Context, id string, at time.Time, snap *types.ResourceSnapshot, version string) (*types.Node, types.HeartbeatOutcome, error) {
	var out types.HeartbeatOutcome
	node, err := s.updateNode(ctx, id, func(node *types.Node) (bool, error) {
		out = node.ApplyHeartbeat(at, snap, version)
		return out.Advanced, nil
	})
	if err != nil {
		return nil, out, err
	}
	return node, out, nil
}

func (s *EtcdStore) MarkOffline(ctx context.Context, id string, cutoff, at time.Time) (bool, error) {
	var changed bool
	_, err := s.updateNode(ctx, id, func(node *types.Node) (bool, error) {
		changed = node.ApplyOffline(cutoff, at)
		return changed, nil
	})
	return changed, err
}

func (s *EtcdStore) DeleteNode(ctx context.Context, id string) error {
	for {
		node, rev, err := s.getNode(ctx, id)
		if err != nil {
			return err
		}
		resp, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(s.nodeKey(id)), "=", rev)).
			Then(
				clientv3.OpDelete(s.nodeKey(id)),
				clientv3.OpDelete(s.nameKey(node.Name)),
				clientv3.OpDelete(s.ipKey(node.IPAddress)),
				clientv3.OpDelete(s.tasksPrefix(id), clientv3.WithPrefix()),
			).
			Commit()
		if err != nil {
			return err
		}
		if resp.Succeeded {
			return nil
		}
	}
}

func (s *EtcdStore) CreateTask(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(s.nodeKey(task.NodeID)), ">", 0)).
		Then(clientv3.OpPut(s.taskKey(task), string(data))).
		Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return nodeNotFound(task.NodeID)
	}
	return nil
}

func (s *EtcdStore) ListTasks(ctx context.Context, nodeID string) ([]*types.Task, error) {
	if _, _, err := s.getNode(ctx, nodeID); err != nil {
		return nil, err
	}
	tasks, _, err := s.getTasks(ctx, nodeID)
	return tasks, err
}

func (s *EtcdStore) TakePendingTasks(ctx context.Context, nodeID string, at time.Time) ([]*types.Task, error) {
	for {
		if _, _, err := s.getNode(ctx, nodeID); err != nil {
			return nil, err
		}
		tasks, revs, err := s.getTasks(ctx, nodeID)
		if err != nil {
			return nil, err
		}

		var (
			pending []*types.Task
			cmps    []clientv3.Cmp
			ops     []clientv3.Op
		)
		for _, task := range tasks {
			if !task.Pending() {
				continue
			}
			delivered := at
			task.DeliveredAt = &delivered
			data, err := json.Marshal(task)
			if err != nil {
				return nil, err
			}
			key := s.taskKey(task)
			cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(key), "=", revs[task.ID]))
			ops = append(ops, clientv3.OpPut(key, string(data)))
			pending = append(pending, task)
		}
		if len(pending) == 0 {
			return pending, nil
		}

		resp, err := s.client.Txn(ctx).If(cmps...).Then(ops...).Commit()
		if err != nil {
			return nil, err
		}
		if resp.Succeeded {
			return pending, nil
		}
	}
}

func (s *EtcdStore) ImportNode(ctx context.Context, node *types.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	ops := []clientv3.Op{
		clientv3.OpPut(s.nodeKey(node.ID), string(data)),
		clientv3.OpPut(s.nameKey(node.Name), node.ID),
		clientv3.OpPut(s.ipKey(node.IPAddress), node.ID),
	}
	if old, _, err := s.getNode(ctx, node.ID); err == nil {
		if old.Name != node.Name {
			ops = append(ops, clientv3.OpDelete(s.nameKey(old.Name)))
		}
		if old.IPAddress != node.IPAddress {
			ops = append(ops, clientv3.OpDelete(s.ipKey(old.IPAddress)))
		}
	}
	_, err = s.client.Txn(ctx).Then(ops...).Commit()
	return err
}

func (s *EtcdStore) ImportTask(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, s.taskKey(task), string(data))
	return err
}

// Reset deletes every key under the store prefix
func (s *EtcdStore) Reset(ctx context.Context) error {
	_, err := s.client.Delete(ctx, s.prefix, clientv3.WithPrefix())
	return err
}

// Helpers

func (s *EtcdStore) getNode(ctx context.Context, id string) (*types.Node, int64, error) {
	resp, err := s.client.Get(ctx, s.nodeKey(id))
	if err != nil {
		return nil, 0, err
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, nodeNotFound(id)
	}
	var node types.Node
	if err := json.Unmarshal(resp.Kvs[0].Value, &node); err != nil {
		return nil, 0, fmt.Errorf("failed to decode node %s: %w", id, err)
	}
	return &node, resp.Kvs[0].ModRevision, nil
}

// updateNode reads the node, applies fn and writes it back if fn reports a
// change and the key was not modified in between.
func (s *EtcdStore) updateNode(ctx context.Context, id string, fn func(*types.Node) (bool, error)) (*types.Node, error) {
	for {
		node, rev, err := s.getNode(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := fn(node)
		if err != nil {
			return nil, err
		}
		if !changed {
			return node, nil
		}
		data, err := json.Marshal(node)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(s.nodeKey(id)), "=", rev)).
			Then(clientv3.OpPut(s.nodeKey(id), string(data))).
			Commit()
		if err != nil {
			return nil, err
		}
		if resp.Succeeded {
			return node, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (s *EtcdStore) getTasks(ctx context.Context, nodeID string) ([]*types.Task, map[string]int64, error) {
	resp, err := s.client.Get(ctx, s.tasksPrefix(nodeID), clientv3.WithPrefix())
	if err != nil {
		return nil, nil, err
	}
	tasks := make([]*types.Task, 0, len(resp.Kvs))
	revs := make(map[string]int64, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var task types.Task
		if err := json.Unmarshal(kv.Value, &task); err != nil {
			return nil, nil, fmt.Errorf("failed to decode %s: %w", kv.Key, err)
		}
		tasks = append(tasks, &task)
		revs[task.ID] = kv.ModRevision
	}
	sortTasks(tasks)
	return tasks, revs, nil
}
