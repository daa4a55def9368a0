package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/warden/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketNodes     = []byte("nodes")
	bucketNodeNames = []byte("node_names")
	bucketNodeIPs   = []byte("node_ips")
	bucketTasks     = []byte("tasks") // one nested bucket per node ID
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "warden.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketNodes, bucketNodeNames, bucketNodeIPs, bucketTasks} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Node operations

func (s *BoltStore) CreateNode(ctx context.Context, node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNodes).Get([]byte(node.ID)) != nil {
			return nodeConflict("id", node.ID)
		}
		if tx.Bucket(bucketNodeNames).Get([]byte(node.Name)) != nil {
			return nodeConflict("name", node.Name)
		}
		if tx.Bucket(bucketNodeIPs).Get([]byte(node.IPAddress)) != nil {
			return nodeConflict("ip address", node.IPAddress)
		}
		return putNode(tx, node)
	})
}

func (s *BoltStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	var node *types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		node, err = getNode(tx, id)
		return err
	})
	return node, err
}

func (s *BoltStore) ListNodes(ctx context.Context) ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	sortNodes(nodes)
	return nodes, err
}

func (s *BoltStore) SetNodeStatus(ctx context.Context, id string, status types.NodeStatus, at time.Time) (*types.Node, error) {
	var node *types.Node
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		if node, err = getNode(tx, id); err != nil {
			return err
		}
		if err := node.ApplyStatus(status, at); err != nil {
			return err
		}
		return putNode(tx, node)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (s *BoltStore) RecordHeartbeat(ctx context.Context, id string, at time.Time, snap *types.ResourceSnapshot, version string) (*types.Node, types.HeartbeatOutcome, error) {
	var (
		node *types.Node
		out  types.HeartbeatOutcome
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		if node, err = getNode(tx, id); err != nil {
			return err
		}
		out = node.ApplyHeartbeat(at, snap, version)
		if !out.Advanced {
			return nil
		}
		return putNode(tx, node)
	})
	if err != nil {
		return nil, out, err
	}
	return node, out, nil
}

func (s *BoltStore) MarkOffline(ctx context.Context, id string, cutoff, at time.Time) (bool, error) {
	var changed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		node, err := getNode(tx, id)
		if err != nil {
			return err
		}
		if changed = node.ApplyOffline(cutoff, at); !changed {
			return nil
		}
		return putNode(tx, node)
	})
	return changed, err
}

func (s *BoltStore) DeleteNode(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		node, err := getNode(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketNodeNames).Delete([]byte(node.Name)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketNodeIPs).Delete([]byte(node.IPAddress)); err != nil {
			return err
		}
		tasks := tx.Bucket(bucketTasks)
		if tasks.Bucket([]byte(id)) != nil {
			if err := tasks.DeleteBucket([]byte(id)); err != nil {
				return fmt.Errorf("failed to delete tasks of node %s: %w", id, err)
			}
		}
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

// Task operations

func (s *BoltStore) CreateTask(ctx context.Context, task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNodes).Get([]byte(task.NodeID)) == nil {
			return nodeNotFound(task.NodeID)
		}
		return putTask(tx, task)
	})
}

func (s *BoltStore) ListTasks(ctx context.Context, nodeID string) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNodes).Get([]byte(nodeID)) == nil {
			return nodeNotFound(nodeID)
		}
		var err error
		tasks, err = nodeTasks(tx, nodeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *BoltStore) TakePendingTasks(ctx context.Context, nodeID string, at time.Time) ([]*types.Task, error) {
	var pending []*types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNodes).Get([]byte(nodeID)) == nil {
			return nodeNotFound(nodeID)
		}
		tasks, err := nodeTasks(tx, nodeID)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if !task.Pending() {
				continue
			}
			delivered := at
			task.DeliveredAt = &delivered
			if err := putTask(tx, task); err != nil {
				return err
			}
			pending = append(pending, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// Import operations

func (s *BoltStore) ImportNode(ctx context.Context, node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if old, err := getNode(tx, node.ID); err == nil {
			if err := tx.Bucket(bucketNodeNames).Delete([]byte(old.Name)); err != nil {
				return err
			}
			if err := tx.Bucket(bucketNodeIPs).Delete([]byte(old.IPAddress)); err != nil {
				return err
			}
		}
		return putNode(tx, node)
	})
}

func (s *BoltStore) ImportTask(ctx context.Context, task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putTask(tx, task)
	})
}

// Reset drops every node and task
func (s *BoltStore) Reset(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketNodes, bucketNodeNames, bucketNodeIPs, bucketTasks} {
			if err := tx.DeleteBucket(bucket); err != nil {
				return fmt.Errorf("failed to delete bucket %s: %w", bucket, err)
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// Helpers

func getNode(tx *bolt.Tx, id string) (*types.Node, error) {
	data := tx.Bucket(bucketNodes).Get([]byte(id))
	if data == nil {
		return nil, nodeNotFound(id)
	}
	var node types.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to decode node %s: %w", id, err)
	}
	return &node, nil
}

func putNode(tx *bolt.Tx, node *types.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketNodeNames).Put([]byte(node.Name), []byte(node.ID)); err != nil {
		return err
	}
	if err := tx.Bucket(bucketNodeIPs).Put([]byte(node.IPAddress), []byte(node.ID)); err != nil {
		return err
	}
	return tx.Bucket(bucketNodes).Put([]byte(node.ID), data)
}

func putTask(tx *bolt.Tx, task *types.Task) error {
	b, err := tx.Bucket(bucketTasks).CreateBucketIfNotExists([]byte(task.NodeID))
	if err != nil {
		return err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return b.Put([]byte(task.ID), data)
}

func nodeTasks(tx *bolt.Tx, nodeID string) ([]*types.Task, error) {
	tasks := []*types.Task{}
	b := tx.Bucket(bucketTasks).Bucket([]byte(nodeID))
	if b == nil {
		return tasks, nil
	}
	err := b.ForEach(func(k, v []byte) error {
		var task types.Task
		if err := json.Unmarshal(v, &task); err != nil {
			return err
		}
		tasks = append(tasks, &task)
		return nil
	})
	sortTasks(tasks)
	return tasks, err
}
