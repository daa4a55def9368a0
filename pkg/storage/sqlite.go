package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/warden/pkg/types"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a single SQLite file. Node and task
// documents are kept as JSON next to the columns that carry constraints.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	// _txlock=immediate takes the write lock at BEGIN so read-modify-write
	// transactions serialize instead of failing on upgrade.
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			ip_address TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL,
			data TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			node_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0,
			data TEXT NOT NULL,
			FOREIGN KEY(node_id) REFERENCES nodes(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_node_created ON tasks(node_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateNode(ctx context.Context, node *types.Node) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		checks := []struct{ column, field, value string }{
			{"id", "id", node.ID},
			{"name", "name", node.Name},
			{"ip_address", "ip address", node.IPAddress},
		}
		for _, c := range checks {
			var n int
			q := fmt.Sprintf(`SELECT COUNT(1) FROM nodes WHERE %s = ?`, c.column)
			if err := tx.QueryRowContext(ctx, q, c.value).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return nodeConflict(c.field, c.value)
			}
		}
		return insertNode(ctx, tx, node)
	})
}

func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	return scanNode(s.db.QueryRowContext(ctx, `SELECT data FROM nodes WHERE id = ?`, id), id)
}

func (s *SQLiteStore) ListNodes(ctx context.Context) ([]*types.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM nodes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*types.Node
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var node types.Node
		if err := json.Unmarshal([]byte(data), &node); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortNodes(nodes)
	return nodes, nil
}

func (s *SQLiteStore) SetNodeStatus(ctx context.Context, id string, status types.NodeStatus, at time.Time) (*types.Node, error) {
	var node *types.Node
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if node, err = scanNode(tx.QueryRowContext(ctx, `SELECT data FROM nodes WHERE id = ?`, id), id); err != nil {
			return err
		}
		if err := node.ApplyStatus(status, at); err != nil {
			return err
		}
		return updateNode(ctx, tx, node)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (s *SQLiteStore) RecordHeartbeat(ctx context.Context, id string, at time.Time, snap *types.ResourceSnapshot, version string) (*types.Node, types.HeartbeatOutcome, error) {
	var (
		node *types.Node
		out  types.HeartbeatOutcome
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if node, err = scanNode(tx.QueryRowContext(ctx, `SELECT data FROM nodes WHERE id = ?`, id), id); err != nil {
			return err
		}
		if out = node.ApplyHeartbeat(at, snap, version); !out.Advanced {
			return nil
		}
		return updateNode(ctx, tx, node)
	})
	if err != nil {
		return nil, out, err
	}
	return node, out, nil
}

func (s *SQLiteStore) MarkOffline(ctx context.Context, id string, cutoff, at time.Time) (bool, error) {
	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		node, err := scanNode(tx.QueryRowContext(ctx, `SELECT data FROM nodes WHERE id = ?`, id), id)
		if err != nil {
			return err
		}
		if changed = node.ApplyOffline(cutoff, at); !changed {
			return nil
		}
		return updateNode(ctx, tx, node)
	})
	return changed, err
}

func (s *SQLiteStore) DeleteNode(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return nodeNotFound(id)
	}
	return nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, task *types.Task) error {
	err := insertTask(ctx, s.db, task)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return nodeNotFound(task.NodeID)
	}
	return err
}

func (s *SQLiteStore) ListTasks(ctx context.Context, nodeID string) ([]*types.Task, error) {
	if _, err := s.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}
	return queryTasks(ctx, s.db, `SELECT data FROM tasks WHERE node_id = ? ORDER BY created_at, id`, nodeID)
}

func (s *SQLiteStore) TakePendingTasks(ctx context.Context, nodeID string, at time.Time) ([]*types.Task, error) {
	var pending []*types.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := scanNode(tx.QueryRowContext(ctx, `SELECT data FROM nodes WHERE id = ?`, nodeID), nodeID); err != nil {
			return err
		}
		var err error
		pending, err = queryTasks(ctx, tx, `SELECT data FROM tasks WHERE node_id = ? AND delivered = 0 ORDER BY created_at, id`, nodeID)
		if err != nil {
			return err
		}
		for _, task := range pending {
			delivered := at
			task.DeliveredAt = &delivered
			data, err := json.Marshal(task)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET delivered = 1, data = ? WHERE id = ?`, string(data), task.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func (s *SQLiteStore) ImportNode(ctx context.Context, node *types.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO nodes (id,name,ip_address,created_at,data) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name,ip_address=excluded.ip_address,data=excluded.data`,
		node.ID, node.Name, node.IPAddress, node.CreatedAt.UTC(), string(data))
	return err
}

func (s *SQLiteStore) ImportTask(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks (id,node_id,created_at,delivered,data) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET delivered=excluded.delivered,data=excluded.data`,
		task.ID, task.NodeID, task.CreatedAt.UTC(), boolToInt(!task.Pending()), string(data))
	return err
}

// Reset drops every node and task
func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM nodes`)
		return err
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanNode(row *sql.Row, id string) (*types.Node, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nodeNotFound(id)
		}
		return nil, err
	}
	var node types.Node
	if err := json.Unmarshal([]byte(data), &node); err != nil {
		return nil, fmt.Errorf("failed to decode node %s: %w", id, err)
	}
	return &node, nil
}

func insertNode(ctx context.Context, tx *sql.Tx, node *types.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO nodes (id,name,ip_address,created_at,data) VALUES (?,?,?,?,?)`,
		node.ID, node.Name, node.IPAddress, node.CreatedAt.UTC(), string(data))
	return err
}

func updateNode(ctx context.Context, tx *sql.Tx, node *types.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE nodes SET data = ? WHERE id = ?`, string(data), node.ID)
	return err
}

func insertTask(ctx context.Context, db execer, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO tasks (id,node_id,created_at,delivered,data) VALUES (?,?,?,?,?)`,
		task.ID, task.NodeID, task.CreatedAt.UTC(), boolToInt(!task.Pending()), string(data))
	return err
}

func queryTasks(ctx context.Context, db queryer, query string, args ...any) ([]*types.Task, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*types.Task{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var task types.Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			return nil, err
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
