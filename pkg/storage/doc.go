/*
Package storage persists warden's fleet state: registered nodes and the
tasks queued for them.

The Store interface is implemented by three backends that share the same
semantics and the same test suite:

	┌──────────────────── STORE BACKENDS ──────────────────────┐
	│                                                            │
	│  BoltStore    <dataDir>/warden.db      (default, embedded) │
	│    buckets: nodes, node_names, node_ips, tasks/<node id>   │
	│                                                            │
	│  SQLiteStore  <dataDir>/warden.sqlite                      │
	│    tables: nodes (name, ip_address UNIQUE), tasks (FK)     │
	│                                                            │
	│  EtcdStore    <prefix>nodes/<id>, node-names/, node-ips/,  │
	│               tasks/<node id>/<task id>                    │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

The raft-replicated store in package manager wraps a BoltStore and also
satisfies Store.

# Conditional Writes

Heartbeats, operator status changes and the offline sweep are
read-modify-write operations. Each backend runs them atomically:

  - BoltStore: inside a single db.Update transaction
  - SQLiteStore: inside a BEGIN IMMEDIATE transaction
  - EtcdStore: compare-and-swap on the node key's ModRevision, retried

The transition rules themselves live on types.Node (ApplyHeartbeat,
ApplyStatus, ApplyOffline), so every backend reaches the same result.
A heartbeat older than the stored one is discarded, which keeps
LastHeartbeat monotonic under concurrent or reordered deliveries.

# Uniqueness

Node names and IP addresses are unique. CreateNode returns an error
wrapping errdefs.ErrConflict when either is taken. Lookups of unknown
nodes wrap errdefs.ErrNotFound.

# Tasks

Tasks belong to a node and are removed with it. TakePendingTasks marks
every undelivered task of a node as delivered and returns them in one
atomic step, so a task is handed out at most once.

# Migration

Backends that implement Importer can be loaded verbatim. Copy moves the
whole dataset from any Store into an Importer and is used by raft snapshot
restore and by the warden-migrate tool.

	src, _ := storage.NewBoltStore("/var/lib/warden")
	dst, _ := storage.NewSQLiteStore("/var/lib/warden/warden.sqlite")
	nodes, tasks, err := storage.Copy(ctx, src, dst)
*/
package storage
