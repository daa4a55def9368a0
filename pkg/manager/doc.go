/*
Package manager replicates the warden node registry with Raft.

In cluster mode (cluster.enabled) every warden process runs a Manager. The
Manager implements storage.Store, so the registry, heartbeat ingest,
dispatcher and reconciler use it exactly like a local store.

	┌──────────────── warden process ────────────────┐
	│                                                 │
	│   registry / heartbeat / dispatcher / sweep     │
	│                      │                          │
	│              storage.Store calls                │
	│                      │                          │
	│   ┌──────────────────▼──────────────────┐       │
	│   │              Manager                 │       │
	│   │  writes ──► raft.Apply(Command)      │       │
	│   │  reads  ──► local BoltStore          │       │
	│   └──────────────────┬──────────────────┘       │
	│                      │ committed entries        │
	│   ┌──────────────────▼──────────────────┐       │
	│   │             FleetFSM                 │       │
	│   │  Apply ──► BoltStore conditional op  │       │
	│   └─────────────────────────────────────┘       │
	└─────────────────────────────────────────────────┘

# Commands

Each write becomes a JSON Command{Op, Data}. Timestamps (heartbeat receipt,
status change, sweep cutoff) are chosen by the proposer and carried in Data
so every replica applies identical state. The FSM runs the same
conditional store operation a single-node deployment would, which keeps
"advance if newer" and the lifecycle rules in one place (pkg/types).

	create_node       CreateNode
	set_status        SetNodeStatus
	record_heartbeat  RecordHeartbeat
	mark_offline      MarkOffline
	delete_node       DeleteNode
	create_task       CreateTask
	take_tasks        TakePendingTasks

The FSM result (node, heartbeat outcome, tasks, error) is returned to the
proposer through the ApplyFuture, so errdefs sentinels survive the trip.

# Leadership

Only the leader can apply. On a follower every write returns
errdefs.ErrUnavailable naming the current leader; the API maps that to 503.
Reads are served from the local replica and may trail the leader slightly.

# Membership

The leader issues single-use join tokens (GenerateJoinToken). A new
manager starts without bootstrapping and asks the leader to Join it with
the token; the leader adds it as a voter. Tokens live in the leader's
memory only.

# Snapshots

Snapshots are the full node and task lists encoded as JSON. Restore resets
the local BoltStore and imports them verbatim.

# Timeouts

Raft timeouts are tuned for LAN deployments: 500ms heartbeat and election
timeouts, 250ms leader lease, giving failover in a few seconds.
*/
package manager
