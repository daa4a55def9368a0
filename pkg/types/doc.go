/*
Package types defines the data model shared by every warden component.

# Core Types

Fleet:
  - Node: a registered host, its capacity, credentials and last report
  - NodeStatus: PROVISIONING, ONLINE, OFFLINE, MAINTENANCE
  - DiskType: NVME, SSD, HDD
  - NodeSpec: operator input used to register a node

Telemetry:
  - HeartbeatReport: the wire payload posted by a daemon
  - ResourceSnapshot: the part of a report that is retained

Provisioning:
  - Task: an instruction queued for a node and handed out on its next heartbeat
  - TaskKind: assign_server, unassign_server, reinstall_daemon

Reporting:
  - FleetSummary: counts and capacity totals over the registry

# Node Lifecycle

	PROVISIONING ──(first heartbeat)──▶ ONLINE ◀──(operator)──▶ OFFLINE
	      │                               │  ▲
	      └──────(operator)──────▶ MAINTENANCE

Transitions are implemented once, as methods on Node, so that every storage
backend applies the same rules inside its own transaction:

	out := node.ApplyHeartbeat(receivedAt, report.Snapshot(), report.DaemonVersion)
	if out.Promoted {
		// node just came online
	}

	if err := node.ApplyStatus(types.NodeStatusMaintenance, time.Now()); err != nil {
		// errdefs.ErrConflict for forbidden transitions
	}

	changed := node.ApplyOffline(time.Now().Add(-window), time.Now())

ApplyHeartbeat only moves LastHeartbeat forward. A heartbeat that is not
strictly newer than the stored one is discarded along with its telemetry.

An OFFLINE status written by the reconciliation sweep carries AutoOffline and
is lifted by the next heartbeat. OFFLINE set by an operator is sticky, like
MAINTENANCE.

# Serialization

All types carry JSON tags and are stored as JSON by the storage backends.
HeartbeatReport uses pointer fields so that validation can reject a missing
value instead of reading it as zero. Node.APIKeyHash is persisted but the API
layer never renders it.
*/
package types
