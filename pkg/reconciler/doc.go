/*
Package reconciler runs the optional offline sweep.

Effective health is computed on read by pkg/liveness, so nothing depends on
this loop for correctness. When enabled (reconciler.enabled) it keeps the
stored status in line with what readers derive, which matters for consumers
that read raw node records (event sinks, exports, other tooling).

# Sweep

	every reconciler.interval (default 1m):
	    for each node:
	        if stored status is ONLINE and liveness reports it stale:
	            Store.MarkOffline(id, now - window)   conditional write
	            publish node.offline

The write is conditional inside the storage transaction: if a heartbeat
lands between listing and marking, the node stays ONLINE. Nodes in
MAINTENANCE, PROVISIONING or operator-set OFFLINE are never touched, and a
second sweep over the same state marks nothing.

A node marked by the sweep carries AutoOffline; its next heartbeat returns
it to ONLINE. An operator OFFLINE is sticky until the operator changes it.

# Cluster Mode

With Raft enabled every manager runs the loop but only the leader sweeps
(WithLeaderCheck). Followers would fail the write anyway, since only the
leader can apply log entries.
*/
package reconciler
