package types

import (
	"fmt"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
)

// HeartbeatOutcome describes what an accepted heartbeat changed
type HeartbeatOutcome struct {
	// Advanced is false when the heartbeat was not newer than the stored one
	Advanced bool
	// Promoted is true on the first heartbeat of a PROVISIONING node
	Promoted bool
	// Recovered is true when a sweep-marked OFFLINE node came back
	Recovered bool
	Previous  NodeStatus
}

// StatusChanged reports whether the heartbeat moved the node to ONLINE
func (o HeartbeatOutcome) StatusChanged() bool {
	return o.Promoted || o.Recovered
}

// ApplyHeartbeat records a heartbeat received at the given time. The stored
// timestamp only moves forward; an older or equal timestamp leaves the node
// untouched. Operator OFFLINE and MAINTENANCE are never overridden.
func (n *Node) ApplyHeartbeat(at time.Time, snap *ResourceSnapshot, version string) HeartbeatOutcome {
	out := HeartbeatOutcome{Previous: n.Status}
	if n.LastHeartbeat != nil && !at.After(*n.LastHeartbeat) {
		return out
	}

	ts := at
	n.LastHeartbeat = &ts
	if snap != nil {
		n.LastReport = snap
	}
	if version != "" {
		n.DaemonVersion = version
	}
	n.UpdatedAt = at
	out.Advanced = true

	switch {
	case n.Status == NodeStatusProvisioning:
		n.Status = NodeStatusOnline
		out.Promoted = true
	case n.Status == NodeStatusOffline && n.AutoOffline:
		n.Status = NodeStatusOnline
		n.AutoOffline = false
		out.Recovered = true
	}
	return out
}

// ApplyStatus performs an operator transition.
//
// Nothing may move a node back to PROVISIONING, and a node that has never
// reported cannot be forced ONLINE or OFFLINE; only its first heartbeat does
// that. MAINTENANCE can be entered from any state. Leaving MAINTENANCE on a
// node that never reported returns it to PROVISIONING whatever the target.
func (n *Node) ApplyStatus(status NodeStatus, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("unknown node status %q: %w", status, errdefs.ErrInvalidPayload)
	}
	if status == n.Status {
		n.AutoOffline = false
		return nil
	}

	switch {
	case status == NodeStatusProvisioning:
		return fmt.Errorf("node %s cannot return to %s: %w", n.ID, status, errdefs.ErrConflict)
	case n.Status == NodeStatusProvisioning && status != NodeStatusMaintenance:
		return fmt.Errorf("node %s has not reported yet and cannot be set %s: %w", n.ID, status, errdefs.ErrConflict)
	}

	if n.LastHeartbeat == nil && status != NodeStatusMaintenance {
		status = NodeStatusProvisioning
	}
	n.Status = status
	n.AutoOffline = false
	n.UpdatedAt = now
	return nil
}

// ApplyOffline marks an ONLINE node OFFLINE when its last heartbeat is older
// than cutoff. It reports whether the node changed.
func (n *Node) ApplyOffline(cutoff, now time.Time) bool {
	if n.Status != NodeStatusOnline {
		return false
	}
	if n.LastHeartbeat != nil && !n.LastHeartbeat.Before(cutoff) {
		return false
	}
	n.Status = NodeStatusOffline
	n.AutoOffline = true
	n.UpdatedAt = now
	return true
}
