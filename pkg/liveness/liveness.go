// Package liveness derives a node's effective health from its stored status
// and heartbeat age. It is pure: nothing here reads or writes storage.
package liveness

import (
	"time"

	"github.com/cuemby/warden/pkg/types"
)

// DefaultWindow is the heartbeat age after which a node counts as stale
const DefaultWindow = 30 * time.Minute

// Evaluator classifies nodes against a staleness window
type Evaluator struct {
	Window time.Duration
}

// New returns an evaluator; a non-positive window selects DefaultWindow
func New(window time.Duration) Evaluator {
	if window <= 0 {
		window = DefaultWindow
	}
	return Evaluator{Window: window}
}

func (e Evaluator) window() time.Duration {
	if e.Window <= 0 {
		return DefaultWindow
	}
	return e.Window
}

// Cutoff returns the oldest heartbeat time still considered fresh at now
func (e Evaluator) Cutoff(now time.Time) time.Time {
	return now.Add(-e.window())
}

// IsStale reports whether the node has never reported or its last
// heartbeat is older than the window
func (e Evaluator) IsStale(node *types.Node, now time.Time) bool {
	if node.LastHeartbeat == nil {
		return true
	}
	return now.Sub(*node.LastHeartbeat) > e.window()
}

// EffectiveHealth returns the status readers should display.
//
// MAINTENANCE always wins. PROVISIONING is shown until the first heartbeat.
// Any other stale node reads as OFFLINE even if the stored status still
// says ONLINE.
func (e Evaluator) EffectiveHealth(node *types.Node, now time.Time) types.NodeStatus {
	switch node.Status {
	case types.NodeStatusMaintenance, types.NodeStatusProvisioning:
		return node.Status
	}
	if e.IsStale(node, now) {
		return types.NodeStatusOffline
	}
	return node.Status
}
