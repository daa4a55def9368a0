// Package fleet builds the dashboard rollup over the node registry
package fleet

import (
	"math"
	"time"

	"github.com/cuemby/warden/pkg/liveness"
	"github.com/cuemby/warden/pkg/types"
)

// Summarize counts nodes by effective health and totals their capacity.
// An empty fleet yields a zero summary.
func Summarize(nodes []*types.Node, now time.Time, eval liveness.Evaluator) types.FleetSummary {
	summary := types.FleetSummary{
		Total:       len(nodes),
		GeneratedAt: now,
	}

	var ramMB int64
	for _, node := range nodes {
		switch eval.EffectiveHealth(node, now) {
		case types.NodeStatusOnline:
			summary.Online++
		case types.NodeStatusOffline:
			summary.Offline++
		case types.NodeStatusMaintenance:
			summary.Maintenance++
		case types.NodeStatusProvisioning:
			summary.Provisioning++
		}
		if eval.IsStale(node, now) {
			summary.Stale++
		}
		summary.TotalCPU += node.TotalCPU
		ramMB += int64(node.TotalRAM)
	}

	summary.TotalRAMGB = RAMGigabytes(ramMB)
	if summary.Total > 0 {
		summary.HealthScore = int(math.Round(float64(summary.Online) / float64(summary.Total) * 100))
	}
	return summary
}

// RAMGigabytes converts megabytes to gigabytes rounded to one decimal
func RAMGigabytes(mb int64) float64 {
	return math.Round(float64(mb)/1024*10) / 10
}
