package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/fleet"
	"github.com/cuemby/warden/pkg/liveness"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/types"
	"github.com/rs/zerolog"
)

// NodeLister is the read side of the node registry
type NodeLister interface {
	ListNodes(ctx context.Context) ([]*types.Node, error)
}

// RaftSource exposes consensus state for the raft gauges
type RaftSource interface {
	IsLeader() bool
	PeerCount() int
	AppliedIndex() uint64
}

// Collector periodically derives fleet gauges from the registry
type Collector struct {
	nodes    NodeLister
	eval     liveness.Evaluator
	raft     RaftSource
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a collector; raft may be nil
func NewCollector(nodes NodeLister, eval liveness.Evaluator, raft RaftSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		nodes:    nodes,
		eval:     eval,
		raft:     raft,
		interval: interval,
		now:      time.Now,
		logger:   log.WithComponent("metrics"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		c.Collect(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect refreshes every gauge once
func (c *Collector) Collect(ctx context.Context) {
	c.collectFleetMetrics(ctx)
	c.collectRaftMetrics()
}

func (c *Collector) collectFleetMetrics(ctx context.Context) {
	nodes, err := c.nodes.ListNodes(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to list nodes for metrics")
		return
	}

	summary := fleet.Summarize(nodes, c.now(), c.eval)

	NodesByHealth.WithLabelValues(string(types.NodeStatusOnline)).Set(float64(summary.Online))
	NodesByHealth.WithLabelValues(string(types.NodeStatusOffline)).Set(float64(summary.Offline))
	NodesByHealth.WithLabelValues(string(types.NodeStatusMaintenance)).Set(float64(summary.Maintenance))
	NodesByHealth.WithLabelValues(string(types.NodeStatusProvisioning)).Set(float64(summary.Provisioning))
	NodesStale.Set(float64(summary.Stale))
	FleetHealthScore.Set(float64(summary.HealthScore))
	FleetCPUCores.Set(float64(summary.TotalCPU))
	FleetRAMGigabytes.Set(summary.TotalRAMGB)
}

func (c *Collector) collectRaftMetrics() {
	if c.raft == nil {
		return
	}
	if c.raft.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftPeers.Set(float64(c.raft.PeerCount()))
	RaftAppliedIndex.Set(float64(c.raft.AppliedIndex()))
}
