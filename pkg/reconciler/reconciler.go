package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/liveness"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultInterval is the sweep period when none is configured
const DefaultInterval = time.Minute

// Reconciler persists OFFLINE for ONLINE nodes whose heartbeat went stale.
// Effective health never depends on it; it keeps the stored status close to
// what readers derive.
type Reconciler struct {
	store     storage.Store
	eval      liveness.Evaluator
	interval  time.Duration
	publisher events.Publisher
	isLeader  func() bool
	now       func() time.Time
	logger    zerolog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithPublisher publishes node.offline for every node the sweep marks
func WithPublisher(p events.Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

// WithLeaderCheck limits sweeping to the process for which fn returns true
func WithLeaderCheck(fn func() bool) Option {
	return func(r *Reconciler) { r.isLeader = fn }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler creates a new reconciler
func NewReconciler(store storage.Store, eval liveness.Evaluator, interval time.Duration, opts ...Option) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Reconciler{
		store:    store,
		eval:     eval,
		interval: interval,
		now:      time.Now,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the loop and waits for an in-flight sweep to finish
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh
	})
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopCh
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			if r.isLeader != nil && !r.isLeader() {
				continue
			}
			if _, err := r.Reconcile(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one sweep and returns the IDs of nodes it marked
// OFFLINE. Running it twice in a row marks nothing the second time.
func (r *Reconciler) Reconcile(ctx context.Context) ([]string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	r.mu.Lock()
	defer r.mu.Unlock()

	nodes, err := r.store.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	now := r.now().UTC()
	cutoff := r.eval.Cutoff(now)

	var marked []string
	for _, node := range nodes {
		if node.Status != types.NodeStatusOnline || !r.eval.IsStale(node, now) {
			continue
		}

		// conditional on the stored state, so a heartbeat that lands
		// between the list and this write wins
		changed, err := r.store.MarkOffline(ctx, node.ID, cutoff, now)
		if err != nil {
			r.logger.Warn().Err(err).Str("node_id", node.ID).Msg("Failed to mark node offline")
			continue
		}
		if !changed {
			continue
		}

		marked = append(marked, node.ID)
		metrics.NodesMarkedOffline.Inc()

		var age time.Duration
		if node.LastHeartbeat != nil {
			age = now.Sub(*node.LastHeartbeat)
		}
		r.logger.Info().
			Str("node_id", node.ID).
			Str("name", node.Name).
			Dur("heartbeat_age", age).
			Msg("Node marked offline")

		if r.publisher != nil {
			r.publisher.Publish(&events.Event{
				ID:        uuid.New().String(),
				Type:      events.EventNodeOffline,
				NodeID:    node.ID,
				Timestamp: now,
				Message:   fmt.Sprintf("node %s missed heartbeats for %s", node.Name, age.Round(time.Second)),
			})
		}
	}

	return marked, nil
}
