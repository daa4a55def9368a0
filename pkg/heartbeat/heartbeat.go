// Package heartbeat accepts daemon reports: it validates the payload,
// authenticates the node and records the heartbeat with the server clock.
// It is the only path that moves a node out of PROVISIONING.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Results recorded on warden_heartbeats_total
const (
	ResultAccepted     = "accepted"
	ResultStale        = "stale"
	ResultInvalid      = "invalid"
	ResultUnauthorized = "unauthorized"
	ResultError        = "error"
)

// Authenticator verifies a daemon's credentials
type Authenticator interface {
	Authenticate(ctx context.Context, nodeID, apiKey string) (*types.Node, error)
}

// Ack is returned to the daemon for an accepted heartbeat
type Ack struct {
	Status     string           `json:"status"`
	NodeStatus types.NodeStatus `json:"node_status"`
	Tasks      []*types.Task    `json:"tasks"`
}

// Ingester records heartbeats
type Ingester struct {
	auth      Authenticator
	store     storage.Store
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures an Ingester
type Option func(*Ingester)

// WithPublisher publishes node.online and task.delivered events to p
func WithPublisher(p events.Publisher) Option {
	return func(i *Ingester) { i.publisher = p }
}

// WithClock overrides the receipt clock
func WithClock(now func() time.Time) Option {
	return func(i *Ingester) { i.now = now }
}

// New creates an ingester
func New(auth Authenticator, store storage.Store, opts ...Option) *Ingester {
	i := &Ingester{
		auth:   auth,
		store:  store,
		logger: log.WithComponent("heartbeat"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest validates and records one heartbeat. Unknown nodes and bad keys
// both return ErrUnauthorized.
func (i *Ingester) Ingest(ctx context.Context, nodeID, apiKey string, report *types.HeartbeatReport) (*Ack, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HeartbeatDuration)

	if err := Validate(report); err != nil {
		metrics.HeartbeatsTotal.WithLabelValues(ResultInvalid).Inc()
		return nil, err
	}

	if _, err := i.auth.Authenticate(ctx, nodeID, apiKey); err != nil {
		if errdefs.IsUnauthorized(err) || errdefs.IsNotFound(err) {
			metrics.HeartbeatsTotal.WithLabelValues(ResultUnauthorized).Inc()
			return nil, errdefs.ErrUnauthorized
		}
		metrics.HeartbeatsTotal.WithLabelValues(ResultError).Inc()
		return nil, err
	}

	receivedAt := i.now().UTC()
	node, out, err := i.store.RecordHeartbeat(ctx, nodeID, receivedAt, report.Snapshot(), report.DaemonVersion)
	if err != nil {
		// deleted between authentication and the write
		if errdefs.IsNotFound(err) {
			metrics.HeartbeatsTotal.WithLabelValues(ResultUnauthorized).Inc()
			return nil, errdefs.ErrUnauthorized
		}
		metrics.HeartbeatsTotal.WithLabelValues(ResultError).Inc()
		return nil, fmt.Errorf("failed to record heartbeat: %w", err)
	}

	if out.Advanced {
		metrics.HeartbeatsTotal.WithLabelValues(ResultAccepted).Inc()
	} else {
		metrics.HeartbeatsTotal.WithLabelValues(ResultStale).Inc()
	}

	if out.StatusChanged() {
		i.logger.Info().
			Str("node_id", nodeID).
			Str("from", string(out.Previous)).
			Bool("recovered", out.Recovered).
			Msg("Node is online")

		i.publish(&events.Event{
			ID:        uuid.New().String(),
			Type:      events.EventNodeOnline,
			NodeID:    nodeID,
			Timestamp: receivedAt,
			Message:   fmt.Sprintf("node %s reported in", node.Name),
			Metadata:  map[string]string{"from": string(out.Previous)},
		})
	}

	// The heartbeat is already committed; tasks stay pending for the next one
	tasks, err := i.store.TakePendingTasks(ctx, nodeID, receivedAt)
	if err != nil {
		i.logger.Warn().Err(err).Str("node_id", nodeID).Msg("Failed to load pending tasks")
		tasks = nil
	}
	for _, task := range tasks {
		i.logger.Debug().
			Str("node_id", nodeID).
			Str("task_id", task.ID).
			Str("kind", string(task.Kind)).
			Msg("Task delivered")

		i.publish(&events.Event{
			ID:        uuid.New().String(),
			Type:      events.EventTaskDelivered,
			NodeID:    nodeID,
			Timestamp: receivedAt,
			Metadata:  map[string]string{"task_id": task.ID, "kind": string(task.Kind)},
		})
	}
	metrics.TasksDelivered.Add(float64(len(tasks)))

	if tasks == nil {
		tasks = []*types.Task{}
	}
	return &Ack{Status: "ok", NodeStatus: node.Status, Tasks: tasks}, nil
}

func (i *Ingester) publish(event *events.Event) {
	if i.publisher != nil {
		i.publisher.Publish(event)
	}
}

// Validate checks a report's tags and the relations the tags cannot express
func Validate(report *types.HeartbeatReport) error {
	if report == nil {
		return validation.Errorf("heartbeat body is required")
	}
	if err := validation.Struct(report); err != nil {
		return err
	}

	var errs []error
	if *report.Memory.Used > *report.Memory.Total {
		errs = append(errs, validation.Errorf("memory.used must not exceed memory.total"))
	}
	for idx, d := range report.Disk {
		if *d.Used > *d.Total {
			errs = append(errs, validation.Errorf("disk[%d].used must not exceed disk[%d].total", idx, idx))
		}
	}
	return errors.Join(errs...)
}
