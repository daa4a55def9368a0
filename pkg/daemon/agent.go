package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/heartbeat"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is the heartbeat period when none is configured
const DefaultInterval = 30 * time.Second

// Sender posts a heartbeat; *client.Client implements it
type Sender interface {
	Heartbeat(ctx context.Context, nodeID, apiKey string, report *types.HeartbeatReport) (*heartbeat.Ack, error)
}

// TaskHandler acts on a task delivered with a heartbeat ack
type TaskHandler interface {
	HandleTask(ctx context.Context, task *types.Task) error
}

// TaskHandlerFunc adapts a function to TaskHandler
type TaskHandlerFunc func(ctx context.Context, task *types.Task) error

func (f TaskHandlerFunc) HandleTask(ctx context.Context, task *types.Task) error {
	return f(ctx, task)
}

// AgentConfig identifies the node the agent reports for
type AgentConfig struct {
	NodeID   string
	APIKey   string
	Interval time.Duration
}

// Agent posts heartbeats on a fixed interval and backs off exponentially
// while the API is unreachable
type Agent struct {
	sender    Sender
	collector Collector
	handler   TaskHandler
	cfg       AgentConfig
	logger    zerolog.Logger
	newTimer  func(time.Duration) (<-chan time.Time, func() bool)
}

// AgentOption configures an Agent
type AgentOption func(*Agent)

// WithTaskHandler replaces the default handler, which only logs tasks
func WithTaskHandler(h TaskHandler) AgentOption {
	return func(a *Agent) { a.handler = h }
}

// NewAgent creates an agent
func NewAgent(sender Sender, collector Collector, cfg AgentConfig, opts ...AgentOption) (*Agent, error) {
	if cfg.NodeID == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("node ID and API key are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	a := &Agent{
		sender:    sender,
		collector: collector,
		cfg:       cfg,
		logger:    log.WithComponent("daemon").With().Str("node_id", cfg.NodeID).Logger(),
		newTimer: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
	a.handler = TaskHandlerFunc(a.logTask)
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Run heartbeats until ctx is cancelled
func (a *Agent) Run(ctx context.Context) error {
	b := a.newBackOff()
	a.logger.Info().Dur("interval", a.cfg.Interval).Msg("Daemon agent started")

	for {
		wait := a.cfg.Interval
		if err := a.Beat(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			wait = b.NextBackOff()
			event := a.logger.Warn()
			if errdefs.IsUnauthorized(err) {
				event = a.logger.Error()
			}
			event.Err(err).Dur("retry_in", wait).Msg("Heartbeat failed")
		} else {
			b.Reset()
		}

		c, stop := a.newTimer(wait)
		select {
		case <-c:
		case <-ctx.Done():
			stop()
		}
		if ctx.Err() != nil {
			break
		}
	}

	a.logger.Info().Msg("Daemon agent stopped")
	return nil
}

// Beat collects one report, posts it and hands any delivered tasks to
// the task handler
func (a *Agent) Beat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout())
	defer cancel()

	report, err := a.collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect report: %w", err)
	}

	ack, err := a.sender.Heartbeat(ctx, a.cfg.NodeID, a.cfg.APIKey, report)
	if err != nil {
		return err
	}
	a.logger.Debug().
		Str("node_status", string(ack.NodeStatus)).
		Int("tasks", len(ack.Tasks)).
		Msg("Heartbeat accepted")

	var errs []error
	for _, task := range ack.Tasks {
		if err := a.handler.HandleTask(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", task.ID, err))
		}
	}
	if len(errs) > 0 {
		// tasks are delivered once; a failed handler is logged, not retried
		a.logger.Error().Err(errors.Join(errs...)).Msg("Task handling failed")
	}
	return nil
}

func (a *Agent) requestTimeout() time.Duration {
	if a.cfg.Interval < 10*time.Second {
		return a.cfg.Interval
	}
	return 10 * time.Second
}

func (a *Agent) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	if a.cfg.Interval < b.InitialInterval {
		b.InitialInterval = a.cfg.Interval
	}
	b.MaxInterval = 5 * a.cfg.Interval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (a *Agent) logTask(_ context.Context, task *types.Task) error {
	event := a.logger.Info().
		Str("task_id", task.ID).
		Str("kind", string(task.Kind))
	for k, v := range task.Payload {
		event = event.Str(k, v)
	}
	event.Msg("Task received")
	return nil
}
