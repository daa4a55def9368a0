package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/warden/pkg/log"
	"github.com/rs/zerolog"
)

// Forwarder relays broker events to a Sink as JSON under
// "<prefix>.<event type>"
type Forwarder struct {
	broker  *Broker
	sink    Sink
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewForwarder creates a forwarder; call Run to start relaying
func NewForwarder(broker *Broker, sink Sink, prefix string) *Forwarder {
	if prefix == "" {
		prefix = "warden"
	}
	return &Forwarder{
		broker:  broker,
		sink:    sink,
		prefix:  prefix,
		timeout: 5 * time.Second,
		logger:  log.WithComponent("events"),
	}
}

// Subject returns the sink subject for an event type
func (f *Forwarder) Subject(t EventType) string {
	return f.prefix + "." + string(t)
}

// Run relays events until ctx is cancelled. Delivery is best effort;
// failures are logged and the event is dropped.
func (f *Forwarder) Run(ctx context.Context) {
	sub := f.broker.Subscribe()
	defer f.broker.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			f.forward(ctx, event)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		f.logger.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to encode event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.sink.Publish(pubCtx, f.Subject(event.Type), data); err != nil {
		f.logger.Warn().Err(err).
			Str("type", string(event.Type)).
			Str("node_id", event.NodeID).
			Msg("Failed to forward event")
	}
}
