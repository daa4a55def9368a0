/*
Package events distributes fleet lifecycle events inside the control plane
and optionally forwards them to an external message broker.

# Architecture

	┌──────────────┐   Publish    ┌────────┐   Subscriber chans   ┌───────────┐
	│ registry     │─────────────▶│ Broker │─────────────────────▶│ Forwarder │
	│ heartbeat    │  (non-block) └────────┘                      └─────┬─────┘
	│ reconciler   │                                                    │ JSON
	│ dispatcher   │                                     ┌──────────────┼──────────────┐
	└──────────────┘                                     ▼              ▼              ▼
	                                                NATSSink       RedisSink      KafkaSink
	                                              subject          XADD stream    topic =
	                                              <prefix>.<type>  field subject  subject

# Event Types

  - node.created: a node was registered
  - node.online: a node reported for the first time or recovered from a sweep
  - node.status_changed: an operator changed the stored status
  - node.offline: the reconciliation sweep marked a node OFFLINE
  - node.deleted: a node was decommissioned
  - task.queued: a task was queued for a node
  - task.delivered: a task was handed to the daemon in a heartbeat response

# Delivery

Publish never blocks the caller. The heartbeat path publishes from inside a
request, so a full queue drops the event (see Broker.Dropped) instead of
slowing down ingestion. Subscribers with full buffers are skipped.

Forwarding is best effort. A failed sink publish is logged and the event is
not retried; consumers needing completeness should reconcile against the
API.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sink, err := events.NewSink(cfg.Events)
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
		go events.NewForwarder(broker, sink, cfg.Events.SubjectPrefix).Run(ctx)
	}
*/
package events
