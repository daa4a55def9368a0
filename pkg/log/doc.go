/*
Package log provides structured logging for warden using zerolog.

A single global Logger is configured once at startup through Init. Components
derive child loggers that carry their name so that every line can be filtered
by subsystem:

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Logging.Level),
		JSONOutput: cfg.Logging.Format == "json",
		Service:    "warden",
	})

	logger := log.WithComponent("heartbeat")
	logger.Info().
		Str("node_id", node.ID).
		Str("status", string(node.Status)).
		Msg("Heartbeat accepted")

# Output

JSON output is meant for production and log shippers:

	{"level":"info","service":"warden","component":"heartbeat","node_id":"4f1c...","time":"2024-05-01T12:00:00Z","message":"Heartbeat accepted"}

Console output is meant for a terminal:

	2024-05-01T12:00:00Z INF Heartbeat accepted component=heartbeat node_id=4f1c...

# Fields

The following field names are used consistently across packages:

  - service: binary name set through Config.Service
  - component: subsystem name (registry, heartbeat, reconciler, api, daemon)
  - node_id: node the line refers to
  - task_id: queued task the line refers to
  - error: attached through Err()

API keys and JWTs are never logged.
*/
package log
