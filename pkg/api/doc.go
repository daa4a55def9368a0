/*
Package api implements the Warden HTTP API on fiber, plus a gRPC health
service for load balancers that speak grpc.health.v1.

# Architecture

	┌──────────── operators / CLI ────────────┐   ┌──────── daemons ────────┐
	│  Authorization: Bearer <JWT>             │   │ X-Node-ID + Bearer key  │
	└───────────────────┬──────────────────────┘   └────────────┬────────────┘
	                    │ /v1/...                                │ /daemon/v1/heartbeat
	┌───────────────────▼────────────────────────────────────────▼────────────┐
	│  fiber app: recover → RequestLogger → Metrics → routes                   │
	│                                                                          │
	│   AdminAuth ──► nodes, tasks, fleet, cluster handlers                    │
	│   HeartbeatLimiter ──► heartbeat.Ingester                                │
	└───────────────────┬──────────────────────────────────────────────────────┘
	                    │
	      registry.Registry · dispatcher.Dispatcher · fleet.Summarize

# Routes

Operator routes (JWT when auth is enabled):

	POST   /v1/nodes                     register, returns the API key once
	GET    /v1/nodes?health=ONLINE       list with effective health
	GET    /v1/nodes/:id
	PUT    /v1/nodes/:id/status          {"status": "MAINTENANCE"}
	DELETE /v1/nodes/:id                 decommission
	POST   /v1/nodes/:id/maintenance
	DELETE /v1/nodes/:id/maintenance?target=ONLINE
	POST   /v1/nodes/:id/tasks           {"kind": ..., "payload": {...}}
	GET    /v1/nodes/:id/tasks
	POST   /v1/nodes/:id/assign          {"server_id": ...}
	GET    /v1/fleet/summary
	GET    /v1/cluster
	POST   /v1/cluster/tokens

Daemon and manager routes:

	POST   /daemon/v1/heartbeat
	POST   /cluster/v1/join              authenticated by a join token

Probes: /health, /ready, /live and /metrics.

# Errors

Every failure is rendered as

	{"error": {"code": "NOT_FOUND", "message": "...", "path": "/v1/nodes/x"}}

Daemon routes only carry the code, so a caller cannot tell an unknown node
from a wrong key. Sentinels from errdefs map to 404, 401, 400, 409 and 503;
a rate-limited heartbeat gets 429.
*/
package api
