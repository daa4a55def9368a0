package api

import (
	"encoding/json"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/heartbeat"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/validation"
	"github.com/gofiber/fiber/v2"
)

// HeaderNodeID carries the node identifier on daemon requests
const HeaderNodeID = "X-Node-ID"

func (s *Server) heartbeat(c *fiber.Ctx) error {
	nodeID := c.Get(HeaderNodeID)
	apiKey := bearerToken(c)
	if nodeID == "" || apiKey == "" {
		metrics.HeartbeatsTotal.WithLabelValues(heartbeat.ResultUnauthorized).Inc()
		return errdefs.ErrUnauthorized
	}

	// Keyed on the source address only: X-Node-ID is unauthenticated here
	if !s.limiter.Allow(c.IP()) {
		metrics.HeartbeatsTotal.WithLabelValues("rate_limited").Inc()
		return errRateLimited
	}

	var report types.HeartbeatReport
	if err := json.Unmarshal(c.Body(), &report); err != nil {
		metrics.HeartbeatsTotal.WithLabelValues(heartbeat.ResultInvalid).Inc()
		return validation.Errorf("malformed heartbeat body")
	}

	ack, err := s.deps.Ingester.Ingest(c.UserContext(), nodeID, apiKey, &report)
	if err != nil {
		return err
	}
	return c.JSON(ack)
}
