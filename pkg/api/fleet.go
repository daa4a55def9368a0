package api

import (
	"github.com/cuemby/warden/pkg/fleet"
	"github.com/gofiber/fiber/v2"
)

func (s *Server) fleetSummary(c *fiber.Ctx) error {
	nodes, err := s.deps.Registry.ListNodes(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fleet.Summarize(nodes, s.now(), s.deps.Evaluator))
}
