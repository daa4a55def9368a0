package api

import (
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/validation"
	"github.com/gofiber/fiber/v2"
)

// JoinRequest is sent by a manager asking the leader to add it as a voter
type JoinRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
	Token   string `json:"token"`
}

// TokenRequest is the optional body of POST /v1/cluster/tokens
type TokenRequest struct {
	TTL string `json:"ttl,omitempty"`
}

func (s *Server) requireCluster() error {
	if s.deps.Cluster == nil {
		return fiber.NewError(fiber.StatusNotFound, "cluster mode is not enabled")
	}
	return nil
}

func (s *Server) clusterStatus(c *fiber.Ctx) error {
	if err := s.requireCluster(); err != nil {
		return err
	}
	return c.JSON(s.deps.Cluster.Stats())
}

func (s *Server) clusterToken(c *fiber.Ctx) error {
	if err := s.requireCluster(); err != nil {
		return err
	}

	var req TokenRequest
	if len(c.Body()) > 0 {
		if err := decode(c, &req); err != nil {
			return err
		}
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			return validation.Errorf("ttl must be a positive duration")
		}
		ttl = d
	}

	token, err := s.deps.Cluster.GenerateJoinToken(ttl)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(token)
}

func (s *Server) joinCluster(c *fiber.Ctx) error {
	if err := s.requireCluster(); err != nil {
		return err
	}

	var req JoinRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	req.NodeID = strings.TrimSpace(req.NodeID)
	req.Address = strings.TrimSpace(req.Address)
	if req.NodeID == "" || req.Address == "" {
		return validation.Errorf("node_id and address are required")
	}
	if req.Token == "" {
		return errdefs.ErrUnauthorized
	}

	if err := s.deps.Cluster.Join(req.NodeID, req.Address, req.Token); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
