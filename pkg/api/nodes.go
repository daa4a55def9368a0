package api

import (
	"encoding/json"
	"time"

	"github.com/cuemby/warden/pkg/liveness"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/validation"
	"github.com/gofiber/fiber/v2"
)

// NodeView is a node as returned to operators: the key hash is omitted
// and the derived health is included
type NodeView struct {
	ID              string                  `json:"id"`
	Name            string                  `json:"name"`
	IPAddress       string                  `json:"ip_address"`
	PublicFQDN      string                  `json:"public_fqdn,omitempty"`
	TotalRAM        int                     `json:"total_ram_mb"`
	TotalCPU        int                     `json:"total_cpu"`
	DiskType        types.DiskType          `json:"disk_type"`
	Status          types.NodeStatus        `json:"status"`
	EffectiveHealth types.NodeStatus        `json:"effective_health"`
	Stale           bool                    `json:"stale"`
	AutoOffline     bool                    `json:"auto_offline,omitempty"`
	LastHeartbeat   *time.Time              `json:"last_heartbeat,omitempty"`
	LastReport      *types.ResourceSnapshot `json:"last_report,omitempty"`
	DaemonVersion   string                  `json:"daemon_version,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// NewNodeView derives the operator view of node at now
func NewNodeView(node *types.Node, eval liveness.Evaluator, now time.Time) NodeView {
	return NodeView{
		ID:              node.ID,
		Name:            node.Name,
		IPAddress:       node.IPAddress,
		PublicFQDN:      node.PublicFQDN,
		TotalRAM:        node.TotalRAM,
		TotalCPU:        node.TotalCPU,
		DiskType:        node.DiskType,
		Status:          node.Status,
		EffectiveHealth: eval.EffectiveHealth(node, now),
		Stale:           eval.IsStale(node, now),
		AutoOffline:     node.AutoOffline,
		LastHeartbeat:   node.LastHeartbeat,
		LastReport:      node.LastReport,
		DaemonVersion:   node.DaemonVersion,
		CreatedAt:       node.CreatedAt,
		UpdatedAt:       node.UpdatedAt,
	}
}

// RegistrationResponse is returned once by POST /v1/nodes
type RegistrationResponse struct {
	Node   NodeView `json:"node"`
	APIKey string   `json:"api_key"`
}

// StatusRequest is the body of PUT /v1/nodes/:id/status
type StatusRequest struct {
	Status string `json:"status"`
}

// TaskRequest is the body of POST /v1/nodes/:id/tasks
type TaskRequest struct {
	Kind    types.TaskKind    `json:"kind"`
	Payload map[string]string `json:"payload,omitempty"`
}

// AssignRequest is the body of POST /v1/nodes/:id/assign
type AssignRequest struct {
	ServerID string `json:"server_id"`
}

// decode unmarshals the request body regardless of Content-Type
func decode(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return validation.Errorf("request body is required")
	}
	if err := json.Unmarshal(c.Body(), v); err != nil {
		return validation.Errorf("malformed JSON body: %v", err)
	}
	return nil
}

func (s *Server) view(node *types.Node) NodeView {
	return NewNodeView(node, s.deps.Evaluator, s.now())
}

func (s *Server) createNode(c *fiber.Ctx) error {
	var spec types.NodeSpec
	if err := decode(c, &spec); err != nil {
		return err
	}

	res, err := s.deps.Dispatcher.CreateAndQueueRegistration(c.UserContext(), spec)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(RegistrationResponse{
		Node:   s.view(res.Node),
		APIKey: res.APIKey,
	})
}

func (s *Server) listNodes(c *fiber.Ctx) error {
	nodes, err := s.deps.Registry.ListNodes(c.UserContext())
	if err != nil {
		return err
	}

	var filter types.NodeStatus
	if q := c.Query("health"); q != "" {
		if filter, err = types.ParseNodeStatus(q); err != nil {
			return err
		}
	}

	views := make([]NodeView, 0, len(nodes))
	for _, node := range nodes {
		v := s.view(node)
		if filter != "" && v.EffectiveHealth != filter {
			continue
		}
		views = append(views, v)
	}
	return c.JSON(views)
}

func (s *Server) getNode(c *fiber.Ctx) error {
	node, err := s.deps.Registry.GetNode(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(s.view(node))
}

func (s *Server) updateStatus(c *fiber.Ctx) error {
	var req StatusRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	status, err := types.ParseNodeStatus(req.Status)
	if err != nil {
		return err
	}

	node, err := s.deps.Registry.UpdateStatus(c.UserContext(), c.Params("id"), status)
	if err != nil {
		return err
	}
	return c.JSON(s.view(node))
}

func (s *Server) deleteNode(c *fiber.Ctx) error {
	if err := s.deps.Dispatcher.Decommission(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) enterMaintenance(c *fiber.Ctx) error {
	node, err := s.deps.Dispatcher.EnterMaintenance(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(s.view(node))
}

func (s *Server) exitMaintenance(c *fiber.Ctx) error {
	target, err := types.ParseNodeStatus(c.Query("target", string(types.NodeStatusOnline)))
	if err != nil {
		return err
	}

	node, err := s.deps.Dispatcher.ExitMaintenance(c.UserContext(), c.Params("id"), target)
	if err != nil {
		return err
	}
	return c.JSON(s.view(node))
}

func (s *Server) queueTask(c *fiber.Ctx) error {
	var req TaskRequest
	if err := decode(c, &req); err != nil {
		return err
	}

	task, err := s.deps.Dispatcher.Queue(c.UserContext(), c.Params("id"), req.Kind, req.Payload)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}

func (s *Server) assignServer(c *fiber.Ctx) error {
	var req AssignRequest
	if err := decode(c, &req); err != nil {
		return err
	}

	task, err := s.deps.Dispatcher.AssignServer(c.UserContext(), c.Params("id"), req.ServerID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}

func (s *Server) listTasks(c *fiber.Ctx) error {
	tasks, err := s.deps.Dispatcher.Tasks(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(tasks)
}
