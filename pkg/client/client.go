package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/api"
	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/heartbeat"
	"github.com/cuemby/warden/pkg/manager"
	"github.com/cuemby/warden/pkg/types"
)

// DefaultTimeout bounds every request made by a Client
const DefaultTimeout = 10 * time.Second

// Client talks to the Warden HTTP API
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithToken sets the operator bearer token sent on /v1 routes
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the API at baseURL, e.g. http://127.0.0.1:8080
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Error is a non-2xx response from the API. It unwraps to the errdefs
// sentinel matching Code, so errdefs.IsNotFound and friends work on it.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.Status)
}

func (e *Error) Unwrap() error {
	switch e.Code {
	case api.CodeNotFound:
		return errdefs.ErrNotFound
	case api.CodeUnauthorized:
		return errdefs.ErrUnauthorized
	case api.CodeInvalidPayload:
		return errdefs.ErrInvalidPayload
	case api.CodeConflict:
		return errdefs.ErrConflict
	case api.CodeUnavailable:
		return errdefs.ErrUnavailable
	}
	return nil
}

// Node operations

// CreateNode registers a node. The returned API key is not retrievable later.
func (c *Client) CreateNode(ctx context.Context, spec types.NodeSpec) (*api.RegistrationResponse, error) {
	var out api.RegistrationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/nodes", spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListNodes lists nodes, optionally only those whose effective health is health
func (c *Client) ListNodes(ctx context.Context, health types.NodeStatus) ([]api.NodeView, error) {
	path := "/v1/nodes"
	if health != "" {
		path += "?health=" + url.QueryEscape(string(health))
	}
	var out []api.NodeView
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetNode(ctx context.Context, id string) (*api.NodeView, error) {
	var out api.NodeView
	if err := c.do(ctx, http.MethodGet, nodePath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status types.NodeStatus) (*api.NodeView, error) {
	var out api.NodeView
	req := api.StatusRequest{Status: string(status)}
	if err := c.do(ctx, http.MethodPut, nodePath(id)+"/status", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteNode decommissions a node
func (c *Client) DeleteNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, nodePath(id), nil, nil)
}

func (c *Client) EnterMaintenance(ctx context.Context, id string) (*api.NodeView, error) {
	var out api.NodeView
	if err := c.do(ctx, http.MethodPost, nodePath(id)+"/maintenance", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ExitMaintenance(ctx context.Context, id string, target types.NodeStatus) (*api.NodeView, error) {
	path := nodePath(id) + "/maintenance"
	if target != "" {
		path += "?target=" + url.QueryEscape(string(target))
	}
	var out api.NodeView
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Task operations

func (c *Client) QueueTask(ctx context.Context, id string, kind types.TaskKind, payload map[string]string) (*types.Task, error) {
	var out types.Task
	req := api.TaskRequest{Kind: kind, Payload: payload}
	if err := c.do(ctx, http.MethodPost, nodePath(id)+"/tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AssignServer(ctx context.Context, id, serverID string) (*types.Task, error) {
	var out types.Task
	if err := c.do(ctx, http.MethodPost, nodePath(id)+"/assign", api.AssignRequest{ServerID: serverID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTasks(ctx context.Context, id string) ([]*types.Task, error) {
	var out []*types.Task
	if err := c.do(ctx, http.MethodGet, nodePath(id)+"/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Fleet and cluster

func (c *Client) FleetSummary(ctx context.Context) (*types.FleetSummary, error) {
	var out types.FleetSummary
	if err := c.do(ctx, http.MethodGet, "/v1/fleet/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ClusterStats(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := c.do(ctx, http.MethodGet, "/v1/cluster", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateJoinToken asks the leader for a single-use manager join token.
// A zero ttl uses the server default.
func (c *Client) CreateJoinToken(ctx context.Context, ttl time.Duration) (*manager.JoinToken, error) {
	var req api.TokenRequest
	if ttl > 0 {
		req.TTL = ttl.String()
	}
	var out manager.JoinToken
	if err := c.do(ctx, http.MethodPost, "/v1/cluster/tokens", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JoinCluster asks the leader at this client's URL to add a voter
func (c *Client) JoinCluster(ctx context.Context, nodeID, address, token string) error {
	req := api.JoinRequest{NodeID: nodeID, Address: address, Token: token}
	return c.do(ctx, http.MethodPost, "/cluster/v1/join", req, nil)
}

// Daemon

// Heartbeat posts a report on behalf of nodeID, authenticating with apiKey
func (c *Client) Heartbeat(ctx context.Context, nodeID, apiKey string, report *types.HeartbeatReport) (*heartbeat.Ack, error) {
	var out heartbeat.Ack
	headers := map[string]string{
		api.HeaderNodeID: nodeID,
		"Authorization":  "Bearer " + apiKey,
	}
	if err := c.send(ctx, http.MethodPost, "/daemon/v1/heartbeat", report, &out, headers); err != nil {
		return nil, err
	}
	return &out, nil
}

func nodePath(id string) string {
	return "/v1/nodes/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var headers map[string]string
	if c.token != "" {
		headers = map[string]string{"Authorization": "Bearer " + c.token}
	}
	return c.send(ctx, method, path, in, out, headers)
}

func (c *Client) send(ctx context.Context, method, path string, in, out any, headers map[string]string) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var body api.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Code == "" {
		return &Error{Status: status, Code: http.StatusText(status), Message: strings.TrimSpace(string(data))}
	}
	return &Error{Status: status, Code: body.Error.Code, Message: body.Error.Message}
}
