package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry is the authoritative view of registered nodes and their
// credentials
type Registry struct {
	store     storage.Store
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// Registration is returned once, at creation; APIKey is never stored
type Registration struct {
	Node   *types.Node `json:"node"`
	APIKey string      `json:"api_key"`
}

// Option configures a Registry
type Option func(*Registry)

// WithPublisher publishes lifecycle events to p
func WithPublisher(p events.Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry over store
func New(store storage.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		logger: log.WithComponent("registry"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying store
func (r *Registry) Store() storage.Store {
	return r.store
}

// NormalizeSpec trims strings and upper-cases the disk type
func NormalizeSpec(spec types.NodeSpec) types.NodeSpec {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.IPAddress = strings.TrimSpace(spec.IPAddress)
	spec.PublicFQDN = strings.TrimSpace(spec.PublicFQDN)
	spec.DiskType = types.DiskType(strings.ToUpper(strings.TrimSpace(string(spec.DiskType))))
	return spec
}

// CreateNode registers a node in PROVISIONING and returns its API key
func (r *Registry) CreateNode(ctx context.Context, spec types.NodeSpec) (*Registration, error) {
	spec = NormalizeSpec(spec)
	if err := validation.Struct(spec); err != nil {
		return nil, err
	}

	key, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	hash, err := HashAPIKey(key)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	node := &types.Node{
		ID:         uuid.New().String(),
		Name:       spec.Name,
		IPAddress:  spec.IPAddress,
		PublicFQDN: spec.PublicFQDN,
		TotalRAM:   spec.TotalRAM,
		TotalCPU:   spec.TotalCPU,
		DiskType:   spec.DiskType,
		APIKeyHash: hash,
		Status:     types.NodeStatusProvisioning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := r.store.CreateNode(ctx, node); err != nil {
		return nil, fmt.Errorf("failed to create node %s: %w", spec.Name, err)
	}

	r.logger.Info().
		Str("node_id", node.ID).
		Str("name", node.Name).
		Str("ip_address", node.IPAddress).
		Msg("Node registered")

	r.publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    events.EventNodeCreated,
		NodeID:  node.ID,
		Message: fmt.Sprintf("node %s registered", node.Name),
	})

	return &Registration{Node: node, APIKey: key}, nil
}

// GetNode returns a node by ID
func (r *Registry) GetNode(ctx context.Context, id string) (*types.Node, error) {
	return r.store.GetNode(ctx, id)
}

// ListNodes returns every registered node
func (r *Registry) ListNodes(ctx context.Context) ([]*types.Node, error) {
	return r.store.ListNodes(ctx)
}

// Authenticate checks a daemon's credentials. Unknown nodes and wrong keys
// both yield ErrUnauthorized.
func (r *Registry) Authenticate(ctx context.Context, nodeID, apiKey string) (*types.Node, error) {
	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			VerifyAPIKey(dummyHash, apiKey)
			return nil, errdefs.ErrUnauthorized
		}
		return nil, err
	}
	if apiKey == "" || !VerifyAPIKey(node.APIKeyHash, apiKey) {
		return nil, errdefs.ErrUnauthorized
	}
	return node, nil
}

// UpdateStatus applies an operator status change
func (r *Registry) UpdateStatus(ctx context.Context, id string, status types.NodeStatus) (*types.Node, error) {
	prev, err := r.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}

	node, err := r.store.SetNodeStatus(ctx, id, status, r.now().UTC())
	if err != nil {
		return nil, err
	}

	if node.Status != prev.Status {
		r.logger.Info().
			Str("node_id", id).
			Str("from", string(prev.Status)).
			Str("to", string(node.Status)).
			Msg("Node status changed")

		r.publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     events.EventNodeStatusChanged,
			NodeID:   id,
			Message:  fmt.Sprintf("node %s is now %s", node.Name, node.Status),
			Metadata: map[string]string{"from": string(prev.Status), "to": string(node.Status)},
		})
	}
	return node, nil
}

// Delete removes a node and its tasks. The node's API key stops working
// immediately because the hash is gone with the record.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteNode(ctx, id); err != nil {
		return err
	}

	r.logger.Info().Str("node_id", id).Msg("Node deleted")
	r.publish(&events.Event{
		ID:     uuid.New().String(),
		Type:   events.EventNodeDeleted,
		NodeID: id,
	})
	return nil
}

func (r *Registry) publish(event *events.Event) {
	if r.publisher != nil {
		r.publisher.Publish(event)
	}
}
