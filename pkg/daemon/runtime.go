package daemon

import (
	"context"
	"fmt"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"
	"github.com/cuemby/warden/pkg/config"
	dockertypes "github.com/docker/docker/api/types"
	docker "github.com/docker/docker/client"
)

const (
	// DefaultContainerdNamespace is where game-server containers live
	DefaultContainerdNamespace = "default"

	// DefaultContainerdSocket is the default containerd socket
	DefaultContainerdSocket = "/run/containerd/containerd.sock"
)

// ContainerCounter reports how many containers run on the host
type ContainerCounter interface {
	CountContainers(ctx context.Context) (int, error)
	Close() error
}

// NewContainerCounter returns the counter selected by cfg.Runtime, or nil
// for "none"
func NewContainerCounter(cfg config.DaemonConfig) (ContainerCounter, error) {
	switch cfg.Runtime {
	case "", "none":
		return nil, nil
	case "containerd":
		c, err := NewContainerdCounter(cfg.ContainerdSocket, cfg.ContainerdNamespace)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "docker":
		c, err := NewDockerCounter()
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown container runtime %q", cfg.Runtime)
}

// ContainerdCounter counts containers in one containerd namespace
type ContainerdCounter struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdCounter connects to containerd on socketPath
func NewContainerdCounter(socketPath, namespace string) (*ContainerdCounter, error) {
	if socketPath == "" {
		socketPath = DefaultContainerdSocket
	}
	if namespace == "" {
		namespace = DefaultContainerdNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdCounter{
		client:    client,
		namespace: namespace,
	}, nil
}

func (r *ContainerdCounter) CountContainers(ctx context.Context) (int, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}
	return len(containers), nil
}

// Close closes the containerd client connection
func (r *ContainerdCounter) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// DockerCounter counts running containers through the Docker API
type DockerCounter struct {
	client *docker.Client
}

// NewDockerCounter connects using DOCKER_HOST and friends
func NewDockerCounter() (*DockerCounter, error) {
	cli, err := docker.NewClientWithOpts(docker.FromEnv, docker.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerCounter{client: cli}, nil
}

func (d *DockerCounter) CountContainers(ctx context.Context) (int, error) {
	containers, err := d.client.ContainerList(ctx, dockertypes.ContainerListOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}
	return len(containers), nil
}

func (d *DockerCounter) Close() error {
	return d.client.Close()
}
