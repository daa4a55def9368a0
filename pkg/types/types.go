package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
)

// Node represents a host running the warden daemon
type Node struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	IPAddress  string   `json:"ip_address"`
	PublicFQDN string   `json:"public_fqdn,omitempty"`
	TotalRAM   int      `json:"total_ram_mb"` // MB
	TotalCPU   int      `json:"total_cpu"`    // cores
	DiskType   DiskType `json:"disk_type"`

	// salt || keyed hash of the API key, hex encoded
	APIKeyHash string `json:"api_key_hash"`

	Status NodeStatus `json:"status"`
	// AutoOffline is set when OFFLINE was written by the sweep and not by an operator
	AutoOffline bool `json:"auto_offline,omitempty"`

	LastHeartbeat *time.Time        `json:"last_heartbeat,omitempty"`
	LastReport    *ResourceSnapshot `json:"last_report,omitempty"`
	DaemonVersion string            `json:"daemon_version,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NodeStatus is the persisted lifecycle state of a node
type NodeStatus string

const (
	NodeStatusProvisioning NodeStatus = "PROVISIONING"
	NodeStatusOnline       NodeStatus = "ONLINE"
	NodeStatusOffline      NodeStatus = "OFFLINE"
	NodeStatusMaintenance  NodeStatus = "MAINTENANCE"
)

// Valid reports whether s is one of the known statuses
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusProvisioning, NodeStatusOnline, NodeStatusOffline, NodeStatusMaintenance:
		return true
	}
	return false
}

// ParseNodeStatus accepts a status name in any case
func ParseNodeStatus(s string) (NodeStatus, error) {
	status := NodeStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown node status %q: %w", s, errdefs.ErrInvalidPayload)
	}
	return status, nil
}

// DiskType is the class of primary storage on a node
type DiskType string

const (
	DiskTypeNVME DiskType = "NVME"
	DiskTypeSSD  DiskType = "SSD"
	DiskTypeHDD  DiskType = "HDD"
)

// ParseDiskType accepts a disk type name in any case
func ParseDiskType(s string) (DiskType, error) {
	switch d := DiskType(strings.ToUpper(strings.TrimSpace(s))); d {
	case DiskTypeNVME, DiskTypeSSD, DiskTypeHDD:
		return d, nil
	}
	return "", fmt.Errorf("unknown disk type %q: %w", s, errdefs.ErrInvalidPayload)
}

// NodeSpec is the operator input for registering a node
type NodeSpec struct {
	Name       string   `json:"name" yaml:"name" validate:"required,max=64"`
	IPAddress  string   `json:"ip_address" yaml:"ip_address" validate:"required,ip"`
	PublicFQDN string   `json:"public_fqdn,omitempty" yaml:"public_fqdn,omitempty" validate:"omitempty,fqdn"`
	TotalRAM   int      `json:"total_ram_mb" yaml:"total_ram_mb" validate:"gte=1"`
	TotalCPU   int      `json:"total_cpu" yaml:"total_cpu" validate:"gte=1"`
	DiskType   DiskType `json:"disk_type" yaml:"disk_type" validate:"required,oneof=NVME SSD HDD"`
}

// ResourceSnapshot is the telemetry retained from the latest accepted heartbeat
type ResourceSnapshot struct {
	CPUPercent     float64       `json:"cpu"`
	Memory         MemoryUsage   `json:"memory"`
	Disks          []DiskUsage   `json:"disk"`
	Network        NetworkTotals `json:"network"`
	ContainerCount int           `json:"container_count"`
}

type MemoryUsage struct {
	Used    int64   `json:"used"`
	Total   int64   `json:"total"`
	Percent float64 `json:"percent"`
}

type DiskUsage struct {
	Mount   string  `json:"mount"`
	Used    int64   `json:"used"`
	Total   int64   `json:"total"`
	Percent float64 `json:"percent"`
}

type NetworkTotals struct {
	In  int64 `json:"in"`
	Out int64 `json:"out"`
}

// HeartbeatReport is the payload a daemon posts. Numeric fields are pointers
// so that a missing field can be told apart from a zero value.
type HeartbeatReport struct {
	CPU            *float64       `json:"cpu" validate:"required,gte=0,lte=100"`
	Memory         *MemoryReport  `json:"memory" validate:"required"`
	Disk           []DiskReport   `json:"disk" validate:"required,min=1,dive"`
	Network        *NetworkReport `json:"network" validate:"required"`
	ContainerCount *int           `json:"containerCount" validate:"required,gte=0"`
	DaemonVersion  string         `json:"daemonVersion" validate:"required,max=64"`
}

type MemoryReport struct {
	Used    *int64   `json:"used" validate:"required,gte=0"`
	Total   *int64   `json:"total" validate:"required,gt=0"`
	Percent *float64 `json:"percent" validate:"required,gte=0,lte=100"`
}

type DiskReport struct {
	Mount   string   `json:"mount" validate:"required"`
	Used    *int64   `json:"used" validate:"required,gte=0"`
	Total   *int64   `json:"total" validate:"required,gte=0"`
	Percent *float64 `json:"percent" validate:"required,gte=0,lte=100"`
}

type NetworkReport struct {
	In  *int64 `json:"in" validate:"required,gte=0"`
	Out *int64 `json:"out" validate:"required,gte=0"`
}

// Snapshot converts a validated report into its stored form.
// Callers must validate the report first; nil fields read as zero.
func (r *HeartbeatReport) Snapshot() *ResourceSnapshot {
	snap := &ResourceSnapshot{
		CPUPercent:     deref(r.CPU),
		ContainerCount: deref(r.ContainerCount),
	}
	if r.Memory != nil {
		snap.Memory = MemoryUsage{
			Used:    deref(r.Memory.Used),
			Total:   deref(r.Memory.Total),
			Percent: deref(r.Memory.Percent),
		}
	}
	if r.Network != nil {
		snap.Network = NetworkTotals{In: deref(r.Network.In), Out: deref(r.Network.Out)}
	}
	snap.Disks = make([]DiskUsage, 0, len(r.Disk))
	for _, d := range r.Disk {
		snap.Disks = append(snap.Disks, DiskUsage{
			Mount:   d.Mount,
			Used:    deref(d.Used),
			Total:   deref(d.Total),
			Percent: deref(d.Percent),
		})
	}
	return snap
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// TaskKind names an operator instruction delivered to a daemon
type TaskKind string

const (
	TaskKindAssignServer    TaskKind = "assign_server"
	TaskKindUnassignServer  TaskKind = "unassign_server"
	TaskKindReinstallDaemon TaskKind = "reinstall_daemon"
)

// Valid reports whether k is a known task kind
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindAssignServer, TaskKindUnassignServer, TaskKindReinstallDaemon:
		return true
	}
	return false
}

// Task is an instruction queued for a node, handed out on its next heartbeat
type Task struct {
	ID          string            `json:"id"`
	NodeID      string            `json:"node_id"`
	Kind        TaskKind          `json:"kind"`
	Payload     map[string]string `json:"payload,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
}

// Pending reports whether the task has not been handed to the daemon yet
func (t *Task) Pending() bool {
	return t.DeliveredAt == nil
}

// FleetSummary is the aggregate view of the registry at a point in time
type FleetSummary struct {
	Total        int       `json:"total"`
	Online       int       `json:"online"`
	Offline      int       `json:"offline"`
	Maintenance  int       `json:"maintenance"`
	Provisioning int       `json:"provisioning"`
	Stale        int       `json:"stale"`
	TotalCPU     int       `json:"totalCpu"`
	TotalRAMGB   float64   `json:"totalRamGb"`
	HealthScore  int       `json:"healthScore"`
	GeneratedAt  time.Time `json:"generatedAt"`
}
