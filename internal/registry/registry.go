// Package registry is the system of record for tenants and the sequencer
// instances they own.
package registry

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTenantNotFound is returned when no tenant has the given API key
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrTenantExists is returned when a tenant with the same API key already exists
	ErrTenantExists = errors.New("tenant already exists")
	// ErrTenantInUse is returned when deleting a tenant that still owns instances
	ErrTenantInUse = errors.New("tenant still owns instances")
	// ErrInstanceNotFound is returned when no instance has the given name
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrNameTaken is returned when an instance name is already registered
	ErrNameTaken = errors.New("instance name already registered")
	// ErrPortTaken is returned when a proxied port is already registered
	ErrPortTaken = errors.New("proxied port already registered")
)

// Tenant is a principal identified by a static API key
type Tenant struct {
	Name      string
	APIKey    string
	CreatedAt time.Time
}

// Instance is a running sequencer container owned by a tenant
type Instance struct {
	Name        string
	ContainerID string
	OwnerAPIKey string
	ProxiedPort int
	// BlockTime is the block interval in milliseconds, nil for on-demand mining
	BlockTime *uint64
	NoMining  bool
	CreatedAt time.Time
}

// OwnedBy reports whether apiKey owns the instance.
// The comparison runs in constant time.
func (i *Instance) OwnedBy(apiKey string) bool {
	return subtle.ConstantTimeCompare([]byte(i.OwnerAPIKey), []byte(apiKey)) == 1
}

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=registry.go Store

// Store persists tenants and instances
type Store interface {
	// CheckReadiness verifies the backing database is reachable
	CheckReadiness(ctx context.Context) error

	// CreateTenant registers a tenant. A random API key is generated when apiKey is empty.
	CreateTenant(ctx context.Context, name, apiKey string) (*Tenant, error)

	// TenantByAPIKey returns the tenant owning apiKey or ErrTenantNotFound
	TenantByAPIKey(ctx context.Context, apiKey string) (*Tenant, error)

	// ListTenants returns all tenants ordered by name
	ListTenants(ctx context.Context) ([]*Tenant, error)

	// DeleteTenant removes a tenant. Tenants owning instances cannot be removed.
	DeleteTenant(ctx context.Context, apiKey string) error

	// CreateInstance registers inst. Fails with ErrNameTaken or ErrPortTaken
	// when either unique key collides.
	CreateInstance(ctx context.Context, inst *Instance) error

	// GetInstance returns the instance called name or ErrInstanceNotFound
	GetInstance(ctx context.Context, name string) (*Instance, error)

	// ListInstances returns instances ordered by creation time.
	// An empty ownerAPIKey lists every instance.
	ListInstances(ctx context.Context, ownerAPIKey string) ([]*Instance, error)

	// DeleteInstance removes the row for name only if it still references
	// containerID, and reports whether a row was removed
	DeleteInstance(ctx context.Context, name, containerID string) (bool, error)

	// PortsInUse returns every registered proxied port
	PortsInUse(ctx context.Context) (map[int]struct{}, error)
}

// NewInstanceName returns a fresh 12 character lowercase hex instance name
func NewInstanceName() string {
	id := uuid.NewString()
	return id[strings.LastIndexByte(id, '-')+1:]
}

// NewAPIKey returns a random API key
func NewAPIKey() string {
	return "seqci_" + strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
}
