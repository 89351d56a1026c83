// Package engine abstracts the container runtime that hosts sequencer instances.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// ManagedByLabel marks containers created by this service
	ManagedByLabel = "seqci.managed-by"

	// ManagedByValue is the value of ManagedByLabel on managed containers
	ManagedByValue = "seqci-proxy"

	// PortLabel records the host port a managed container was bound to
	PortLabel = "seqci.port"
)

var (
	// ErrContainerNotFound is returned when the engine has no container with the given id
	ErrContainerNotFound = errors.New("container not found")

	// ErrInvalidTail is returned by ParseTail for anything but a non-negative integer or "all"
	ErrInvalidTail = errors.New("invalid log tail")
)

// ContainerSpec describes a sequencer container to create
type ContainerSpec struct {
	// Port is bound on the host and passed to the sequencer as its listen port
	Port int
	// BlockTime is the block interval in milliseconds, nil to mine on demand
	BlockTime *uint64
	NoMining  bool
	Labels    map[string]string
}

// ContainerState is a point-in-time view of a container
type ContainerState struct {
	ID      string
	Running bool
	// Status is the engine's state string (created, running, exited, dead...)
	Status  string
	Created time.Time
	Labels  map[string]string
}

// Gone reports whether the container has terminated and will not serve traffic again
func (s *ContainerState) Gone() bool {
	switch s.Status {
	case "exited", "dead", "removing":
		return true
	}
	return false
}

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks -source=engine.go Engine

// Engine creates, starts, inspects and removes sequencer containers
type Engine interface {
	// Ping checks that the engine is reachable
	Ping(ctx context.Context) error

	// Create creates (but does not start) a container and returns its id
	Create(ctx context.Context, spec ContainerSpec) (string, error)

	// Start starts a created container
	Start(ctx context.Context, id string) error

	// Remove stops and deletes a container. A container that is already gone is not an error.
	Remove(ctx context.Context, id string) error

	// Inspect returns the container state or ErrContainerNotFound
	Inspect(ctx context.Context, id string) (*ContainerState, error)

	// Logs streams the last lines of combined stdout and stderr.
	// Returns ErrContainerNotFound when the container is gone.
	Logs(ctx context.Context, id string, tail Tail) (io.ReadCloser, error)

	// ListManaged returns every container carrying ManagedByLabel, running or not
	ListManaged(ctx context.Context) ([]ContainerState, error)

	// Close releases the engine client
	Close() error
}

// Tail selects how many trailing log lines to return
type Tail struct {
	all   bool
	lines int
}

// TailAll returns every log line
func TailAll() Tail {
	return Tail{all: true}
}

// TailLines returns the last n log lines
func TailLines(n int) Tail {
	if n < 0 {
		n = 0
	}
	return Tail{lines: n}
}

// All reports whether the whole log is requested
func (t Tail) All() bool {
	return t.all
}

// Lines returns the requested line count. Meaningless when All is true.
func (t Tail) Lines() int {
	return t.lines
}

// String renders the tail the way the docker API expects it
func (t Tail) String() string {
	if t.all {
		return "all"
	}
	return strconv.Itoa(t.lines)
}

// ParseTail parses a user supplied tail value. An empty string yields def lines.
func ParseTail(s string, def int) (Tail, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TailLines(def), nil
	}
	if strings.EqualFold(s, "all") {
		return TailAll(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return Tail{}, fmt.Errorf("%w: %q must be a non-negative integer or \"all\"", ErrInvalidTail, s)
	}
	return TailLines(n), nil
}

// WaitReady pings e until it answers or maxWait elapses
func WaitReady(ctx context.Context, e Engine, maxWait time.Duration) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, e.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Container engine not ready, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return fmt.Errorf("container engine not reachable: %w", err)
	}
	return nil
}
