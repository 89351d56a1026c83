// Package ports hands out host ports for sequencer instances.
//
// Candidates are sampled uniformly from a configured range and rejected when
// they are registered, leased by an in-flight start, or (optionally) already
// bound on the host. Leases only guard against races inside this process; the
// registry's unique index on the proxied port is what makes allocation safe
// across processes.
package ports

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
)

// ErrExhausted is returned when no free port was found within the attempt budget
var ErrExhausted = errors.New("no free port available")

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=allocator.go Source

// Source reports the ports already claimed by registered instances
type Source interface {
	PortsInUse(ctx context.Context) (map[int]struct{}, error)
}

// Allocator picks unused ports from [min, max]
type Allocator struct {
	source      Source
	min, max    int
	maxAttempts int
	probeHost   string
	probe       bool
	randIntN    func(n int) int

	mu     sync.Mutex
	leased map[int]struct{}
	// releases counts Lease.Release calls; a released port may have been
	// registered after the caller's snapshot of ports in use was taken
	releases uint64
}

// Option configures an Allocator
type Option func(*Allocator) error

// WithRange sets the inclusive port range
func WithRange(lo, hi int) Option {
	return func(a *Allocator) error {
		if lo < 1 || hi > 65535 || lo > hi {
			return fmt.Errorf("invalid port range [%d, %d]", lo, hi)
		}
		a.min, a.max = lo, hi
		return nil
	}
}

// WithMaxAttempts bounds how many candidates one allocation samples
func WithMaxAttempts(n int) Option {
	return func(a *Allocator) error {
		if n < 1 {
			return fmt.Errorf("max attempts must be positive, got %d", n)
		}
		a.maxAttempts = n
		return nil
	}
}

// WithHostProbe rejects candidates that cannot be bound on host
func WithHostProbe(host string) Option {
	return func(a *Allocator) error {
		if net.ParseIP(host) == nil {
			return fmt.Errorf("invalid probe host %q", host)
		}
		a.probeHost = host
		a.probe = true
		return nil
	}
}

// WithRand overrides the candidate generator; f must return a value in [0, n)
func WithRand(f func(n int) int) Option {
	return func(a *Allocator) error {
		if f == nil {
			return fmt.Errorf("rand function cannot be nil")
		}
		a.randIntN = f
		return nil
	}
}

// NewAllocator creates an Allocator backed by source
func NewAllocator(source Source, opts ...Option) (*Allocator, error) {
	if source == nil {
		return nil, fmt.Errorf("port source is required")
	}

	a := &Allocator{
		source:      source,
		min:         10001,
		max:         64999,
		maxAttempts: 64,
		randIntN:    rand.IntN,
		leased:      map[int]struct{}{},
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Lease is a port reserved for one in-flight start
type Lease struct {
	Port     int
	Attempts int

	once  sync.Once
	owner *Allocator
}

// Release returns the port to the pool. Safe to call more than once.
func (l *Lease) Release() {
	if l == nil || l.owner == nil {
		return
	}
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.leased, l.Port)
		l.owner.releases++
		l.owner.mu.Unlock()
	})
}

// Allocate reserves a port that is neither registered nor leased.
// The caller must Release the lease once the port is registered or the start
// has been abandoned.
func (a *Allocator) Allocate(ctx context.Context) (*Lease, error) {
	gen := a.generation()
	inUse, err := a.source.PortsInUse(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read registered ports: %w", err)
	}

	span := a.max - a.min + 1
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		port := a.min + a.randIntN(span)
		if _, taken := inUse[port]; taken {
			continue
		}
		ok, current := a.tryLease(port)
		if !ok {
			continue
		}
		if current != gen {
			// A start registered its port and dropped its lease after the
			// snapshot was read, so the snapshot may miss that port.
			gen = current
			inUse, err = a.source.PortsInUse(ctx)
			if err != nil {
				a.release(port)
				return nil, fmt.Errorf("failed to read registered ports: %w", err)
			}
			if _, taken := inUse[port]; taken {
				a.release(port)
				continue
			}
		}
		if a.probe && !a.bindable(port) {
			a.release(port)
			continue
		}
		return &Lease{Port: port, Attempts: attempt, owner: a}, nil
	}

	return nil, fmt.Errorf("%w after %d attempts in [%d, %d]", ErrExhausted, a.maxAttempts, a.min, a.max)
}

// MaxAttempts returns the per-allocation sampling budget
func (a *Allocator) MaxAttempts() int {
	return a.maxAttempts
}

// Leased returns the number of outstanding leases
func (a *Allocator) Leased() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.leased)
}

func (a *Allocator) generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releases
}

// tryLease reserves port and reports the release generation observed while
// holding the lock
func (a *Allocator) tryLease(port int) (bool, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.leased[port]; ok {
		return false, a.releases
	}
	a.leased[port] = struct{}{}
	return true, a.releases
}

func (a *Allocator) release(port int) {
	a.mu.Lock()
	delete(a.leased, port)
	a.mu.Unlock()
}

func (a *Allocator) bindable(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort(a.probeHost, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
