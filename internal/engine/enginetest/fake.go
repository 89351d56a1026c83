// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/stacklok/seqci-proxy/internal/engine"
)

// ErrUnavailable is returned by every operation while the fake is marked unavailable
var ErrUnavailable = errors.New("engine unavailable")

// Operation names accepted by FailNext
const (
	OpCreate  = "create"
	OpStart   = "start"
	OpRemove  = "remove"
	OpInspect = "inspect"
	OpLogs    = "logs"
	OpList    = "list"
)

// BootLines is the number of log lines a container emits when it starts
const BootLines = 40

// Fake is a thread-safe in-memory engine
type Fake struct {
	mu          sync.Mutex
	seq         int
	containers  map[string]*fakeContainer
	failures    map[string]error
	unavailable bool

	// OnStart runs after a container is marked running. An error fails the start.
	OnStart func(id string, spec engine.ContainerSpec) error
	// OnRemove runs after a container is removed
	OnRemove func(id string, spec engine.ContainerSpec)
}

type fakeContainer struct {
	state engine.ContainerState
	spec  engine.ContainerSpec
	logs  []string
}

// NewFake returns an empty fake engine
func NewFake() *Fake {
	return &Fake{
		containers: map[string]*fakeContainer{},
		failures:   map[string]error{},
	}
}

// FailNext makes the next call of op return err
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// SetUnavailable makes every operation fail with ErrUnavailable until reset
func (f *Fake) SetUnavailable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = v
}

// Exists reports whether a container with id exists
func (f *Fake) Exists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.containers[id]
	return ok
}

// Count returns the number of containers, running or not
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// Spec returns the spec a container was created with
func (f *Fake) Spec(id string) (engine.ContainerSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return engine.ContainerSpec{}, false
	}
	return c.spec, true
}

// Exit marks a container as exited, as if the process had crashed
func (f *Fake) Exit(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.state.Running = false
		c.state.Status = "exited"
	}
}

// Forget deletes a container behind the service's back
func (f *Fake) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
}

// Adopt registers a managed container that no registry row refers to
func (f *Fake) Adopt(id string, created time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[id] = &fakeContainer{state: engine.ContainerState{
		ID:      id,
		Running: true,
		Status:  "running",
		Created: created,
		Labels:  map[string]string{engine.ManagedByLabel: engine.ManagedByValue},
	}}
}

// AppendLogs adds log lines to a container
func (f *Fake) AppendLogs(id string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.logs = append(c.logs, lines...)
	}
}

// check must be called with mu held
func (f *Fake) check(op string) error {
	if f.unavailable {
		return ErrUnavailable
	}
	if err, ok := f.failures[op]; ok {
		delete(f.failures, op)
		return err
	}
	return nil
}

// Ping implements engine.Engine
func (f *Fake) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return ErrUnavailable
	}
	return nil
}

// Create implements engine.Engine
func (f *Fake) Create(_ context.Context, spec engine.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpCreate); err != nil {
		return "", err
	}

	f.seq++
	id := fmt.Sprintf("fake%08d", f.seq)
	labels := maps.Clone(spec.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	labels[engine.ManagedByLabel] = engine.ManagedByValue
	f.containers[id] = &fakeContainer{
		spec: spec,
		state: engine.ContainerState{
			ID:      id,
			Status:  "created",
			Created: time.Now().UTC(),
			Labels:  labels,
		},
	}
	return id, nil
}

// Start implements engine.Engine
func (f *Fake) Start(_ context.Context, id string) error {
	f.mu.Lock()
	if err := f.check(OpStart); err != nil {
		f.mu.Unlock()
		return err
	}
	c, ok := f.containers[id]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", engine.ErrContainerNotFound, id)
	}
	c.state.Running = true
	c.state.Status = "running"
	for i := 1; i <= BootLines; i++ {
		c.logs = append(c.logs, fmt.Sprintf("port=%d block %d mined", c.spec.Port, i))
	}
	spec := c.spec
	hook := f.OnStart
	f.mu.Unlock()

	if hook != nil {
		return hook(id, spec)
	}
	return nil
}

// Remove implements engine.Engine
func (f *Fake) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	if err := f.check(OpRemove); err != nil {
		f.mu.Unlock()
		return err
	}
	c, ok := f.containers[id]
	delete(f.containers, id)
	hook := f.OnRemove
	f.mu.Unlock()

	if ok && hook != nil {
		hook(id, c.spec)
	}
	return nil
}

// Inspect implements engine.Engine
func (f *Fake) Inspect(_ context.Context, id string) (*engine.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpInspect); err != nil {
		return nil, err
	}
	c, ok := f.containers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrContainerNotFound, id)
	}
	state := c.state
	return &state, nil
}

// Logs implements engine.Engine
func (f *Fake) Logs(_ context.Context, id string, tail engine.Tail) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpLogs); err != nil {
		return nil, err
	}
	c, ok := f.containers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrContainerNotFound, id)
	}

	lines := c.logs
	if !tail.All() && tail.Lines() < len(lines) {
		lines = lines[len(lines)-tail.Lines():]
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return io.NopCloser(strings.NewReader(b.String())), nil
}

// ListManaged implements engine.Engine
func (f *Fake) ListManaged(context.Context) ([]engine.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpList); err != nil {
		return nil, err
	}
	out := make([]engine.ContainerState, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, c.state)
	}
	return out, nil
}

// Close implements engine.Engine
func (*Fake) Close() error {
	return nil
}

var _ engine.Engine = (*Fake)(nil)
