package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stacklok/seqci-proxy/internal/config"
)

// dockerClient is the subset of the docker API used by Docker
type dockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// Docker runs sequencer instances as local docker containers
type Docker struct {
	client      dockerClient
	image       string
	command     []string
	hostIP      string
	pullPolicy  string
	stopTimeout time.Duration
	labels      map[string]string

	pullMu sync.Mutex
}

// DockerOption configures a Docker engine
type DockerOption func(*Docker)

// WithDockerClient replaces the client built from the environment
func WithDockerClient(c dockerClient) DockerOption {
	return func(d *Docker) {
		d.client = c
	}
}

// NewDocker creates a docker engine for the given container settings.
// The client honours DOCKER_HOST and friends.
func NewDocker(cfg *config.ContainerConfig, opts ...DockerOption) (*Docker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("container configuration is required")
	}
	if cfg.Image == "" {
		return nil, fmt.Errorf("container image is required")
	}

	d := &Docker{
		image:       cfg.Image,
		command:     append([]string(nil), cfg.Command...),
		hostIP:      cfg.HostIP,
		pullPolicy:  cfg.PullPolicy,
		stopTimeout: cfg.GetStopTimeout(),
		labels:      maps.Clone(cfg.Labels),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.client == nil {
		c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("failed to create docker client: %w", err)
		}
		d.client = c
	}
	return d, nil
}

// Ping implements Engine
func (d *Docker) Ping(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return nil
}

// Create implements Engine
func (d *Docker) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	if spec.Port < 1 || spec.Port > 65535 {
		return "", fmt.Errorf("invalid port %d", spec.Port)
	}
	if err := d.ensureImage(ctx); err != nil {
		return "", err
	}

	port := nat.Port(strconv.Itoa(spec.Port) + "/tcp")
	labels := make(map[string]string, len(d.labels)+len(spec.Labels)+2)
	maps.Copy(labels, d.labels)
	maps.Copy(labels, spec.Labels)
	labels[ManagedByLabel] = ManagedByValue
	labels[PortLabel] = strconv.Itoa(spec.Port)

	resp, err := d.client.ContainerCreate(ctx,
		&container.Config{
			Image:        d.image,
			Cmd:          d.commandFor(spec),
			ExposedPorts: nat.PortSet{port: struct{}{}},
			Labels:       labels,
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: d.hostIP, HostPort: strconv.Itoa(spec.Port)}},
			},
		},
		nil, nil, "",
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	for _, w := range resp.Warnings {
		slog.WarnContext(ctx, "Docker warning on container create", "container_id", resp.ID, "warning", w)
	}

	slog.DebugContext(ctx, "Created container", "container_id", resp.ID, "port", spec.Port)
	return resp.ID, nil
}

// commandFor renders the command template for spec
func (d *Docker) commandFor(spec ContainerSpec) []string {
	port := strconv.Itoa(spec.Port)
	cmd := make([]string, 0, len(d.command)+3)
	for _, arg := range d.command {
		cmd = append(cmd, strings.ReplaceAll(arg, config.PortPlaceholder, port))
	}
	if spec.BlockTime != nil {
		cmd = append(cmd, "--block-time", strconv.FormatUint(*spec.BlockTime, 10))
	}
	if spec.NoMining {
		cmd = append(cmd, "--no-mining")
	}
	return cmd
}

func (d *Docker) ensureImage(ctx context.Context) error {
	switch d.pullPolicy {
	case config.PullPolicyNever:
		return nil
	case config.PullPolicyAlways:
		return d.pull(ctx)
	}

	_, err := d.client.ImageInspect(ctx, d.image)
	if err == nil {
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", d.image, err)
	}
	return d.pull(ctx)
}

func (d *Docker) pull(ctx context.Context) error {
	d.pullMu.Lock()
	defer d.pullMu.Unlock()

	slog.InfoContext(ctx, "Pulling image", "image", d.image)
	rc, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", d.image, err)
	}
	defer rc.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", d.image, err)
	}
	return nil
}

// Start implements Engine
func (d *Docker) Start(ctx context.Context, id string) error {
	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

// Remove implements Engine
func (d *Docker) Remove(ctx context.Context, id string) error {
	timeout := int(d.stopTimeout.Seconds())
	if err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}

	if err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		// Conflict means a removal is already in progress.
		if cerrdefs.IsNotFound(err) || cerrdefs.IsConflict(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}

	slog.DebugContext(ctx, "Removed container", "container_id", id)
	return nil
}

// Inspect implements Engine
func (d *Docker) Inspect(ctx context.Context, id string) (*ContainerState, error) {
	resp, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}

	state := &ContainerState{ID: id}
	if resp.ContainerJSONBase != nil {
		state.ID = resp.ID
		if created, err := time.Parse(time.RFC3339Nano, resp.Created); err == nil {
			state.Created = created
		}
		if resp.State != nil {
			state.Running = resp.State.Running
			state.Status = string(resp.State.Status)
		}
	}
	if resp.Config != nil {
		state.Labels = resp.Config.Labels
	}
	return state, nil
}

// Logs implements Engine
func (d *Docker) Logs(ctx context.Context, id string, tail Tail) (io.ReadCloser, error) {
	rc, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail.String(),
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return nil, fmt.Errorf("failed to read logs of container %s: %w", id, err)
	}

	// Containers are created without a TTY so the stream is multiplexed.
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		_ = pw.CloseWithError(err)
	}()
	return &demuxedLogs{PipeReader: pr, src: rc}, nil
}

type demuxedLogs struct {
	*io.PipeReader
	src io.Closer
}

func (l *demuxedLogs) Close() error {
	_ = l.PipeReader.Close()
	return l.src.Close()
}

// ListManaged implements Engine
func (d *Docker) ListManaged(ctx context.Context) ([]ContainerState, error) {
	list, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedByLabel+"="+ManagedByValue)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	states := make([]ContainerState, 0, len(list))
	for _, c := range list {
		status := string(c.State)
		states = append(states, ContainerState{
			ID:      c.ID,
			Running: status == "running",
			Status:  status,
			Created: time.Unix(c.Created, 0).UTC(),
			Labels:  c.Labels,
		})
	}
	return states, nil
}

// Close implements Engine
func (d *Docker) Close() error {
	return d.client.Close()
}
