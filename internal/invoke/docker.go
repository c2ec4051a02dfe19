package invoke

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	dockerclient "github.com/moby/moby/client"
)

// ErrCircuitOpen is returned while the docker daemon is considered unhealthy.
var ErrCircuitOpen = errors.New("docker circuit breaker is open")

// ContainerSpec describes one container run.
type ContainerSpec struct {
	Image       string
	Cmd         []string
	Env         []string
	Memory      int64
	NanoCPUs    int64
	PidsLimit   int64
	Network     string
	SecurityOpt []string
}

// ContainerAPI is the subset of the docker daemon the Docker invoker needs.
type ContainerAPI interface {
	PullImage(ctx context.Context, image, policy string) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (running bool, exitCode int, err error)
	RemoveContainer(ctx context.Context, id string) error
	Close() error
}

// DockerError wraps a failed daemon call.
type DockerError struct {
	Op      string
	Err     error
	Message string
}

func (e *DockerError) Error() string {
	return fmt.Sprintf("docker %s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// DockerClient talks to the local daemon through the moby client.
type DockerClient struct {
	client *dockerclient.Client
}

// NewDockerClient connects using the DOCKER_* environment and pings the daemon.
func NewDockerClient(ctx context.Context) (*DockerClient, error) {
	cli, err := dockerclient.New(dockerclient.WithAPIVersionNegotiation(), dockerclient.FromEnv)
	if err != nil {
		return nil, &DockerError{Op: "connect", Err: err, Message: "failed to connect to Docker daemon"}
	}

	if _, err := cli.Ping(ctx, dockerclient.PingOptions{NegotiateAPIVersion: true}); err != nil {
		_ = cli.Close()
		return nil, &DockerError{Op: "ping", Err: err, Message: "Docker daemon not available"}
	}

	return &DockerClient{client: cli}, nil
}

func (c *DockerClient) Close() error {
	return c.client.Close()
}

func (c *DockerClient) PullImage(ctx context.Context, image, policy string) error {
	if policy == "never" {
		return nil
	}

	resp, err := c.client.ImagePull(ctx, image, dockerclient.ImagePullOptions{})
	if err != nil {
		if policy == "if-not-present" {
			return nil
		}
		return &DockerError{Op: "pull", Err: err, Message: fmt.Sprintf("failed to pull image %s", image)}
	}
	defer resp.Close()

	if err := resp.Wait(ctx); err != nil {
		if policy == "if-not-present" {
			return nil
		}
		return &DockerError{Op: "pull", Err: err, Message: fmt.Sprintf("failed to pull image %s", image)}
	}
	return nil
}

func (c *DockerClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	pids := spec.PidsLimit
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   spec.Memory,
			NanoCPUs: spec.NanoCPUs,
		},
		SecurityOpt: spec.SecurityOpt,
		Tmpfs:       map[string]string{"/tmp": "rw,size=50m"},
	}
	if pids > 0 {
		hostCfg.Resources.PidsLimit = &pids
	}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}

	result, err := c.client.ContainerCreate(ctx, dockerclient.ContainerCreateOptions{
		Image: spec.Image,
		Config: &container.Config{
			Image: spec.Image,
			Cmd:   spec.Cmd,
			Env:   spec.Env,
		},
		HostConfig: hostCfg,
	})
	if err != nil {
		return "", &DockerError{Op: "create", Err: err, Message: "failed to create container"}
	}
	return result.ID, nil
}

func (c *DockerClient) StartContainer(ctx context.Context, id string) error {
	if _, err := c.client.ContainerStart(ctx, id, dockerclient.ContainerStartOptions{}); err != nil {
		return &DockerError{Op: "start", Err: err, Message: fmt.Sprintf("failed to start container %s", id)}
	}
	return nil
}

func (c *DockerClient) InspectContainer(ctx context.Context, id string) (bool, int, error) {
	result, err := c.client.ContainerInspect(ctx, id, dockerclient.ContainerInspectOptions{})
	if err != nil {
		return false, 0, &DockerError{Op: "inspect", Err: err, Message: fmt.Sprintf("failed to inspect container %s", id)}
	}
	state := result.Container.State
	if state == nil {
		return false, 0, &DockerError{Op: "inspect", Err: errors.New("no state"), Message: id}
	}
	return state.Running, state.ExitCode, nil
}

func (c *DockerClient) RemoveContainer(ctx context.Context, id string) error {
	if _, err := c.client.ContainerRemove(ctx, id, dockerclient.ContainerRemoveOptions{Force: true}); err != nil {
		return &DockerError{Op: "remove", Err: err, Message: fmt.Sprintf("failed to remove container %s", id)}
	}
	return nil
}

// Docker runs a fresh container per invocation and waits for it to exit.
type Docker struct {
	API          ContainerAPI
	Spec         ContainerSpec
	PullPolicy   string
	PollInterval time.Duration
	Breaker      *CircuitBreaker
}

// Invoke pulls (per policy), creates and starts the container, then polls
// until it exits. The container is always removed. A non-zero exit code is a
// failure.
func (d *Docker) Invoke(ctx context.Context) (string, error) {
	if !d.Breaker.Allow() {
		return "", ErrCircuitOpen
	}

	id, err := d.launch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.Breaker.RecordFailure()
		} else {
			d.Breaker.abandon()
		}
		return "", err
	}
	d.Breaker.RecordSuccess()

	defer func() {
		// ctx may already be done; removal must still happen
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = d.API.RemoveContainer(rmCtx, id)
	}()

	exitCode, err := d.wait(ctx, id)
	if err != nil {
		return "", err
	}

	short := shortID(id)
	if exitCode != 0 {
		return "", fmt.Errorf("container %s (%s) exited with code %d", short, d.Spec.Image, exitCode)
	}
	return fmt.Sprintf("container %s (%s) exited with code 0", short, d.Spec.Image), nil
}

func (d *Docker) launch(ctx context.Context) (string, error) {
	if err := d.API.PullImage(ctx, d.Spec.Image, d.PullPolicy); err != nil {
		return "", err
	}
	id, err := d.API.CreateContainer(ctx, d.Spec)
	if err != nil {
		return "", err
	}
	if err := d.API.StartContainer(ctx, id); err != nil {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = d.API.RemoveContainer(rmCtx, id)
		return "", err
	}
	return id, nil
}

func (d *Docker) wait(ctx context.Context, id string) (int, error) {
	interval := d.PollInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		running, exitCode, err := d.API.InspectContainer(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			return 0, err
		}
		if !running {
			return exitCode, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// ParseMemory converts "128m", "1g", "512k" to bytes. Invalid input yields 0.
func ParseMemory(s string) int64 {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "g"):
		multiplier = 1024 * 1024 * 1024
	case strings.HasSuffix(s, "m"):
		multiplier = 1024 * 1024
	case strings.HasSuffix(s, "k"):
		multiplier = 1024
	}
	s = strings.TrimRight(s, "gmk")

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}
