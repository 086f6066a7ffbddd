// Package broker manages the Redis containers that distributed ranks use as
// their rendezvous point. Every broker is labelled with its run name so it can
// be found and torn down again without any local state.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	dockerpkg "github.com/dyluth/diffuse/internal/docker"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNameInUse is returned by Up when a broker with the run name exists.
	ErrNameInUse = errors.New("run name already in use")

	// ErrNotFound is returned by Down when no broker has the run name.
	ErrNotFound = errors.New("broker not found")
)

// ContainerAPI is the subset of the Docker client used by this package.
type ContainerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Broker describes one running (or stopped) broker container.
type Broker struct {
	Name        string
	RunID       string
	ContainerID string
	Image       string
	Port        int
	State       string
}

// URL returns the Redis URL ranks on this host should connect to.
func (b Broker) URL() string {
	return GetRedisURL(b.Port)
}

// Up creates and starts a broker container for runName on the first free port.
func Up(ctx context.Context, api ContainerAPI, runName, image string) (*Broker, error) {
	if err := ValidateName(runName); err != nil {
		return nil, err
	}

	inUse, err := CheckNameCollision(ctx, api, runName)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, fmt.Errorf("%w: %s", ErrNameInUse, runName)
	}

	port, err := FindNextAvailablePort(ctx, api)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate broker port: %w", err)
	}

	runID := dockerpkg.GenerateRunID()
	labels := dockerpkg.BuildLabels(runName, runID, dockerpkg.ComponentBroker)
	labels[dockerpkg.LabelRedisPort] = strconv.Itoa(port)

	resp, err := api.ContainerCreate(ctx, &container.Config{
		Image:  image,
		Labels: labels,
		ExposedPorts: nat.PortSet{
			"6379/tcp": struct{}{},
		},
	}, &container.HostConfig{
		PortBindings: nat.PortMap{
			"6379/tcp": []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: strconv.Itoa(port),
				},
			},
		},
	}, nil, nil, dockerpkg.BrokerContainerName(runName))
	if err != nil {
		return nil, fmt.Errorf("failed to create broker container: %w", err)
	}

	if err := api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start broker container: %w", err)
	}

	return &Broker{
		Name:        runName,
		RunID:       runID,
		ContainerID: resp.ID,
		Image:       image,
		Port:        port,
		State:       "running",
	}, nil
}

// Down stops and removes every broker container of runName and returns the
// names of the removed containers.
func Down(ctx context.Context, api ContainerAPI, runName string) ([]string, error) {
	containers, err := api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=%s", dockerpkg.LabelRunName, runName))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runName)
	}

	timeout := 10
	var removed []string
	for _, c := range containers {
		name := containerName(c)
		// A container that is already stopped is still removed below.
		_ = api.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout})
		if err := api.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// List returns every broker container known to Docker.
func List(ctx context.Context, api ContainerAPI) ([]Broker, error) {
	containers, err := api.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", fmt.Sprintf("%s=true", dockerpkg.LabelProject)),
			filters.Arg("label", fmt.Sprintf("%s=%s", dockerpkg.LabelComponent, dockerpkg.ComponentBroker)),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	brokers := make([]Broker, 0, len(containers))
	for _, c := range containers {
		port, _ := strconv.Atoi(c.Labels[dockerpkg.LabelRedisPort])
		brokers = append(brokers, Broker{
			Name:        c.Labels[dockerpkg.LabelRunName],
			RunID:       c.Labels[dockerpkg.LabelRunID],
			ContainerID: c.ID,
			Image:       c.Image,
			Port:        port,
			State:       c.State,
		})
	}
	return brokers, nil
}

// WaitReady pings the Redis server at url until it answers or timeout elapses.
func WaitReady(ctx context.Context, url string, timeout time.Duration) error {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("invalid Redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := rdb.Ping(ctx).Err(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("broker at %s not ready after %s: %w", url, timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func containerName(c types.Container) string {
	if len(c.Names) == 0 {
		return c.ID
	}
	return strings.TrimPrefix(c.Names[0], "/")
}
