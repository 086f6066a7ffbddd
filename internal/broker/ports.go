package broker

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerpkg "github.com/dyluth/diffuse/internal/docker"
)

const (
	// Port range for broker containers (allows 100 concurrent runs)
	startPort = 6379
	endPort   = 6478
)

// portBindable is replaced in tests.
var portBindable = isPortBindable

// FindNextAvailablePort finds the next available host port for a broker,
// starting from 6379. Ports recorded on existing broker containers are skipped
// as well as ports that cannot be bound on the host.
func FindNextAvailablePort(ctx context.Context, api ContainerAPI) (int, error) {
	filter := filters.NewArgs(
		filters.Arg("label", fmt.Sprintf("%s=true", dockerpkg.LabelProject)),
		filters.Arg("label", fmt.Sprintf("%s=%s", dockerpkg.LabelComponent, dockerpkg.ComponentBroker)),
	)

	containers, err := api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filter,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query Docker containers: %w", err)
	}

	usedPorts := make(map[int]bool)
	for _, c := range containers {
		if portStr, ok := c.Labels[dockerpkg.LabelRedisPort]; ok {
			if port, err := strconv.Atoi(portStr); err == nil {
				usedPorts[port] = true
			}
		}
	}

	for port := startPort; port <= endPort; port++ {
		if usedPorts[port] {
			continue
		}
		if portBindable(port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("no available broker ports (range %d-%d exhausted)", startPort, endPort)
}

// isPortBindable checks if a port can be bound on localhost.
func isPortBindable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// GetRedisHost returns the hostname under which published broker ports are
// reachable. Inside a container that is host.docker.internal.
func GetRedisHost() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "host.docker.internal"
	}
	return "localhost"
}

// GetRedisURL constructs the full Redis URL for a given port.
func GetRedisURL(port int) string {
	return fmt.Sprintf("redis://%s:%d", GetRedisHost(), port)
}
