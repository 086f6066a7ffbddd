package broker

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerpkg "github.com/dyluth/diffuse/internal/docker"
)

const (
	// DefaultNamePrefix is the prefix for auto-generated run names
	DefaultNamePrefix = "run-"

	// MaxNameLength is the maximum length for a run name (DNS-compatible)
	MaxNameLength = 63
)

// NamePattern is the regex pattern for valid run names.
// Must be DNS-compatible: lowercase alphanumeric, hyphens allowed (but not at start/end)
var NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateName checks if a run name is valid according to DNS naming rules.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("run name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("run name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}

	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid run name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}

	return nil
}

// GenerateDefaultName returns the next unused run-N name among existing brokers.
func GenerateDefaultName(ctx context.Context, api ContainerAPI) (string, error) {
	containers, err := api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=true", dockerpkg.LabelProject))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list containers: %w", err)
	}

	highestN := 0
	for _, c := range containers {
		runName := c.Labels[dockerpkg.LabelRunName]
		if !strings.HasPrefix(runName, DefaultNamePrefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(runName, DefaultNamePrefix)); err == nil && n > highestN {
			highestN = n
		}
	}

	return fmt.Sprintf("%s%d", DefaultNamePrefix, highestN+1), nil
}

// CheckNameCollision reports whether a broker with the given run name exists.
func CheckNameCollision(ctx context.Context, api ContainerAPI, runName string) (bool, error) {
	containers, err := api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=%s", dockerpkg.LabelRunName, runName))),
	})
	if err != nil {
		return false, fmt.Errorf("failed to check for name collision: %w", err)
	}

	return len(containers) > 0, nil
}
