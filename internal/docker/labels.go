package docker

import (
	"fmt"

	"github.com/google/uuid"
)

// Label keys used for diffuse resources
const (
	LabelProject   = "diffuse.project"
	LabelRunName   = "diffuse.run.name"
	LabelRunID     = "diffuse.run.id"
	LabelComponent = "diffuse.component"
	LabelRedisPort = "diffuse.redis.port"
)

// ComponentBroker is the component label value of broker containers.
const ComponentBroker = "broker"

// BuildLabels creates the standard label set for all diffuse resources.
// component may be empty.
func BuildLabels(runName, runID, component string) map[string]string {
	labels := map[string]string{
		LabelProject: "true",
		LabelRunName: runName,
		LabelRunID:   runID,
	}

	if component != "" {
		labels[LabelComponent] = component
	}

	return labels
}

// GenerateRunID creates a new UUID for a run.
func GenerateRunID() string {
	return uuid.New().String()
}

// BrokerContainerName returns the Redis broker container name for a run
func BrokerContainerName(runName string) string {
	return fmt.Sprintf("diffuse-redis-%s", runName)
}
