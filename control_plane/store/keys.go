package store

import "fmt"

// Resource names a durable collection within a backend's keyspace.
type Resource string

const (
	ResourceAgent        Resource = "agents"
	ResourceTask         Resource = "tasks"
	ResourceVerification Resource = "verification"
	ResourceScalingEvent Resource = "scaling_events"
)

// Key constructs a fully qualified key for a single resource instance.
// Format: fluxforge:{resource}:{id}
func Key(resource Resource, id string) string {
	return fmt.Sprintf("fluxforge:%s:%s", resource, id)
}

// Prefix constructs the scan-pattern prefix for a resource collection.
// Format: fluxforge:{resource}:
func Prefix(resource Resource) string {
	return fmt.Sprintf("fluxforge:%s:", resource)
}
