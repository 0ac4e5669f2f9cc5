// internal/models/resource.go
package models

// ExecutionResource is a point-in-time view of a capacity-bounded execution resource
type ExecutionResource struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capacity     int      `json:"capacity"`
	CurrentTasks []string `json:"currentTasks"`
}

// ResourceUsage reports in-flight load for a single resource
type ResourceUsage struct {
	InFlight int     `json:"inFlight"`
	Capacity int     `json:"capacity"`
	Ratio    float64 `json:"ratio"`
}

// Utilization summarises load across the whole execution pool
type Utilization struct {
	Resources map[string]ResourceUsage `json:"resources"`
	InFlight  int                      `json:"inFlight"`
	Capacity  int                      `json:"capacity"`
	Overall   float64                  `json:"overall"`
}
