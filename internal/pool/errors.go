// internal/pool/errors.go
package pool

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when the pool's submission rate limit is exceeded
var ErrRateLimited = errors.New("execution pool rate limit exceeded")

// ResourceBusyError is returned when a resource is already running at capacity
type ResourceBusyError struct {
	ResourceID string
	Capacity   int
}

func (e *ResourceBusyError) Error() string {
	if e.ResourceID == "" {
		return "no execution resource has free capacity"
	}
	return fmt.Sprintf("resource %s busy: %d/%d tasks running", e.ResourceID, e.Capacity, e.Capacity)
}

// ResourceNotFoundError is returned when submitting to an unknown resource
type ResourceNotFoundError struct {
	ResourceID string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource %s not found", e.ResourceID)
}
