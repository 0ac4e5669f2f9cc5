// internal/module/errors.go
package module

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrModuleDisabled is wrapped in an InvocationError when a disabled module is invoked
var ErrModuleDisabled = errors.New("module disabled")

// DuplicateModuleError is returned when registering an id that already exists
type DuplicateModuleError struct {
	ID string
}

func (e *DuplicateModuleError) Error() string {
	return fmt.Sprintf("module %s already registered", e.ID)
}

// MissingDependencyError is returned when a module declares dependencies that are not registered
type MissingDependencyError struct {
	ID      string
	Missing []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("module %s: missing dependencies %s", e.ID, strings.Join(e.Missing, ", "))
}

// ModuleNotFoundError is returned when invoking an unknown module
type ModuleNotFoundError struct {
	ID string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module %s not found", e.ID)
}

// InvocationError wraps a handler failure with the module id and elapsed time
type InvocationError struct {
	ModuleID string
	Elapsed  time.Duration
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("module %s failed after %s: %v", e.ModuleID, e.Elapsed, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
