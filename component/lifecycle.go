// Package component defines the lifecycle contract and introspection
// types shared by all pipeline components.
package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates component was initialized but not started
	StateInitialized
	// StateStarted indicates component is running
	StateStarted
	// StateStopped indicates component was stopped
	StateStopped
	// StateFailed indicates component failed during a lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lifecycle defines components that support full lifecycle management:
//   - Initialize() error                 // setup/create only, no context
//   - Start(ctx context.Context) error   // start with context passed through
//   - Stop(timeout time.Duration) error  // graceful shutdown with timeout
//
// Components never store the context they receive; the owner keeps the
// cancel function and coordinates shutdown in reverse start order.
type Lifecycle interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Metadata describes a component instance
type Metadata struct {
	Name        string
	Type        string
	Description string
	Version     string
}

// HealthStatus reports the runtime health of a component
type HealthStatus struct {
	Healthy    bool
	LastCheck  time.Time
	ErrorCount int
	LastError  string
	Uptime     time.Duration
}

// Discoverable is implemented by components that expose identity and health
type Discoverable interface {
	Meta() Metadata
	Health() HealthStatus
}
