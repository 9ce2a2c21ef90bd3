// Package provider implements the JSON-RPC transport used to fetch blocks.
//
// This package contains:
//   - Provider interface: core abstraction for RPC endpoints
//   - HTTPProvider: JSON-RPC 2.0 over HTTP implementation
//   - ProviderMonitor: latency and throttle tracking
package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Provider defines the interface for an RPC endpoint the monitor can query.
type Provider interface {
	// GetName returns provider identifier (e.g., "http", "alchemy")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// Call makes a single JSON-RPC request. A null result yields (nil, nil).
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	// Close cleans up resources
	Close() error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool
	Latency       time.Duration
	ErrorRate     float64
	LastSuccessAt time.Time
	LastFailureAt time.Time
}
