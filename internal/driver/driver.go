// Package driver abstracts the external container orchestrator that spawns,
// removes, and probes backend instances. Routing and fleet-management code
// depend only on the Driver interface, never on how containers are actually
// scheduled — see DockerDriver for the production implementation and
// FakeDriver for an in-process simulation used throughout the test suite.
package driver

import "context"

// Status is the result of a single health probe.
type Status int

const (
	Unhealthy Status = iota
	Healthy
)

// Driver spawns, removes, and probes named backend instances. All three
// operations are idempotent at the driver level and safe to retry.
type Driver interface {
	// Spawn starts a container whose network-visible hostname equals name.
	// Implementations should force-remove any stale container of the same
	// name first, to recover from a prior crash that leaked it.
	Spawn(ctx context.Context, name string) error
	// Remove stops and removes the named container. It never fails fatally;
	// callers treat the backend as gone once Remove has been invoked.
	Remove(ctx context.Context, name string) error
	// Probe reports whether the named backend currently answers healthy.
	Probe(ctx context.Context, name string) Status
}
