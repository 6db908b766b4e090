package driver

import (
	"context"
	"fmt"
	"sync"
)

// FakeDriver simulates backends entirely in-process: Spawn/Remove just
// record bookkeeping, and Probe answers from an explicit health map. It lets
// the rest of the system (fleet, health supervisor, admin API, router) be
// exercised end to end without a real container runtime.
type FakeDriver struct {
	mu sync.Mutex

	spawned map[string]bool
	healthy map[string]bool

	// SpawnErr, when set, is consulted on every Spawn call; a non-nil
	// return fails that spawn without recording the backend.
	SpawnErr func(name string) error
}

// NewFakeDriver returns a FakeDriver with no backends spawned.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		spawned: make(map[string]bool),
		healthy: make(map[string]bool),
	}
}

func (f *FakeDriver) Spawn(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SpawnErr != nil {
		if err := f.SpawnErr(name); err != nil {
			return err
		}
	}
	f.spawned[name] = true
	f.healthy[name] = true
	return nil
}

func (f *FakeDriver) Remove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.spawned, name)
	delete(f.healthy, name)
	return nil
}

func (f *FakeDriver) Probe(_ context.Context, name string) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.healthy[name] {
		return Healthy
	}
	return Unhealthy
}

// SetHealthy flips the simulated health of a spawned backend, for tests that
// drive the health supervisor's replacement path.
func (f *FakeDriver) SetHealthy(name string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy[name] = v
}

// IsSpawned reports whether name is currently tracked as spawned.
func (f *FakeDriver) IsSpawned(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawned[name]
}

// SpawnedCount returns how many backends are currently tracked as spawned.
func (f *FakeDriver) SpawnedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

// String is handy in test failure messages.
func (f *FakeDriver) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("FakeDriver{spawned=%d}", len(f.spawned))
}
