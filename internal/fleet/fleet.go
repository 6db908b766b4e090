// Package fleet holds the authoritative mapping from BackendId to container
// handle and ring slot-set — the fleet registry — and pairs it with the
// routing ring behind one exclusive lock: ring and registry are mutated
// atomically from any observer's perspective, and no network or subprocess
// call ever happens while that lock is held.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"fleetlb/internal/driver"
	"fleetlb/internal/ring"
)

// ErrNotFound is returned by operations addressing a BackendId the registry
// does not currently hold.
var ErrNotFound = errors.New("fleet: backend not found")

// Entry mirrors a single registry row: the ring slots a backend currently
// owns, and whether it has been administratively blocked from traffic. The
// slots field must never diverge from the ring's own bookkeeping outside a
// single critical section — Fleet is the only thing that ever touches both.
type Entry struct {
	Slots   []int
	Blocked bool
}

// Info is the JSON-friendly snapshot of a single backend, used by the admin
// API.
type Info struct {
	ID      string `json:"id"`
	Slots   int    `json:"slots"`
	Blocked bool   `json:"blocked"`
}

// Fleet is the fleet lock: a Ring plus the registry of backends it currently
// serves, guarded by one mutex. It holds no reference to an HTTP transport —
// driver.Driver is the only side effect Fleet ever produces, and every call
// into it happens outside the lock.
type Fleet struct {
	mu      sync.Mutex
	ring    *ring.Ring
	entries map[string]*Entry
	driver  driver.Driver

	totalRequests     int64
	totalReplacements int64
}

// New constructs an empty Fleet with the given ring capacity and virtual
// replica count, driven by d.
func New(ringSlots, virtualReplicas int, d driver.Driver) *Fleet {
	return &Fleet{
		ring:    ring.New(ringSlots, virtualReplicas),
		entries: make(map[string]*Entry),
		driver:  d,
	}
}

// Provision spawns id via the driver (outside the lock, since it is slow
// I/O) and, on success, adds it to the ring and registry under the lock. The
// BackendId only ever enters the registry after a successful spawn, per the
// data model's lifecycle rule.
func (f *Fleet) Provision(ctx context.Context, id string) (ring.Status, error) {
	if err := f.driver.Spawn(ctx, id); err != nil {
		return 0, fmt.Errorf("fleet: spawn %s: %w", id, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.ring.Add(id)
	if res.Status == ring.Added {
		f.entries[id] = &Entry{Slots: res.Slots}
	}
	return res.Status, nil
}

// Decommission removes id from the fleet in the order the data model
// requires: purge the ring first, then ask the driver to remove the
// container, then drop the registry entry. Only the middle step touches the
// network; the two registry mutations are short, lock-held, in-memory steps.
func (f *Fleet) Decommission(ctx context.Context, id string) error {
	f.mu.Lock()
	e, ok := f.entries[id]
	if !ok {
		f.mu.Unlock()
		return ErrNotFound
	}
	f.ring.Remove(id)
	e.Slots = nil // keep the entry in step with the purged ring
	f.mu.Unlock()

	_ = f.driver.Remove(ctx, id) // best-effort: a failed remove doesn't block the registry drop

	f.mu.Lock()
	delete(f.entries, id)
	f.mu.Unlock()
	return nil
}

// Lookup resolves a request fingerprint to an owning, non-blocked backend.
// It is the only Fleet method on the routing hot path and must return
// quickly: the work is a single ring lookup under the lock.
func (f *Fleet) Lookup(fingerprint uint64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totalRequests++
	return f.ring.LookupSkipping(fingerprint, func(id string) bool {
		e, ok := f.entries[id]
		return !ok || e.Blocked
	})
}

// Members returns the sorted ids of every backend currently registered,
// blocked or not.
func (f *Fleet) Members() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.entries))
	for id := range f.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the admin-facing view of every registered backend.
func (f *Fleet) Snapshot() []Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Info, 0, len(f.entries))
	ids := make([]string, 0, len(f.entries))
	for id := range f.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := f.entries[id]
		out = append(out, Info{ID: id, Slots: len(e.Slots), Blocked: e.Blocked})
	}
	return out
}

// Size returns the number of registered backends.
func (f *Fleet) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Has reports whether id is currently registered.
func (f *Fleet) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	return ok
}

// Block marks a registered backend so Lookup routes around it without
// disturbing its ring ownership.
func (f *Fleet) Block(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Blocked = true
	return nil
}

// Unblock clears a previously blocked backend's flag.
func (f *Fleet) Unblock(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Blocked = false
	return nil
}

// SampleOthers returns up to n ids drawn uniformly at random from the
// registered backends not present in exclude. Used by the admin /rm handler
// to fill out a removal set beyond explicitly named hostnames.
func (f *Fleet) SampleOthers(exclude map[string]bool, n int) []string {
	f.mu.Lock()
	candidates := make([]string, 0, len(f.entries))
	for id := range f.entries {
		if !exclude[id] {
			candidates = append(candidates, id)
		}
	}
	f.mu.Unlock()

	sort.Strings(candidates) // deterministic base order before shuffling
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

// RecordReplacement increments the counter the admin /stats endpoint
// reports, tracking how many health-driven replacements have occurred.
func (f *Fleet) RecordReplacement() {
	f.mu.Lock()
	f.totalReplacements++
	f.mu.Unlock()
}

// Stats is the aggregate counters snapshot used by the admin /stats
// endpoint.
type Stats struct {
	N                 int
	TotalRequests     int64
	TotalReplacements int64
}

// Stats returns the current aggregate counters.
func (f *Fleet) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		N:                 len(f.entries),
		TotalRequests:     f.totalRequests,
		TotalReplacements: f.totalReplacements,
	}
}
