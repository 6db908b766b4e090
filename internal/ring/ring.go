// Package ring implements the fixed-capacity consistent-hash slot ring that
// sits at the core of the load balancer's routing decision.
//
// A Ring holds M cells, each either empty or owned by one backend id. Every
// backend claims up to K virtual replicas, placed by hashing (id, replica
// index) with xxHash64 and resolving collisions with forward linear probing.
// Lookup finds, via binary search over a sorted index of occupied slots, the
// smallest occupied slot at or after a request's fingerprint, wrapping around
// the ring if necessary.
//
// A Ring has no internal locking — callers that mutate and read concurrently
// must serialize access externally (see internal/fleet, which guards a Ring
// and its registry behind one exclusive lock).
package ring

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Status reports the outcome of an Add call.
type Status int

const (
	// Added means the backend claimed all K virtual replicas.
	Added Status = iota
	// AlreadyPresent means the backend already owns slots in the ring.
	AlreadyPresent
	// Full means the ring could not find an empty cell for every replica;
	// any slots claimed during the attempt were rolled back.
	Full
)

// AddResult is the return value of Add.
type AddResult struct {
	Status Status
	Slots  []int // sorted, only meaningful when Status == Added
}

// Ring is a fixed-capacity slot ring. The zero value is not usable; use New.
type Ring struct {
	capacity int
	replicas int

	cells    []string // cells[slot] == "" means empty
	occupied []int    // sorted slot positions with cells[slot] != ""
	owners   map[string][]int
}

// New returns an empty Ring with the given slot capacity and virtual replica
// count per backend. Both must be positive.
func New(capacity, replicas int) *Ring {
	if capacity <= 0 {
		capacity = 512
	}
	if replicas <= 0 {
		replicas = 1
	}
	return &Ring{
		capacity: capacity,
		replicas: replicas,
		cells:    make([]string, capacity),
		occupied: make([]int, 0, capacity),
		owners:   make(map[string][]int),
	}
}

// Capacity returns M, the fixed slot count.
func (r *Ring) Capacity() int { return r.capacity }

// Replicas returns K, the virtual replica count per backend.
func (r *Ring) Replicas() int { return r.replicas }

// Add computes K candidate slots for id via hashReplica and claims the first
// empty cell at or after each candidate (linear probing forward, wrapping
// around the ring). If any replica cannot find an empty cell, every slot
// claimed earlier in this call is rolled back and Full is returned.
func (r *Ring) Add(id string) AddResult {
	if _, ok := r.owners[id]; ok {
		return AddResult{Status: AlreadyPresent}
	}

	claimed := make([]int, 0, r.replicas)
	for j := 0; j < r.replicas; j++ {
		start := int(hashReplica(id, j) % uint64(r.capacity))
		slot, ok := r.firstEmptyFrom(start)
		if !ok {
			for _, s := range claimed {
				r.cells[s] = ""
			}
			return AddResult{Status: Full}
		}
		r.cells[slot] = id
		claimed = append(claimed, slot)
	}

	sort.Ints(claimed)
	r.owners[id] = claimed
	r.rebuildIndex()
	return AddResult{Status: Added, Slots: claimed}
}

// Remove clears every slot owned by id and rebuilds the occupied index.
// Reports whether id was present.
func (r *Ring) Remove(id string) bool {
	slots, ok := r.owners[id]
	if !ok {
		return false
	}
	for _, s := range slots {
		r.cells[s] = ""
	}
	delete(r.owners, id)
	r.rebuildIndex()
	return true
}

// Lookup reduces fingerprint into [0, capacity) and returns the owner of the
// smallest occupied slot at or after that position, wrapping to the first
// occupied slot if none exists. Returns ok=false for an empty ring. Runs in
// O(log S) via binary search over the sorted occupied-slot index.
func (r *Ring) Lookup(fingerprint uint64) (id string, ok bool) {
	if len(r.occupied) == 0 {
		return "", false
	}
	start := int(fingerprint % uint64(r.capacity))
	idx := r.searchIndex(start)
	slot := r.occupied[idx]
	return r.cells[slot], true
}

// LookupSkipping behaves like Lookup but walks forward past any owner for
// which skip returns true, without mutating ring state. It returns ok=false
// only if every occupied slot is skipped. Used to route around backends that
// are administratively blocked while leaving their ring ownership intact.
func (r *Ring) LookupSkipping(fingerprint uint64, skip func(string) bool) (id string, ok bool) {
	n := len(r.occupied)
	if n == 0 {
		return "", false
	}
	start := int(fingerprint % uint64(r.capacity))
	idx := r.searchIndex(start)
	for i := 0; i < n; i++ {
		owner := r.cells[r.occupied[(idx+i)%n]]
		if !skip(owner) {
			return owner, true
		}
	}
	return "", false
}

// Members returns the set of backend ids currently owning slots, sorted for
// deterministic iteration.
func (r *Ring) Members() []string {
	ids := make([]string, 0, len(r.owners))
	for id := range r.owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SlotsOf returns the sorted slots owned by id, or nil if id is absent.
func (r *Ring) SlotsOf(id string) []int {
	slots, ok := r.owners[id]
	if !ok {
		return nil
	}
	out := make([]int, len(slots))
	copy(out, slots)
	return out
}

// searchIndex returns the index into r.occupied of the smallest occupied
// slot >= target, wrapping to 0 if none exists. r.occupied must be non-empty.
func (r *Ring) searchIndex(target int) int {
	i := sort.Search(len(r.occupied), func(x int) bool { return r.occupied[x] >= target })
	if i == len(r.occupied) {
		i = 0
	}
	return i
}

func (r *Ring) firstEmptyFrom(start int) (int, bool) {
	for i := 0; i < r.capacity; i++ {
		slot := (start + i) % r.capacity
		if r.cells[slot] == "" {
			return slot, true
		}
	}
	return 0, false
}

// rebuildIndex recomputes the sorted occupied-slot index from scratch. O(M),
// deliberately: M is small (hundreds to low thousands) and mutations are rare
// (operator- or health-driven), while lookups are the hot path and must stay
// O(log S).
func (r *Ring) rebuildIndex() {
	occ := r.occupied[:0]
	for slot, owner := range r.cells {
		if owner != "" {
			occ = append(occ, slot)
		}
	}
	r.occupied = occ
}

// hashReplica combines a backend id and a replica index into a slot
// candidate. Concatenating id, a separator, and the decimal encoding of j
// before hashing with xxHash64 makes different j values land on
// statistically independent slots.
func hashReplica(id string, j int) uint64 {
	return xxhash.Sum64String(id + "#" + strconv.Itoa(j))
}
