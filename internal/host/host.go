// Package host defines the contract the execution core requires of the
// rollup host: an append-only durable byte-tree keyed by slash-paths
// (spec.md §6), plus the two implementations the core ships with — an
// in-memory map for tests and a BoltDB-backed store for the kernel
// binary. Everything above this package (storage.Store and up) depends
// only on the Host interface, never on a concrete backend, mirroring the
// teacher's repository-interface-over-adapters convention.
package host

import "context"

//go:generate mockgen -source=internal/host/host.go -destination=internal/host/host_mock.go -package host

// Host is the durable byte-tree contract. Implementations need not be
// safe for concurrent use from multiple goroutines — spec.md §5 runs one
// operation at a time, so the kernel never calls a Host concurrently.
type Host interface {
	// Read returns the bytes stored at path, or (nil, false) if unset.
	Read(ctx context.Context, path string) ([]byte, bool, error)
	// Write durably stores value at path, creating or overwriting it.
	Write(ctx context.Context, path string, value []byte) error
	// Delete removes path. Deleting an absent path is not an error.
	Delete(ctx context.Context, path string) error
	// Has reports whether path currently has a value.
	Has(ctx context.Context, path string) (bool, error)
	// ListSubkeys returns the immediate children of path, i.e. the next
	// '/'-segment after the path prefix, deduplicated.
	ListSubkeys(ctx context.Context, path string) ([]string, error)
}

// Batch is satisfied by Host implementations that can apply a set of
// writes and deletes atomically — the property the transaction manager's
// top-level commit (spec.md §4.2) relies on.
type Batch interface {
	ApplyBatch(ctx context.Context, writes map[string][]byte, deletes map[string]struct{}) error
}
