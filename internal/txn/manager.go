// Package txn implements the transaction manager of spec.md §4.2: ACID
// semantics and nested sub-transactions over a host.Host, with
// optimistic concurrency control that is defensive rather than load
// bearing, since spec.md §5 guarantees single-threaded execution within
// one rollup instance.
//
// The design is grounded on two patterns surveyed from the retrieval
// pack: go-ethereum's core/state journal (snapshot()/revertToSnapshot()
// lifecycle for nested, revertible state) and the teacher's pkg/dbtx
// context-scoped transaction handle (a transaction threaded through call
// boundaries without a global mutable singleton).
package txn

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/jstz-dev/jstz-core/internal/host"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

// Manager owns the nested-snapshot stack for one operation's execution
// graph. It is not safe for concurrent use — spec.md §5 never calls it
// from more than one goroutine at a time.
type Manager struct {
	h     host.Host
	stack []*snapshot
}

// New returns a Manager with no active transaction. Begin must be called
// before Read/Write/Delete.
func New(h host.Host) *Manager {
	return &Manager{h: h}
}

// Depth returns the number of currently active (nested) snapshots.
func (m *Manager) Depth() int { return len(m.stack) }

// top returns the innermost active snapshot, or nil if none.
func (m *Manager) top() *snapshot {
	if len(m.stack) == 0 {
		return nil
	}

	return m.stack[len(m.stack)-1]
}

// Begin pushes a new Active snapshot onto the stack. Returns the new
// nesting depth (1 for a top-level transaction).
func (m *Manager) Begin() int {
	var parent *snapshot
	if len(m.stack) > 0 {
		parent = m.stack[len(m.stack)-1]
	}

	m.stack = append(m.stack, newSnapshot(parent))

	return len(m.stack)
}

// Read walks the snapshot stack from innermost to outermost looking for a
// pending value for key; if none of the active snapshots record it, it
// falls back to the committed value in Storage and caches the observed
// value (or absence) in the innermost snapshot's read set for
// revalidation at top-level commit.
func (m *Manager) Read(ctx context.Context, key string) ([]byte, bool, error) {
	cur := m.top()
	if cur == nil {
		return nil, false, fmt.Errorf("txn: Read called with no active transaction")
	}

	for s := cur; s != nil; s = s.parent {
		if v, tomb, found := s.lookup(key); found {
			if tomb {
				return nil, false, nil
			}

			out := make([]byte, len(v))
			copy(out, v)

			return out, true, nil
		}
	}

	v, ok, err := m.h.Read(ctx, key)
	if err != nil {
		return nil, false, err
	}

	cur.recordRead(key, v, ok)

	return v, ok, nil
}

// Write records value as the pending write for key in the innermost
// snapshot. It is invisible to parent snapshots (and to Storage) until
// that snapshot commits.
func (m *Manager) Write(key string, value []byte) error {
	cur := m.top()
	if cur == nil {
		return fmt.Errorf("txn: Write called with no active transaction")
	}

	cp := make([]byte, len(value))
	copy(cp, value)

	cur.writes[key] = cp
	delete(cur.tombstones, key)

	return nil
}

// Delete records a tombstone for key in the innermost snapshot.
func (m *Manager) Delete(key string) error {
	cur := m.top()
	if cur == nil {
		return fmt.Errorf("txn: Delete called with no active transaction")
	}

	cur.tombstones[key] = struct{}{}
	delete(cur.writes, key)

	return nil
}

// ListSubkeys returns the immediate children of prefix as seen by the
// innermost active snapshot: Storage's committed children, overlaid with
// any pending writes/tombstones recorded anywhere in the active snapshot
// chain.
func (m *Manager) ListSubkeys(ctx context.Context, prefix string) ([]string, error) {
	cur := m.top()
	if cur == nil {
		return nil, fmt.Errorf("txn: ListSubkeys called with no active transaction")
	}

	base, err := m.h.ListSubkeys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	present := make(map[string]struct{}, len(base))
	for _, k := range base {
		present[k] = struct{}{}
	}

	root := prefix
	if root != "" && root[len(root)-1] != '/' {
		root += "/"
	}

	for s := cur; s != nil; s = s.parent {
		for k := range s.writes {
			if child, ok := immediateChild(root, k); ok {
				present[child] = struct{}{}
			}
		}

		for k := range s.tombstones {
			if child, ok := immediateChild(root, k); ok {
				delete(present, child)
			}
		}
	}

	out := make([]string, 0, len(present))
	for k := range present {
		out = append(out, k)
	}

	sort.Strings(out)

	return out, nil
}

// immediateChild reports the path segment directly under root that k
// belongs to, if k is under root at all.
func immediateChild(root, k string) (string, bool) {
	if len(k) <= len(root) || k[:len(root)] != root {
		return "", false
	}

	rest := k[len(root):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], true
		}
	}

	return rest, true
}

// Commit ends the innermost active snapshot. For a nested snapshot, its
// write set, tombstones, and read set are merged into its parent (child
// writes shadow parent writes for the same key; child tombstones
// propagate) and it is popped off the stack. For the top-level snapshot,
// Commit revalidates the read set against Storage, then flushes the
// write set in path-sorted order — the defensive OCC check of spec.md
// §4.2, which §5's single-threaded model guarantees will always pass in
// practice.
func (m *Manager) Commit(ctx context.Context) error {
	cur := m.top()
	if cur == nil {
		return fmt.Errorf("txn: Commit called with no active transaction")
	}

	if cur.state != Active {
		return fmt.Errorf("txn: Commit called on snapshot in state %s", cur.state)
	}

	m.stack = m.stack[:len(m.stack)-1]

	if cur.parent != nil {
		mergeIntoParent(cur)
		cur.state = Committed

		return nil
	}

	if err := m.revalidate(ctx, cur); err != nil {
		cur.state = RolledBack
		return err
	}

	if err := m.flush(ctx, cur); err != nil {
		return err
	}

	cur.state = Committed

	return nil
}

// Rollback discards the innermost active snapshot and all of its pending
// writes; its parent (or Storage, for a top-level snapshot) is left
// untouched. This is the failure-isolation mechanism of spec.md §4.2: a
// nested call that fails has its snapshot rolled back before control
// returns to the caller, so no partial writes leak.
func (m *Manager) Rollback() error {
	cur := m.top()
	if cur == nil {
		return fmt.Errorf("txn: Rollback called with no active transaction")
	}

	if cur.state != Active {
		return fmt.Errorf("txn: Rollback called on snapshot in state %s", cur.state)
	}

	m.stack = m.stack[:len(m.stack)-1]
	cur.state = RolledBack

	return nil
}

// mergeIntoParent folds a committed child snapshot's pending state into
// its parent: writes and tombstones shadow the parent's, and the child's
// read set is adopted (first-read-wins, so an outer validation still
// reflects the earliest observed version).
func mergeIntoParent(child *snapshot) {
	parent := child.parent

	for k := range child.tombstones {
		parent.tombstones[k] = struct{}{}
		delete(parent.writes, k)
	}

	for k, v := range child.writes {
		parent.writes[k] = v
		delete(parent.tombstones, k)
	}

	for k, rec := range child.reads {
		if _, already := parent.reads[k]; !already {
			parent.reads[k] = rec
		}
	}
}

// revalidate checks that every key the root snapshot read still has the
// value (or absence) it observed. A mismatch means another actor wrote
// the key between the read and this commit — impossible under §5's
// single-threaded model, so this path exists purely as a defensive
// invariant (StorageConflict).
func (m *Manager) revalidate(ctx context.Context, root *snapshot) error {
	for key, rec := range root.reads {
		v, ok, err := m.h.Read(ctx, key)
		if err != nil {
			return err
		}

		if ok != rec.present || (ok && !bytes.Equal(v, rec.value)) {
			return jstzerr.New(jstzerr.KindStorageConflict, "read-set validation failed for %q", key)
		}
	}

	return nil
}

// flush applies the root snapshot's write set to Storage in path-sorted
// order, using an atomic batch when the Host supports one.
func (m *Manager) flush(ctx context.Context, root *snapshot) error {
	if len(root.writes) == 0 && len(root.tombstones) == 0 {
		return nil
	}

	if b, ok := m.h.(host.Batch); ok {
		return b.ApplyBatch(ctx, root.writes, root.tombstones)
	}

	keys := make([]string, 0, len(root.writes)+len(root.tombstones))
	for k := range root.tombstones {
		keys = append(keys, k)
	}

	for k := range root.writes {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if _, dead := root.tombstones[k]; dead {
			if err := m.h.Delete(ctx, k); err != nil {
				return err
			}

			continue
		}

		if err := m.h.Write(ctx, k, root.writes[k]); err != nil {
			return err
		}
	}

	return nil
}
