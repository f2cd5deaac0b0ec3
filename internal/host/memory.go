package host

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process, map-backed Host. It is used throughout the
// test suite and by the property-based tests in spec.md §8 because it
// makes every read/write synchronous and trivially introspectable.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory Host.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Read(_ context.Context, path string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[path]
	if !ok {
		return nil, false, nil
	}

	out := make([]byte, len(v))
	copy(out, v)

	return out, true, nil
}

func (m *Memory) Write(_ context.Context, path string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[path] = cp

	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, path)

	return nil
}

func (m *Memory) Has(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.data[path]

	return ok, nil
}

func (m *Memory) ListSubkeys(_ context.Context, path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := strings.TrimSuffix(path, "/") + "/"
	seen := make(map[string]struct{})

	for k := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}

		rest := k[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}

		if rest != "" {
			seen[rest] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}

	sort.Strings(out)

	return out, nil
}

// Dump returns a copy of the entire tree, keyed by path. Tests use it
// to compare whole post-states for the determinism and rollback
// isolation properties.
func (m *Memory) Dump() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}

	return out
}

// ApplyBatch applies writes and deletes as a single critical section,
// used by the transaction manager's top-level commit.
func (m *Memory) ApplyBatch(_ context.Context, writes map[string][]byte, deletes map[string]struct{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range deletes {
		delete(m.data, k)
	}

	for k, v := range writes {
		cp := make([]byte, len(v))
		copy(cp, v)
		m.data[k] = cp
	}

	return nil
}
