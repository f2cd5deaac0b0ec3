// Package storage is the typed persistence layer over host.Host
// (spec.md §4.1): Read/Write a Go value using a canonical, schema-tagged
// binary codec, plus the raw byte operations the transaction manager
// needs to implement snapshots on top.
package storage

import (
	"context"
	"strings"

	"github.com/jstz-dev/jstz-core/internal/host"
)

// Store wraps a host.Host with the typed codec. All paths it reads or
// writes are expected to be rooted under one of the /jstz_* namespaces
// (spec.md §4.1's "path discipline"); Store itself doesn't enforce this —
// callers (account, kv, smartfunction) each own their namespace prefix.
type Store struct {
	h host.Host
}

// New wraps h in a Store.
func New(h host.Host) *Store { return &Store{h: h} }

// Host returns the underlying host.Host, for callers (the transaction
// manager) that need the raw byte interface alongside the typed one.
func (s *Store) Host() host.Host { return s.h }

// Read decodes the value at path into a freshly zeroed T. The second
// return value is false if path has no committed value.
func Read[T any](ctx context.Context, s *Store, path string) (T, bool, error) {
	var zero T

	raw, ok, err := s.h.Read(ctx, path)
	if err != nil || !ok {
		return zero, ok, err
	}

	var v T
	if err := decode(raw, &v); err != nil {
		return zero, false, err
	}

	return v, true, nil
}

// Write encodes value and durably stores it at path.
func Write[T any](ctx context.Context, s *Store, path string, value T) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}

	return s.h.Write(ctx, path, raw)
}

// Delete removes path.
func (s *Store) Delete(ctx context.Context, path string) error {
	return s.h.Delete(ctx, path)
}

// Has reports whether path has a committed value.
func (s *Store) Has(ctx context.Context, path string) (bool, error) {
	return s.h.Has(ctx, path)
}

// ListSubkeys returns the immediate children of path.
func (s *Store) ListSubkeys(ctx context.Context, path string) ([]string, error) {
	return s.h.ListSubkeys(ctx, path)
}

// Copy writes the raw value at src to dst (or deletes dst if src is
// absent), leaving src in place. It is a read-then-write at the Store
// level; the transaction manager does not use it — nested commits merge
// in-memory write sets instead.
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	raw, ok, err := s.h.Read(ctx, src)
	if err != nil {
		return err
	}

	if !ok {
		return s.h.Delete(ctx, dst)
	}

	return s.h.Write(ctx, dst, raw)
}

// JoinPath builds a slash-rooted path from segments, collapsing any
// doubled separators a caller-supplied segment (e.g. a user KV key)
// might introduce.
func JoinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))

	for _, seg := range segments {
		seg = strings.Trim(seg, "/")
		if seg != "" {
			parts = append(parts, seg)
		}
	}

	return "/" + strings.Join(parts, "/")
}
