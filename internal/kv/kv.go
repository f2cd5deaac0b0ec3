// Package kv implements the Kv.* host-call surface of spec.md §4.5: a
// thin view over the active transaction scoped to one smart
// function's sub-tree, rooted at /jstz_kv/<self>/.
package kv

import (
	"context"
	"encoding/json"

	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/storage"
	"github.com/jstz-dev/jstz-core/internal/txn"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

// Kv is the per-call Kv.get/set/delete/has/listSubkeys surface, scoped
// to the smart function currently executing (self).
type Kv struct {
	tm   *txn.Manager
	self address.Address
}

// New returns a Kv view scoped to self's sub-tree.
func New(tm *txn.Manager, self address.Address) *Kv {
	return &Kv{tm: tm, self: self}
}

func (k *Kv) path(key string) string {
	return storage.JoinPath("jstz_kv", k.self.String(), key)
}

// Get decodes the JSON document stored at key into dst. ok is false if
// key has never been set or was deleted.
func (k *Kv) Get(ctx context.Context, key string, dst any) (ok bool, err error) {
	raw, present, err := k.tm.Read(ctx, k.path(key))
	if err != nil || !present {
		return present, err
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return false, jstzerr.Wrap(jstzerr.KindStorageCodec, err, "decode kv entry %q", key)
	}

	return true, nil
}

// Set stores value (any JSON-marshalable document) at key.
func (k *Kv) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return jstzerr.Wrap(jstzerr.KindStorageCodec, err, "encode kv entry %q", key)
	}

	return k.tm.Write(k.path(key), raw)
}

// Delete removes key from self's sub-tree.
func (k *Kv) Delete(key string) error {
	return k.tm.Delete(k.path(key))
}

// Has reports whether key currently has a value.
func (k *Kv) Has(ctx context.Context, key string) (bool, error) {
	_, present, err := k.tm.Read(ctx, k.path(key))
	return present, err
}

// ListSubkeys returns the immediate children of key within self's
// sub-tree, exposing the '/' hierarchy of user keys to off-chain
// observers (spec.md §4.5).
func (k *Kv) ListSubkeys(ctx context.Context, key string) ([]string, error) {
	return k.tm.ListSubkeys(ctx, k.path(key))
}
