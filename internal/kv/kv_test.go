package kv

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/host"
	"github.com/jstz-dev/jstz-core/internal/txn"
)

func newSelf(t *testing.T) address.Address {
	t.Helper()
	_, pub, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return address.NewUserAddress(address.NewPublicKey(address.SchemeEd25519, pub))
}

type doc struct {
	Count int `json:"count"`
}

func TestGetSetDeleteHas(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	k := New(tm, newSelf(t))

	ok, err := k.Has(ctx, "counter")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, k.Set(ctx, "counter", doc{Count: 5}))

	var got doc
	ok, err = k.Get(ctx, "counter", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc{Count: 5}, got)

	require.NoError(t, k.Delete("counter"))

	ok, err = k.Has(ctx, "counter")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSubkeys_ScopedToSelf(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	k1 := New(tm, newSelf(t))
	k2 := New(tm, newSelf(t))

	require.NoError(t, k1.Set(ctx, "a", 1))
	require.NoError(t, k1.Set(ctx, "b", 2))
	require.NoError(t, k2.Set(ctx, "z", 3))

	keys, err := k1.ListSubkeys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}
