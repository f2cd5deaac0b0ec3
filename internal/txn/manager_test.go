package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstz-dev/jstz-core/internal/host"
)

func TestTopLevelCommit(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	m := New(h)

	m.Begin()
	require.NoError(t, m.Write("/x", []byte("1")))
	require.NoError(t, m.Commit(ctx))

	v, ok, err := h.Read(ctx, "/x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

func TestTopLevelRollback_NoPartialWrites(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	m := New(h)

	m.Begin()
	require.NoError(t, m.Write("/x", []byte("1")))
	require.NoError(t, m.Rollback())

	_, ok, err := h.Read(ctx, "/x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNestedCommit_MergesIntoParent(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	m := New(h)

	m.Begin() // top level
	require.NoError(t, m.Write("/a", []byte("outer")))

	m.Begin() // nested
	require.NoError(t, m.Write("/b", []byte("inner")))
	require.NoError(t, m.Commit(ctx)) // merge nested into top level

	v, ok, err := m.Read(ctx, "/b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("inner"), v)

	require.NoError(t, m.Commit(ctx)) // flush top level

	v, ok, err = h.Read(ctx, "/a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("outer"), v)

	v, ok, err = h.Read(ctx, "/b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("inner"), v)
}

func TestNestedRollback_IsolatesFailure(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	m := New(h)

	m.Begin()
	require.NoError(t, m.Write("/x", []byte("1"))) // A sets x=1

	m.Begin()
	require.NoError(t, m.Write("/y", []byte("2"))) // B sets y=2, then "throws"
	require.NoError(t, m.Rollback())

	v, ok, err := m.Read(ctx, "/x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	_, ok, err = m.Read(ctx, "/y")
	require.NoError(t, err)
	assert.False(t, ok, "y must not be visible after B's rollback")

	require.NoError(t, m.Commit(ctx))

	_, ok, err = h.Read(ctx, "/y")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChildShadowsParentWrite(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	m := New(h)

	m.Begin()
	require.NoError(t, m.Write("/x", []byte("outer")))

	m.Begin()
	require.NoError(t, m.Write("/x", []byte("inner")))

	v, ok, err := m.Read(ctx, "/x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("inner"), v)

	require.NoError(t, m.Rollback()) // discard inner write

	v, ok, err = m.Read(ctx, "/x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("outer"), v, "parent's own write survives child rollback")
}

func TestTombstonePropagates(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	m := New(h)

	require.NoError(t, h.Write(ctx, "/x", []byte("committed")))

	m.Begin()
	m.Begin()
	require.NoError(t, m.Delete("/x"))
	require.NoError(t, m.Commit(ctx)) // merge tombstone into parent

	_, ok, err := m.Read(ctx, "/x")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Commit(ctx))

	_, ok, err = h.Read(ctx, "/x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSubkeysOverlay(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	m := New(h)

	require.NoError(t, h.Write(ctx, "/jstz_kv/sf/a", []byte("1")))

	m.Begin()
	require.NoError(t, m.Write("/jstz_kv/sf/b", []byte("2")))
	require.NoError(t, m.Delete("/jstz_kv/sf/a"))

	keys, err := m.ListSubkeys(ctx, "/jstz_kv/sf")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}
