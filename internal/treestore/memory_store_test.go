package treestore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeMap(t *testing.T, snap Snapshot) map[string]any {
	t.Helper()
	require.True(t, snap.Exists)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(snap.Value, &out))
	return out
}

func nextSnapshot(t *testing.T, c <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-c:
		require.True(t, ok, "snapshot channel closed early")
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func TestMemoryStoreReadWrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Absence is not an error.
	snap, err := store.Read(ctx, "users/u1")
	require.NoError(t, err)
	assert.False(t, snap.Exists)

	err = store.Write(ctx, "users/u1", map[string]any{"email": "a@b.ru", "role": "admin"})
	require.NoError(t, err)

	snap, err = store.Read(ctx, "users/u1")
	require.NoError(t, err)
	got := decodeMap(t, snap)
	assert.Equal(t, "a@b.ru", got["email"])
}

func TestMemoryStoreInteriorRead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "orders/u1/o1", map[string]any{"total": 10.0}))
	require.NoError(t, store.Write(ctx, "orders/u2/o2", map[string]any{"total": 5.0}))

	snap, err := store.Read(ctx, "orders")
	require.NoError(t, err)
	tree := decodeMap(t, snap)
	require.Contains(t, tree, "u1")
	u1 := tree["u1"].(map[string]any)
	require.Contains(t, u1, "o1")
	assert.Equal(t, 10.0, u1["o1"].(map[string]any)["total"])
}

func TestMemoryStoreReadInsideRecord(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "users/u1", map[string]any{"role": "admin"}))

	snap, err := store.Read(ctx, "users/u1/role")
	require.NoError(t, err)
	require.True(t, snap.Exists)
	var role string
	require.NoError(t, snap.Decode(&role))
	assert.Equal(t, "admin", role)

	// A field the record does not have is absent, not an error.
	snap, err = store.Read(ctx, "users/u1/missing")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func TestMemoryStoreMergePreservesFields(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "users/u1", map[string]any{"email": "a@b.ru", "role": "admin"}))
	require.NoError(t, store.Merge(ctx, "users/u1", map[string]any{"displayName": "Анна"}))

	snap, err := store.Read(ctx, "users/u1")
	require.NoError(t, err)
	got := decodeMap(t, snap)
	assert.Equal(t, "admin", got["role"])
	assert.Equal(t, "Анна", got["displayName"])
	assert.Equal(t, "a@b.ru", got["email"])
}

func TestMemoryStoreWriteReplacesSubtree(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "orders/u1/o1", map[string]any{"total": 10.0}))
	require.NoError(t, store.Write(ctx, "orders/u1", map[string]any{"o2": map[string]any{"total": 3.0}}))

	snap, err := store.Read(ctx, "orders/u1")
	require.NoError(t, err)
	got := decodeMap(t, snap)
	assert.NotContains(t, got, "o1")
	assert.Contains(t, got, "o2")
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "carts/u1", map[string]any{"items": []any{"x"}}))
	require.NoError(t, store.Delete(ctx, "carts/u1"))

	snap, err := store.Read(ctx, "carts/u1")
	require.NoError(t, err)
	assert.False(t, snap.Exists)

	// Deleting a field inside a record rewrites the record.
	require.NoError(t, store.Write(ctx, "users/u1", map[string]any{"email": "a@b.ru", "role": "admin"}))
	require.NoError(t, store.Delete(ctx, "users/u1/role"))
	snap, err = store.Read(ctx, "users/u1")
	require.NoError(t, err)
	got := decodeMap(t, snap)
	assert.NotContains(t, got, "role")
	assert.Equal(t, "a@b.ru", got["email"])
}

func TestMemoryStoreSubscribe(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, "carts/u1")
	require.NoError(t, err)
	defer sub.Close()

	initial := nextSnapshot(t, sub.C)
	assert.False(t, initial.Exists)

	require.NoError(t, store.Write(ctx, "carts/u1", map[string]any{"items": []any{"x"}}))
	updated := nextSnapshot(t, sub.C)
	require.True(t, updated.Exists)
	got := decodeMap(t, updated)
	assert.Contains(t, got, "items")
}

func TestMemoryStoreSubscribeSeesDescendantWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, "orders")
	require.NoError(t, err)
	defer sub.Close()
	nextSnapshot(t, sub.C) // initial, absent

	require.NoError(t, store.Write(ctx, "orders/u1/o1", map[string]any{"total": 10.0}))
	updated := nextSnapshot(t, sub.C)
	require.True(t, updated.Exists)
	tree := decodeMap(t, updated)
	assert.Contains(t, tree, "u1")
}

func TestMemoryStoreSubscribeClose(t *testing.T) {
	store := NewMemoryStore()
	sub, err := store.Subscribe(context.Background(), "users/u1")
	require.NoError(t, err)

	nextSnapshot(t, sub.C)
	sub.Close()
	sub.Close() // idempotent

	_, ok := <-sub.C
	assert.False(t, ok, "channel should be closed after Close")
}

func TestMemoryStoreSubscribeContextCancel(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := store.Subscribe(ctx, "users/u1")
	require.NoError(t, err)
	nextSnapshot(t, sub.C)

	cancel()
	select {
	case _, ok := <-sub.C:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not released on context cancel")
	}
}

func TestPathAffects(t *testing.T) {
	tests := []struct {
		mutated, watched string
		want             bool
	}{
		{"orders/u1/o1", "orders", true},
		{"orders", "orders/u1/o1", true},
		{"orders/u1", "orders/u1", true},
		{"orders/u1", "orders/u2", false},
		{"ordersx", "orders", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pathAffects(tt.mutated, tt.watched), "%s vs %s", tt.mutated, tt.watched)
	}
}
