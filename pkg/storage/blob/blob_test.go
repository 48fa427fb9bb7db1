package blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	n, err := store.Put(ctx, "deadbeef", bytes.NewReader([]byte("hello world")))
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)

	r, err := store.Get(ctx, "deadbeef")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutCompressedRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	payload := bytes.Repeat([]byte("the quick brown fox "), 200)

	_, err = store.PutCompressed(ctx, "job-1-decomp", bytes.NewReader(payload))
	require.NoError(t, err)

	r, err := store.GetCompressed(ctx, "job-1-decomp")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestExists(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Put(ctx, "abc123", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	ok, err = store.Exists(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, store.Delete(ctx, "never-existed"))

	_, err = store.Put(ctx, "to-delete", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	assert.NoError(t, store.Delete(ctx, "to-delete"))
	assert.NoError(t, store.Delete(ctx, "to-delete"))
}
