package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() }) //nolint:errcheck

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Get(ctx, "things", "missing")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, s.Put(ctx, "things", "a", []byte(`{"name":"first"}`)))
			require.NoError(t, s.Put(ctx, "things", "a", []byte(`{"name":"second"}`)))

			got, err = s.Get(ctx, "things", "a")
			require.NoError(t, err)
			assert.JSONEq(t, `{"name":"second"}`, string(got))

			// Same id in a different collection is a distinct document.
			got, err = s.Get(ctx, "others", "a")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, s.Delete(ctx, "things", "a"))
			require.NoError(t, s.Delete(ctx, "things", "a")) // absent is not an error

			got, err = s.Get(ctx, "things", "a")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "col", "1", []byte(`{"n":1}`)))
			require.NoError(t, s.Put(ctx, "col", "2", []byte(`{"n":2}`)))
			require.NoError(t, s.Put(ctx, "unrelated", "3", []byte(`{"n":3}`)))

			docs, err := s.List(ctx, "col")
			require.NoError(t, err)
			assert.Len(t, docs, 2)
		})
	}
}

func TestCollectionRoundTrip(t *testing.T) {
	ctx := context.Background()
	col := NewCollection[testDoc](NewMemoryStore(), "docs")

	require.NoError(t, col.Put(ctx, "x", testDoc{Name: "x", Count: 3}))

	got, err := col.Get(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testDoc{Name: "x", Count: 3}, *got)

	missing, err := col.Get(ctx, "y")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := col.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, col.Delete(ctx, "x"))
	all, err = col.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
