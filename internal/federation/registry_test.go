package federation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/omnicore/omnid/internal/store"
)

func newRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	r, err := NewRegistry(s, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r, s
}

func TestRegisterAndFilters(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	pub := NewServerEntry("srv-1", "One", "https://one.example.com", "key1")
	r.Register(ctx, pub)

	private := NewServerEntry("srv-2", "Two", "https://two.example.com", "key2")
	private.IsPublic = false
	r.Register(ctx, private)

	r.SetAuthenticated(ctx, "srv-2", true)

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 1, r.CountPublic())
	assert.Equal(t, 1, r.CountAuthenticated())

	publicList := r.ListPublic()
	require.Len(t, publicList, 1)
	assert.Equal(t, "srv-1", publicList[0].ServerID)

	authList := r.ListAuthenticated()
	require.Len(t, authList, 1)
	assert.Equal(t, "srv-2", authList[0].ServerID)
	assert.NotNil(t, authList[0].LastSeen)
}

func TestRegisterIsUpsert(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	entry := NewServerEntry("srv-1", "Old Name", "https://one.example.com", "key1")
	r.Register(ctx, entry)

	entry.Name = "New Name"
	r.Update(ctx, entry)

	assert.Equal(t, 1, r.Count())
	assert.Equal(t, "New Name", r.Get("srv-1").Name)
}

func TestTouchAndMarkSynced(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	r.Register(ctx, NewServerEntry("srv-1", "One", "https://one.example.com", "key1"))
	require.Nil(t, r.Get("srv-1").LastSeen)
	require.Nil(t, r.Get("srv-1").LastSync)

	r.Touch(ctx, "srv-1")
	assert.NotNil(t, r.Get("srv-1").LastSeen)

	r.MarkSynced(ctx, "srv-1")
	assert.NotNil(t, r.Get("srv-1").LastSync)

	// Unknown ids are ignored.
	r.Touch(ctx, "srv-none")
	r.MarkSynced(ctx, "srv-none")
	r.SetAuthenticated(ctx, "srv-none", true)
	assert.Equal(t, 1, r.Count())
}

func TestMergeFromIsInsertOnly(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	known := NewServerEntry("srv-1", "Trusted", "https://one.example.com", "key1")
	r.Register(ctx, known)
	r.SetAuthenticated(ctx, "srv-1", true)

	incoming := []PublicServerInfo{
		{ServerID: "srv-1", Name: "Impostor", PublicURL: "https://evil.example.com", PublicKey: "other"},
		{ServerID: "srv-2", Name: "Two", PublicURL: "https://two.example.com", PublicKey: "key2"},
		{ServerID: "", Name: "no id"},
	}

	assert.Equal(t, 1, r.MergeFrom(ctx, incoming))

	// The known entry kept every local field, including authentication.
	got := r.Get("srv-1")
	assert.Equal(t, "Trusted", got.Name)
	assert.Equal(t, "https://one.example.com", got.PublicURL)
	assert.True(t, got.IsAuthenticated)

	// Merged entries are never authenticated on arrival.
	added := r.Get("srv-2")
	require.NotNil(t, added)
	assert.False(t, added.IsAuthenticated)
	assert.True(t, added.IsPublic)
	assert.Equal(t, defaultTrustLevel, added.TrustLevel)
}

func TestMergeFromIsIdempotent(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	incoming := []PublicServerInfo{
		{ServerID: "srv-1", Name: "One", PublicURL: "https://one.example.com", PublicKey: "key1"},
		{ServerID: "srv-2", Name: "Two", PublicURL: "https://two.example.com", PublicKey: "key2"},
	}

	assert.Equal(t, 2, r.MergeFrom(ctx, incoming))
	before := r.ListAll()

	assert.Equal(t, 0, r.MergeFrom(ctx, incoming))
	assert.ElementsMatch(t, before, r.ListAll())
}

func TestRemove(t *testing.T) {
	r, s := newRegistry(t)
	ctx := context.Background()

	r.Register(ctx, NewServerEntry("srv-1", "One", "https://one.example.com", "key1"))
	r.Remove(ctx, "srv-1")
	assert.Nil(t, r.Get("srv-1"))

	reloaded, err := NewRegistry(s, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Count())
}

func TestRegistrySurvivesReload(t *testing.T) {
	r, s := newRegistry(t)
	ctx := context.Background()

	r.Register(ctx, NewServerEntry("srv-1", "One", "https://one.example.com", "key1"))
	r.SetAuthenticated(ctx, "srv-1", true)

	reloaded, err := NewRegistry(s, zaptest.NewLogger(t))
	require.NoError(t, err)
	got := reloaded.Get("srv-1")
	require.NotNil(t, got)
	assert.True(t, got.IsAuthenticated)
}
