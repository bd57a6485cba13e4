package userstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_ProvisionCreatesUser(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user, err := store.Provision(ctx, "user123", "user@example.org")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	assert.Equal(t, "user123", user.Subject)
	assert.Equal(t, "user@example.org", user.Email)
	assert.True(t, user.Active)
	assert.WithinDuration(t, time.Now(), user.CreatedAt, 5*time.Second)
}

func TestStore_ProvisionIsIdempotentPerSubject(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.Provision(ctx, "user123", "user@example.org")
	require.NoError(t, err)

	second, err := store.Provision(ctx, "user123", "renamed@example.org")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "repeat sign-ins must not create a second account")
	assert.Equal(t, "renamed@example.org", second.Email)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
}

func TestStore_ProvisionKeepsEmailWhenProviderOmitsIt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Provision(ctx, "user123", "user@example.org")
	require.NoError(t, err)

	user, err := store.Provision(ctx, "user123", "")
	require.NoError(t, err)
	assert.Equal(t, "user@example.org", user.Email)
}

func TestStore_GetByIDAndSubject(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created, err := store.Provision(ctx, "user123", "user@example.org")
	require.NoError(t, err)

	byID, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Subject, byID.Subject)

	bySubject, err := store.GetBySubject(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, bySubject.ID)

	_, err = store.GetByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SetActive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created, err := store.Provision(ctx, "user123", "")
	require.NoError(t, err)

	require.NoError(t, store.SetActive(ctx, created.ID, false))

	user, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, user.Active)

	require.ErrorIs(t, store.SetActive(ctx, "missing", true), ErrNotFound)
}

func TestStore_SetAdmin(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created, err := store.Provision(ctx, "user123", "")
	require.NoError(t, err)
	assert.False(t, created.Admin, "provisioned users must not start as admin")

	require.NoError(t, store.SetAdmin(ctx, created.ID, true))

	user, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, user.Admin)

	require.ErrorIs(t, store.SetAdmin(ctx, "missing", true), ErrNotFound)
}

func TestStore_ReopenPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	created, err := store.Provision(ctx, "user123", "user@example.org")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	user, err := reopened.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "user123", user.Subject)
}
