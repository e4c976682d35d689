package authclient_test

import (
	"context"
	"testing"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStoreCredentials(t *testing.T) {
	ctx := context.Background()
	storage := authclient.NewMemoryStorage()
	store := authclient.NewTokenStore(storage)

	creds, err := store.Credentials(ctx)
	require.NoError(t, err)
	assert.Empty(t, creds.AccessToken)
	assert.Empty(t, creds.RefreshToken)
	assert.Nil(t, creds.User)

	user := &authclient.UserProfile{ID: "1", Username: "alice", Role: authclient.RoleUser}
	require.NoError(t, store.SetCredentials(ctx, authclient.Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		User:         user,
	}))

	creds, err = store.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access", creds.AccessToken)
	assert.Equal(t, "refresh", creds.RefreshToken)
	require.NotNil(t, creds.User)
	assert.Equal(t, "alice", creds.User.Username)
	assert.Equal(t, 3, storage.Len())
}

func TestTokenStoreKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	ctx := context.Background()
	store := authclient.NewTokenStore(nil)

	require.NoError(t, store.SetCredentials(ctx, authclient.Credentials{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, store.SetCredentials(ctx, authclient.Credentials{AccessToken: "a2"}))

	access, err := store.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", access)

	refresh, err := store.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", refresh)
}

func TestTokenStoreEmptyValueRemovesKey(t *testing.T) {
	ctx := context.Background()
	storage := authclient.NewMemoryStorage()
	store := authclient.NewTokenStore(storage)

	require.NoError(t, store.SetAccessToken(ctx, "a1"))
	require.NoError(t, store.SetRefreshToken(ctx, "r1"))
	assert.Equal(t, 2, storage.Len())

	require.NoError(t, store.SetAccessToken(ctx, ""))
	require.NoError(t, store.SetUser(ctx, nil))
	assert.Equal(t, 1, storage.Len())
}

func TestTokenStoreClear(t *testing.T) {
	ctx := context.Background()
	storage := authclient.NewMemoryStorage()
	store := authclient.NewTokenStore(storage)

	require.NoError(t, store.SetCredentials(ctx, authclient.Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		User:         &authclient.UserProfile{ID: "1"},
	}))
	require.NoError(t, storage.Set(ctx, "unrelated", "keep"))

	require.NoError(t, store.Clear(ctx))

	creds, err := store.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, authclient.Credentials{}, creds)

	v, ok, err := storage.Get(ctx, "unrelated")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "keep", v)
}

func TestTokenStoreCorruptProfile(t *testing.T) {
	ctx := context.Background()
	storage := authclient.NewMemoryStorage()
	store := authclient.NewTokenStore(storage)

	require.NoError(t, storage.Set(ctx, authclient.KeyUser, "{not json"))

	user, err := store.User(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)

	_, ok, err := storage.Get(ctx, authclient.KeyUser)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserProfileNumericID(t *testing.T) {
	ctx := context.Background()
	storage := authclient.NewMemoryStorage()
	store := authclient.NewTokenStore(storage)

	require.NoError(t, storage.Set(ctx, authclient.KeyUser, `{"id":12,"username":"bob","role":"broker"}`))

	user, err := store.User(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "12", user.ID)
	assert.Equal(t, authclient.RoleBroker, user.Role)
}

func TestTokenStoreSwapCredentials(t *testing.T) {
	ctx := context.Background()
	store := authclient.NewTokenStore(authclient.NewMemoryStorage())

	swapped, err := store.SwapCredentials(ctx, "r1", authclient.Credentials{AccessToken: "a2", RefreshToken: "r2"})
	require.NoError(t, err)
	assert.False(t, swapped, "an empty store is never written")

	require.NoError(t, store.SetCredentials(ctx, authclient.Credentials{AccessToken: "a1", RefreshToken: "r1"}))

	swapped, err = store.SwapCredentials(ctx, "r0", authclient.Credentials{AccessToken: "a2", RefreshToken: "r2"})
	require.NoError(t, err)
	assert.False(t, swapped)

	creds, err := store.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", creds.AccessToken)
	assert.Equal(t, "r1", creds.RefreshToken)

	swapped, err = store.SwapCredentials(ctx, "r1", authclient.Credentials{AccessToken: "a2", RefreshToken: "r2"})
	require.NoError(t, err)
	assert.True(t, swapped)

	creds, err = store.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", creds.AccessToken)
	assert.Equal(t, "r2", creds.RefreshToken)

	require.NoError(t, store.Clear(ctx))
	swapped, err = store.SwapCredentials(ctx, "r2", authclient.Credentials{AccessToken: "a3", RefreshToken: "r3"})
	require.NoError(t, err)
	assert.False(t, swapped)

	creds, err = store.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, authclient.Credentials{}, creds)
}
