package auth

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/natsclient"
)

func TestKVUserStore_Integration(t *testing.T) {
	client := getSharedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bucket, err := client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "auth_users_test"})
	require.NoError(t, err)
	store := NewKVUserStore(natsclient.NewKVStore(bucket, nil), nil)

	_, err = store.GetUser(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)

	bob, err := NewUser("bob", "pw", "repository.sandbox.reader")
	require.NoError(t, err)
	require.NoError(t, store.PutUser(ctx, bob))

	got, err := store.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.ID)
	assert.True(t, got.CheckPassword("pw"))

	require.NoError(t, store.GrantRoles(ctx, "bob", "repository.sandbox.writer"))
	got, err = store.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"repository.sandbox.reader", "repository.sandbox.writer"}, got.Roles)

	assert.ErrorIs(t, store.GrantRoles(ctx, "ghost", "x"), ErrUserNotFound)

	require.NoError(t, store.DeleteUser(ctx, "bob"))
	require.NoError(t, store.DeleteUser(ctx, "bob"))
	_, err = store.GetUser(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
