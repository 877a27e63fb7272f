package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/natsclient"
)

func TestKVSource_Integration_SeedAndList(t *testing.T) {
	client := getSharedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	bucket, err := client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "test_repository_source"})
	require.NoError(t, err)
	src := NewKVSource(natsclient.NewKVStore(bucket, nil), nil)

	n, err := src.Seed(ctx, NewFileSource(writeFile(t, seedYAML)))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	configs, err := src.List(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "audit", configs[0].Name)
	assert.Equal(t, "sandbox", configs[1].Name)

	// invalid records are skipped by List and named by Inspect
	_, err = bucket.Put(ctx, "broken", []byte(`{"name":"broken"}`))
	require.NoError(t, err)
	configs, err = src.List(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 2)
	configs, rejected, err := src.Inspect(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 2)
	assert.Equal(t, []string{"broken"}, rejected)

	require.NoError(t, src.Delete(ctx, "audit"))
	require.NoError(t, src.Delete(ctx, "audit"))
	_, err = src.Get(ctx, "audit")
	assert.ErrorIs(t, err, errors.ErrRepositoryNotFound)
}

func TestKVSource_Integration_Watch(t *testing.T) {
	client := getSharedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	bucket, err := client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "test_repository_watch"})
	require.NoError(t, err)
	src := NewKVSource(natsclient.NewKVStore(bucket, nil), nil)
	require.NoError(t, src.Save(ctx, NewConfig("existing")))

	watchCtx, stop := context.WithCancel(ctx)
	changes, err := src.Watch(watchCtx)
	require.NoError(t, err)

	require.NoError(t, src.Save(ctx, NewConfig("fresh")))
	require.NoError(t, src.Delete(ctx, "existing"))

	var keys []string
	for len(keys) < 2 {
		select {
		case key := <-changes:
			keys = append(keys, key)
		case <-ctx.Done():
			t.Fatalf("only saw %v", keys)
		}
	}
	assert.Equal(t, []string{"fresh", "existing"}, keys, "values present before watching are not reported")

	stop()
	assert.Eventually(t, func() bool {
		_, open := <-changes
		return !open
	}, 5*time.Second, 10*time.Millisecond)
}
