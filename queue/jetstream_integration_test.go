package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/repository"
)

func TestBroker_Integration_PublishConsumeAck(t *testing.T) {
	client := getSharedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	settings := DefaultSettings()
	settings.RedeliveryDelay = 10 * time.Millisecond
	b := NewBroker(client, settings, nil)
	defer b.Close()

	cfg := repository.NewConfig("queue_ack")
	require.NoError(t, b.Provision(ctx, cfg))
	require.NoError(t, b.Provision(ctx, cfg), "provisioning twice updates in place")

	var seen atomic.Int32
	sub, err := b.Subscribe(cfg.Name, func(Envelope) { seen.Add(1) })
	require.NoError(t, err)
	defer sub.Stop()

	host := "h"
	require.NoError(t, b.Publish(ctx, cfg.Name, Envelope{
		Timestamp: "2011-01-01T00:00:00Z", Source: "s", Host: &host, Message: "hello",
	}))

	pending, err := b.Pending(ctx, cfg.Name)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pending)

	consumer, err := b.Consumer(ctx, cfg)
	require.NoError(t, err)
	defer consumer.Close()

	d, err := consumer.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", d.Envelope().Message)
	assert.Equal(t, uint64(1), d.NumDelivered())
	require.NoError(t, d.Nak(settings.RedeliveryDelay))

	d, err = consumer.Next(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), d.NumDelivered())
	require.NoError(t, d.Ack(ctx))

	_, err = consumer.Next(ctx, 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage)

	pending, err = b.Pending(ctx, cfg.Name)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pending)

	assert.Eventually(t, func() bool { return seen.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	require.NoError(t, b.Teardown(ctx, cfg))
	require.NoError(t, b.Teardown(ctx, cfg))
}

func TestBroker_Integration_DeadLetters(t *testing.T) {
	client := getSharedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b := NewBroker(client, DefaultSettings(), nil)
	cfg := repository.NewConfig("queue_dead")
	require.NoError(t, b.Provision(ctx, cfg))

	sink := b.DeadLetters(cfg)
	require.NoError(t, sink.DeadLetter(ctx, DeadLetter{
		OriginalAddress: cfg.WriteAddress(),
		Worker:          "w1",
		Reason:          "bad",
		DeliveryCount:   1,
		Envelope:        Envelope{Timestamp: "t", Source: "s", Message: "raw"},
	}))

	count, err := b.DeadLetterCount(ctx, cfg.Name)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	letters, err := b.ReadDeadLetters(ctx, cfg.Name, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "bad", letters[0].Reason)
	assert.Equal(t, "raw", letters[0].Envelope.Message)
}

func TestBroker_Integration_StorageChange(t *testing.T) {
	client := getSharedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b := NewBroker(client, DefaultSettings(), nil)
	defer b.Close()
	js, err := client.JetStream()
	require.NoError(t, err)

	storageOf := func(cfg repository.Config) jetstream.StorageType {
		stream, err := js.Stream(ctx, repository.StreamName(cfg.WriteAddress()))
		require.NoError(t, err)
		info, err := stream.Info(ctx)
		require.NoError(t, err)
		return info.Config.Storage
	}

	cfg := repository.NewConfig("queue_storage")
	require.NoError(t, b.Provision(ctx, cfg))
	assert.Equal(t, jetstream.FileStorage, storageOf(cfg))
	require.NoError(t, b.Teardown(ctx, cfg))

	// empty write queue: the stream is recreated with the new storage
	volatile := cfg
	volatile.WriteQueueDurable = false
	volatile.WriteQueueMaxMemoryPolicy = repository.MaxMemoryPolicyDrop
	require.NoError(t, b.Provision(ctx, volatile))
	assert.Equal(t, jetstream.MemoryStorage, storageOf(volatile))

	host := "h"
	require.NoError(t, b.Publish(ctx, cfg.Name, Envelope{
		Timestamp: "2011-01-01T00:00:00Z", Source: "s", Host: &host, Message: "queued",
	}))
	require.NoError(t, b.Teardown(ctx, volatile))

	// records still queued: the change is refused without retrying
	started := time.Now()
	err = b.Provision(ctx, cfg)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, jetstream.MemoryStorage, storageOf(cfg))

	pending, err := b.Pending(ctx, cfg.Name)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pending)
}
