// Package natsclient wraps the NATS connection used across the server.
//
// One Client is created per process in cmd/chililog and shared by:
//
//   - the queue binding, which provisions per-repository streams and durable
//     consumers through the JetStream handle
//   - the KV entry store and the repository and user configuration buckets,
//     through EnsureKeyValue and KVStore
//   - the subscription gateway, which listens on core NATS subjects
//
// Basic usage:
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithLogger(logger),
//	    natsclient.WithClientName("chililog"),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.ConnectWithRetry(ctx, retry.Persistent()); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
// KVStore adds per-operation timeouts, typed not-found and conflict errors and a
// compare-and-set UpdateWithRetry helper on top of a jetstream.KeyValue.
//
// Tests that need a real server use NewTestClient or, from TestMain,
// NewSharedTestClient. Both start the nats:2.11.7-alpine image with JetStream
// enabled through testcontainers.
package natsclient
