// Package retry runs an operation with exponential backoff and optional jitter.
//
// It is used where the server waits on an external dependency rather than
// on a message: connecting to NATS at startup and compare-and-set updates of
// KV configuration records. Message redelivery is left to the broker.
//
//	err := retry.Do(ctx, retry.Persistent(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Wrap an error with NonRetryable to stop immediately.
package retry
