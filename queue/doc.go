// Package queue binds repository addresses to NATS JetStream.
//
// Each repository gets a work-queue stream on its write address. All storage
// workers of the repository pull from one durable consumer, so JetStream
// hands each message to exactly one worker and redelivers it when the worker
// rolls back or stops acknowledging. Unparsable records are copied to a
// dead-letter stream; entries are also fanned out on the read address for
// live subscribers.
//
// Envelope values travel as NATS headers, the log line is the message body.
package queue
