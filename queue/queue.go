package queue

import (
	"context"
	"fmt"
	"time"
)

// ErrNoMessage is returned by Consumer.Next when the wait elapsed without a message
var ErrNoMessage = fmt.Errorf("no message available")

// Delivery is one message handed to a single consumer
type Delivery interface {
	Envelope() Envelope
	// NumDelivered is 1 on first delivery and grows with each redelivery
	NumDelivered() uint64
	// Ack commits the message off the queue
	Ack(ctx context.Context) error
	// Nak rolls the message back for redelivery after delay
	Nak(delay time.Duration) error
}

// Consumer is one worker's session on a repository's write queue
type Consumer interface {
	// Next waits up to wait for a message. Returns ErrNoMessage on timeout.
	Next(ctx context.Context, wait time.Duration) (Delivery, error)
	Close() error
}

// DeadLetterSink receives records that could not be parsed
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, letter DeadLetter) error
}

// Subscription is a live feed of records published to a repository
type Subscription interface {
	// Stop ends the feed. It is safe to call more than once.
	Stop() error
}
