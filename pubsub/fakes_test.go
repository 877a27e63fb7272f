package pubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zhikook/chililog-server/auth"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/queue"
)

// fakeAuth accepts "good" passwords for users listed per operation
type fakeAuth struct {
	allowed map[auth.Operation]map[string]bool
	calls   atomic.Int32
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{allowed: map[auth.Operation]map[string]bool{
		auth.OperationPublish:   {"writer": true},
		auth.OperationSubscribe: {"reader": true},
	}}
}

func (a *fakeAuth) Authenticate(_ context.Context, op auth.Operation, repo, username, secret string) (*auth.User, error) {
	a.calls.Add(1)
	if repo != "sandbox" || secret != "good" || !a.allowed[op][username] {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: denied", errors.ErrAuthentication), "fakeAuth", "Authenticate", "authenticate")
	}
	return &auth.User{Username: username}, nil
}

// fakeBroker records publications and fans them out to subscribers
type fakeBroker struct {
	mu        sync.Mutex
	published []queue.Envelope
	failAfter int
	handlers  map[*fakeSubscription]func(queue.Envelope)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{failAfter: -1, handlers: make(map[*fakeSubscription]func(queue.Envelope))}
}

func (b *fakeBroker) Publish(_ context.Context, _ string, env queue.Envelope) error {
	b.mu.Lock()
	if b.failAfter >= 0 && len(b.published) >= b.failAfter {
		b.mu.Unlock()
		return errors.ErrNotConnected
	}
	b.published = append(b.published, env)
	handlers := make([]func(queue.Envelope), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (b *fakeBroker) Subscribe(_ string, handler func(queue.Envelope)) (queue.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &fakeSubscription{broker: b}
	b.handlers[s] = handler
	return s, nil
}

func (b *fakeBroker) envelopes() []queue.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]queue.Envelope(nil), b.published...)
}

func (b *fakeBroker) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

type fakeSubscription struct {
	broker *fakeBroker
	stops  atomic.Int32
}

func (s *fakeSubscription) Stop() error {
	s.stops.Add(1)
	s.broker.mu.Lock()
	delete(s.broker.handlers, s)
	s.broker.mu.Unlock()
	return nil
}
