package engine

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/queue"
	"github.com/zhikook/chililog-server/repository"
)

// fakeBroker is an in-memory write queue shared by every consumer it hands out
type fakeBroker struct {
	mu            sync.Mutex
	messages      chan *fakeDelivery
	maxDeliver    uint64
	deadLetters   []queue.DeadLetter
	deadLetterErr error

	provisioned atomic.Int32
	tornDown    atomic.Int32
	consumers   atomic.Int32
	closed      atomic.Int32
	acked       atomic.Int32
	exhausted   atomic.Int32

	provisionErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{messages: make(chan *fakeDelivery, 1024), maxDeliver: 5}
}

func (b *fakeBroker) send(env queue.Envelope) {
	b.messages <- &fakeDelivery{broker: b, env: env, delivered: 1}
}

func (b *fakeBroker) pending() int { return len(b.messages) }

func (b *fakeBroker) letters() []queue.DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]queue.DeadLetter(nil), b.deadLetters...)
}

func (b *fakeBroker) Provision(_ context.Context, _ repository.Config) error {
	if b.provisionErr != nil {
		return b.provisionErr
	}
	b.provisioned.Add(1)
	return nil
}

func (b *fakeBroker) Consumer(_ context.Context, _ repository.Config) (queue.Consumer, error) {
	b.consumers.Add(1)
	return &fakeConsumer{broker: b}, nil
}

func (b *fakeBroker) DeadLetters(_ repository.Config) queue.DeadLetterSink { return b }

func (b *fakeBroker) DeadLetter(_ context.Context, letter queue.DeadLetter) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deadLetterErr != nil {
		return b.deadLetterErr
	}
	b.deadLetters = append(b.deadLetters, letter)
	return nil
}

func (b *fakeBroker) Teardown(_ context.Context, _ repository.Config) error {
	b.tornDown.Add(1)
	return nil
}

type fakeConsumer struct {
	broker *fakeBroker
}

func (c *fakeConsumer) Next(ctx context.Context, wait time.Duration) (queue.Delivery, error) {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case d := <-c.broker.messages:
		return d, nil
	case <-t.C:
		return nil, queue.ErrNoMessage
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConsumer) Close() error {
	c.broker.closed.Add(1)
	return nil
}

type fakeDelivery struct {
	broker    *fakeBroker
	env       queue.Envelope
	delivered uint64
}

func (d *fakeDelivery) Envelope() queue.Envelope { return d.env }
func (d *fakeDelivery) NumDelivered() uint64     { return d.delivered }

func (d *fakeDelivery) Ack(_ context.Context) error {
	d.broker.acked.Add(1)
	return nil
}

func (d *fakeDelivery) Nak(_ time.Duration) error {
	if d.delivered >= d.broker.maxDeliver {
		d.broker.exhausted.Add(1)
		return nil
	}
	d.broker.messages <- &fakeDelivery{broker: d.broker, env: d.env, delivered: d.delivered + 1}
	return nil
}

// fakeStore keeps entries in memory and can fail or panic on demand
type fakeStore struct {
	mu       sync.Mutex
	entries  map[string]map[string]*entry.Entry
	failures int
	refuse   bool
	panicMsg string
	inserts  atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]map[string]*entry.Entry)}
}

func (s *fakeStore) Insert(_ context.Context, repo string, e *entry.Entry) error {
	s.inserts.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.refuse {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "fakeStore", "Insert", "encode entry")
	}
	if s.failures > 0 {
		s.failures--
		return errors.WrapTransient(errors.ErrStorageUnavailable, "fakeStore", "Insert", "insert")
	}
	if s.entries[repo] == nil {
		s.entries[repo] = make(map[string]*entry.Entry)
	}
	s.entries[repo][e.ID] = e
	return nil
}

func (s *fakeStore) Get(_ context.Context, repo, id string) (*entry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[repo][id]
	if !ok {
		return nil, errors.ErrEntryNotFound
	}
	return e, nil
}

func (s *fakeStore) Count(_ context.Context, repo string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries[repo])), nil
}

func (s *fakeStore) all(repo string) []*entry.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entry.Entry, 0, len(s.entries[repo]))
	for _, e := range s.entries[repo] {
		out = append(out, e)
	}
	return out
}

func (s *fakeStore) Close() error { return nil }

// fakeSource serves a fixed list of configs
type fakeSource struct {
	mu       sync.Mutex
	configs  []repository.Config
	rejected []string
	err      error
}

func (s *fakeSource) set(configs ...repository.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = configs
}

func (s *fakeSource) List(ctx context.Context) ([]repository.Config, error) {
	configs, _, err := s.Inspect(ctx)
	return configs, err
}

func (s *fakeSource) Inspect(_ context.Context) ([]repository.Config, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, nil, s.err
	}
	out := make([]repository.Config, len(s.configs))
	for i, c := range s.configs {
		out[i] = c.Clone()
	}
	return out, slices.Clone(s.rejected), nil
}
