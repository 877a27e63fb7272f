// Package storage defines the entry store used by storage workers.
package storage

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
)

// EntryStore persists parsed entries, one collection per repository.
//
// Implementations must be safe for concurrent use. Insert errors are
// treated as transient by the storage worker, which rolls the message back
// for redelivery.
type EntryStore interface {
	// Insert stores e under e.ID in the collection of repository
	Insert(ctx context.Context, repository string, e *entry.Entry) error

	// Get reads an entry back. Returns errors.ErrEntryNotFound when absent.
	Get(ctx context.Context, repository, id string) (*entry.Entry, error)

	// Count returns the number of entries stored for repository
	Count(ctx context.Context, repository string) (int64, error)

	Close() error
}

// Bounded limits the number of concurrent calls into a store. Storage
// workers beyond the limit wait for a slot, which is the backpressure point
// when worker count exceeds store concurrency.
type Bounded struct {
	store EntryStore
	sem   *semaphore.Weighted
	size  int64
}

// NewBounded wraps store with a pool of size slots. A size below 1 means 1.
func NewBounded(store EntryStore, size int) *Bounded {
	if size < 1 {
		size = 1
	}
	return &Bounded{store: store, sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size returns the number of slots
func (b *Bounded) Size() int { return int(b.size) }

func (b *Bounded) acquire(ctx context.Context, method string) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return errors.WrapTransient(err, "Bounded", method, "acquire store slot")
	}
	return nil
}

// Insert waits for a slot, then inserts
func (b *Bounded) Insert(ctx context.Context, repository string, e *entry.Entry) error {
	if err := b.acquire(ctx, "Insert"); err != nil {
		return err
	}
	defer b.sem.Release(1)
	return b.store.Insert(ctx, repository, e)
}

// Get waits for a slot, then reads
func (b *Bounded) Get(ctx context.Context, repository, id string) (*entry.Entry, error) {
	if err := b.acquire(ctx, "Get"); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)
	return b.store.Get(ctx, repository, id)
}

// Count waits for a slot, then counts
func (b *Bounded) Count(ctx context.Context, repository string) (int64, error) {
	if err := b.acquire(ctx, "Count"); err != nil {
		return 0, err
	}
	defer b.sem.Release(1)
	return b.store.Count(ctx, repository)
}

// Close closes the wrapped store
func (b *Bounded) Close() error {
	return b.store.Close()
}
