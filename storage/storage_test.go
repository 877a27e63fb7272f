package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
)

type slowStore struct {
	active  atomic.Int32
	peak    atomic.Int32
	inserts atomic.Int32
}

func (s *slowStore) Insert(context.Context, string, *entry.Entry) error {
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	s.active.Add(-1)
	s.inserts.Add(1)
	return nil
}

func (s *slowStore) Get(context.Context, string, string) (*entry.Entry, error) {
	return nil, errors.ErrEntryNotFound
}

func (s *slowStore) Count(context.Context, string) (int64, error) {
	return int64(s.inserts.Load()), nil
}

func (s *slowStore) Close() error { return nil }

func TestBounded_LimitsConcurrency(t *testing.T) {
	inner := &slowStore{}
	store := NewBounded(inner, 2)
	assert.Equal(t, 2, store.Size())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Insert(context.Background(), "sandbox", &entry.Entry{}))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, inner.peak.Load(), int32(2))
	n, err := store.Count(context.Background(), "sandbox")
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestBounded_CancelledWhileWaiting(t *testing.T) {
	store := NewBounded(&slowStore{}, 0)
	require.NoError(t, store.sem.Acquire(context.Background(), 1))
	defer store.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := store.Insert(ctx, "sandbox", &entry.Entry{})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
