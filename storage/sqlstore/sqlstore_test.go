package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
)

func openTestStore(t *testing.T, pool int) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "entries.db"), pool, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEntry() *entry.Entry {
	e := &entry.Entry{
		ID:             uuid.NewString(),
		Repository:     "sandbox",
		Timestamp:      time.Date(2001, 5, 5, 5, 5, 5, 0, time.UTC),
		SavedTimestamp: time.Date(2011, 1, 1, 0, 0, 0, 123000000, time.UTC),
		Source:         "junit",
		Host:           "localhost",
		Severity:       entry.SeverityWarning,
		Message:        "line1|2|3|4.4|2001-5-5 5:5:5|True",
		Keywords:       []string{"line1", "2"},
	}
	e.AddField("field1", entry.DataTypeString, "line1")
	e.AddField("field2", entry.DataTypeInteger, int32(2))
	e.AddField("field3", entry.DataTypeLong, int64(3))
	e.AddField("field4", entry.DataTypeDouble, 4.4)
	e.AddField("field5", entry.DataTypeDate, time.Date(2001, 5, 5, 5, 5, 5, 0, time.UTC))
	e.AddField("field6", entry.DataTypeBoolean, true)
	return e
}

func TestStore_RoundTrip(t *testing.T) {
	store := openTestStore(t, 2)
	ctx := context.Background()

	e := sampleEntry()
	require.NoError(t, store.Insert(ctx, "sandbox", e))

	got, err := store.Get(ctx, "sandbox", e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	n, err := store.Count(ctx, "sandbox")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Count(ctx, "other-repo")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestStore_Errors(t *testing.T) {
	store := openTestStore(t, 1)
	ctx := context.Background()

	_, err := store.Get(ctx, "sandbox", "missing")
	assert.ErrorIs(t, err, errors.ErrEntryNotFound)

	err = store.Insert(ctx, "sandbox", &entry.Entry{})
	assert.True(t, errors.IsInvalid(err))

	e := sampleEntry()
	require.NoError(t, store.Insert(ctx, "sandbox", e))
	err = store.Insert(ctx, "sandbox", e)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrStorageUnavailable)
}

func TestStore_ConcurrentInserts(t *testing.T) {
	store := openTestStore(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := sampleEntry()
			e.Message = fmt.Sprintf("message %d", i)
			assert.NoError(t, store.Insert(ctx, "busy", e))
		}(i)
	}
	wg.Wait()

	n, err := store.Count(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}
