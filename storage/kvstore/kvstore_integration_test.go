package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
)

func TestStore_Integration_RoundTrip(t *testing.T) {
	client := getSharedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store := New(client, DefaultConfig(), nil)
	defer store.Close()

	e := &entry.Entry{
		ID:             uuid.NewString(),
		Repository:     "kv_round_trip",
		Timestamp:      time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC),
		SavedTimestamp: time.Now().UTC().Truncate(time.Millisecond),
		Source:         "app",
		Host:           "web-1",
		Severity:       entry.SeverityError,
		Message:        "line1|2|3",
		Keywords:       []string{"line1"},
	}
	e.AddField("field1", entry.DataTypeString, "line1")
	e.AddField("field2", entry.DataTypeInteger, int32(2))
	e.AddField("field3", entry.DataTypeLong, int64(3))

	require.NoError(t, store.Insert(ctx, "kv_round_trip", e))

	got, err := store.Get(ctx, "kv_round_trip", e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	n, err := store.Count(ctx, "kv_round_trip")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, "kv_round_trip", "missing")
	assert.ErrorIs(t, err, errors.ErrEntryNotFound)
}

func TestStore_InsertWithoutID(t *testing.T) {
	store := New(nil, DefaultConfig(), nil)
	err := store.Insert(context.Background(), "sandbox", &entry.Entry{})
	assert.True(t, errors.IsInvalid(err))
}
