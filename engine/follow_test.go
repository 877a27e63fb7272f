package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/repository"
)

func TestManager_FollowAppliesChanges(t *testing.T) {
	f := newFixture(t)
	m, source := newTestManager(t, f,
		delimitedRepository("stopped", 1),
		delimitedRepository("removed", 1),
	)
	require.NoError(t, m.Start(context.Background(), true))
	require.NoError(t, m.StopRepository(context.Background(), "stopped"))

	changes := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		m.Follow(context.Background(), changes)
		close(done)
	}()

	source.set(
		delimitedRepository("stopped", 1),
		delimitedRepository("added", 2),
		offlineAtStartup(delimitedRepository("parked", 1)),
	)
	changes <- "added"
	changes <- "parked"
	changes <- "removed"

	assert.Eventually(t, func() bool {
		repo := m.Repository("added")
		return repo != nil && repo.Status() == repository.StatusOnline
	}, waitFor, tick)
	assert.Equal(t, 2, m.Repository("added").RunningWorkers())
	assert.Equal(t, repository.StatusOffline, m.Repository("parked").Status())
	assert.Equal(t, repository.StatusOffline, m.Repository("stopped").Status(), "existing repositories keep their state")
	assert.False(t, m.HasRepository("removed"))

	close(changes)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Follow did not return after changes closed")
	}
}

func TestManager_FollowStopsWithContext(t *testing.T) {
	f := newFixture(t)
	m, _ := newTestManager(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Follow(ctx, make(chan string))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Follow did not return after cancel")
	}
}

func TestDrainCollectsBurst(t *testing.T) {
	changes := make(chan string, 3)
	changes <- "b"
	changes <- "c"
	assert.Equal(t, []string{"a", "b", "c"}, drain(changes, "a"))

	close(changes)
	assert.Equal(t, []string{"a"}, drain(changes, "a"))
}
