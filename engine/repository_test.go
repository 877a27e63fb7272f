package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/repository"
)

func TestRepository_WorkerCount(t *testing.T) {
	for _, workers := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
			f := newFixture(t)
			repo := NewRepository(delimitedRepository("junit_test", workers), f.deps)
			assert.Equal(t, repository.StatusOffline, repo.Status())

			require.NoError(t, repo.Start(context.Background()))
			assert.Equal(t, repository.StatusOnline, repo.Status())
			assert.Equal(t, workers, repo.RunningWorkers())
			assert.Len(t, repo.Workers(), workers)
			assert.Equal(t, int32(workers), f.broker.consumers.Load())
			assert.Equal(t, int32(1), f.broker.provisioned.Load())

			require.NoError(t, repo.Stop(context.Background()))
			assert.Equal(t, repository.StatusOffline, repo.Status())
			assert.Equal(t, 0, repo.RunningWorkers())
			assert.Empty(t, repo.Workers())
			assert.Equal(t, int32(workers), f.broker.closed.Load())
			assert.Equal(t, int32(1), f.broker.tornDown.Load())
		})
	}
}

func TestRepository_StartTwiceFails(t *testing.T) {
	f := newFixture(t)
	repo := startRepository(t, f, delimitedRepository("junit_test", 2))

	err := repo.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRepositoryOnline)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, 2, repo.RunningWorkers())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lifecycle.WithLabelValues("junit_test", eventStart, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lifecycle.WithLabelValues("junit_test", eventStart, "failure")))
}

func TestRepository_StopOfflineFails(t *testing.T) {
	f := newFixture(t)
	repo := NewRepository(delimitedRepository("junit_test", 1), f.deps)

	err := repo.Stop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRepositoryOffline)
	assert.Equal(t, int32(0), f.broker.tornDown.Load())
}

func TestRepository_RestartAfterStop(t *testing.T) {
	f := newFixture(t)
	repo := NewRepository(delimitedRepository("junit_test", 2), f.deps)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Start(context.Background()))
		assert.Equal(t, 2, repo.RunningWorkers())
		require.NoError(t, repo.Stop(context.Background()))
		assert.Equal(t, 0, repo.RunningWorkers())
	}
}

func TestRepository_InvalidParserFailsFast(t *testing.T) {
	f := newFixture(t)
	cfg := delimitedRepository("junit_test", 2)
	cfg.Parsers[0].Type = "no_such_parser"

	repo := NewRepository(cfg, f.deps)
	err := repo.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrUnknownParser)
	assert.Equal(t, repository.StatusOffline, repo.Status())
	assert.Equal(t, int32(0), f.broker.provisioned.Load())
	assert.Equal(t, int32(0), f.broker.consumers.Load())
}

func TestRepository_InvalidConfigFailsFast(t *testing.T) {
	f := newFixture(t)
	cfg := delimitedRepository("junit_test", 0)

	repo := NewRepository(cfg, f.deps)
	err := repo.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Equal(t, repository.StatusOffline, repo.Status())
}

func TestRepository_ProvisionFailure(t *testing.T) {
	f := newFixture(t)
	f.broker.provisionErr = fmt.Errorf("jetstream not enabled")

	repo := NewRepository(delimitedRepository("junit_test", 1), f.deps)
	err := repo.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, repository.StatusOffline, repo.Status())
	assert.Equal(t, 0, repo.RunningWorkers())
}

func TestRepository_ProvisionRefused(t *testing.T) {
	f := newFixture(t)
	f.broker.provisionErr = errors.WrapInvalid(errors.ErrInvalidConfig, "Broker", "Provision", "reconcile write queue storage")

	repo := NewRepository(delimitedRepository("junit_test", 1), f.deps)
	err := repo.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.False(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Equal(t, repository.StatusOffline, repo.Status())
}

func TestRepository_SetConfig(t *testing.T) {
	f := newFixture(t)
	repo := startRepository(t, f, delimitedRepository("junit_test", 1))

	updated := delimitedRepository("junit_test", 4)
	err := repo.SetConfig(updated)
	assert.ErrorIs(t, err, errors.ErrRepositoryOnline)
	assert.Equal(t, 1, repo.Config().WriteQueueWorkerCount)

	require.NoError(t, repo.Stop(context.Background()))
	require.NoError(t, repo.SetConfig(updated))
	assert.Equal(t, 4, repo.Config().WriteQueueWorkerCount)

	err = repo.SetConfig(delimitedRepository("renamed", 1))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	require.NoError(t, repo.Start(context.Background()))
	assert.Equal(t, 4, repo.RunningWorkers())
}
