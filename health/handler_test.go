package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/engine"
	"github.com/zhikook/chililog-server/repository"
)

type staticRepos []engine.RepositoryStatus

func (s staticRepos) Status() []engine.RepositoryStatus { return s }

func online(name string, workers, running int) engine.RepositoryStatus {
	return engine.RepositoryStatus{Name: name, Status: repository.StatusOnline, StartupStatus: repository.StatusOnline,
		WorkerCount: workers, Running: running}
}

func serve(t *testing.T, checker *Checker, method string) (*httptest.ResponseRecorder, Status) {
	t.Helper()
	rec := httptest.NewRecorder()
	checker.ServeHTTP(rec, httptest.NewRequest(method, "/health", nil))

	var status Status
	if method == http.MethodGet && rec.Code != http.StatusMethodNotAllowed {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	}
	return rec, status
}

func TestChecker_Healthy(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("nats", "Connected")
	checker := NewChecker("chililog", monitor, staticRepos{online("sandbox", 2, 2)}, nil)

	rec, status := serve(t, checker, http.MethodGet)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, StateHealthy, status.Status)
	require.Len(t, status.SubStatuses, 2)
	assert.Equal(t, "nats", status.SubStatuses[0].Component)
	assert.Equal(t, "repositories", status.SubStatuses[1].Component)
	assert.Equal(t, "sandbox", status.SubStatuses[1].SubStatuses[0].Component)
}

func TestChecker_DegradedRepositoryStillServes(t *testing.T) {
	checker := NewChecker("chililog", nil, staticRepos{online("sandbox", 3, 3), online("audit", 3, 1)}, nil)

	rec, status := serve(t, checker, http.MethodGet)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StateDegraded, status.Status)

	repos := status.SubStatuses[0]
	assert.Equal(t, StateDegraded, repos.Status)
	assert.Equal(t, StateDegraded, repos.SubStatuses[1].Status)
	assert.Equal(t, 1, repos.SubStatuses[1].Metrics.RunningWorkers)
}

func TestChecker_UnhealthyIsUnavailable(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateUnhealthy("nats", "Disconnected")
	checker := NewChecker("chililog", monitor, nil, nil)

	rec, status := serve(t, checker, http.MethodGet)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, status.IsUnhealthy())

	rec, _ = serve(t, checker, http.MethodHead)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestChecker_MethodNotAllowed(t *testing.T) {
	checker := NewChecker("chililog", nil, nil, nil)

	rec, _ := serve(t, checker, http.MethodPost)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}
