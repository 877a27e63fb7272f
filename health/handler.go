package health

import (
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/zhikook/chililog-server/engine"
)

// RepositoryReporter lists repository snapshots; implemented by *engine.Manager
type RepositoryReporter interface {
	Status() []engine.RepositoryStatus
}

// Checker combines the process components tracked by a Monitor with the
// repositories of a RepositoryReporter
type Checker struct {
	system  string
	monitor *Monitor
	repos   RepositoryReporter
	logger  *slog.Logger
}

// NewChecker creates a checker. Either monitor or repos may be nil.
func NewChecker(system string, monitor *Monitor, repos RepositoryReporter, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{system: system, monitor: monitor, repos: repos, logger: logger.With("component", "health")}
}

// Check builds the current system status
func (c *Checker) Check() Status {
	var subs []Status
	if c.monitor != nil {
		subs = append(subs, c.monitor.Statuses()...)
	}
	if c.repos != nil {
		snapshots := c.repos.Status()
		repos := make([]Status, 0, len(snapshots))
		for _, rs := range snapshots {
			repos = append(repos, FromRepository(rs))
		}
		subs = append(subs, Aggregate("repositories", repos))
	}
	return Aggregate(c.system, subs)
}

// ServeHTTP writes the system status as JSON. Unhealthy systems answer 503
// so load balancers can act on the status code alone.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	status := c.Check()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		c.logger.Debug("Writing health response failed", "error", err)
	}
}
