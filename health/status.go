package health

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zhikook/chililog-server/engine"
	"github.com/zhikook/chililog-server/repository"
)

// Health states
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of a component, optionally built from sub-statuses
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics summarizes the storage workers behind a repository status
type Metrics struct {
	WorkerCount    int    `json:"worker_count"`
	RunningWorkers int    `json:"running_workers"`
	CrashedWorkers int    `json:"crashed_workers"`
	Processed      uint64 `json:"processed"`
	DeadLettered   uint64 `json:"dead_lettered"`
	Redelivered    uint64 `json:"redelivered"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(subStatus Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, subStatus)
	return s
}

// FromRepository reports a repository snapshot. An Online repository with
// fewer running workers than configured is degraded, with none it is
// unhealthy. An Offline repository configured to start Online is degraded.
func FromRepository(rs engine.RepositoryStatus) Status {
	metrics := &Metrics{WorkerCount: rs.WorkerCount, RunningWorkers: rs.Running}
	for _, w := range rs.Workers {
		if w.Crashed {
			metrics.CrashedWorkers++
		}
		metrics.Processed += w.Processed
		metrics.DeadLettered += w.DeadLettered
		metrics.Redelivered += w.Redelivered
	}

	var status Status
	switch {
	case rs.Status != repository.StatusOnline && rs.StartupStatus == repository.StatusOnline:
		status = NewDegraded(rs.Name, "Offline, configured to start Online")
	case rs.Status != repository.StatusOnline:
		status = NewHealthy(rs.Name, "Offline")
	case rs.Running == 0:
		status = NewUnhealthy(rs.Name, "Online with no running storage workers")
	case rs.Running < rs.WorkerCount:
		status = NewDegraded(rs.Name, fmt.Sprintf("Online with %d of %d storage workers running", rs.Running, rs.WorkerCount))
	default:
		status = NewHealthy(rs.Name, fmt.Sprintf("Online with %d storage workers", rs.WorkerCount))
	}
	return status.WithMetrics(metrics)
}

// FromError reports a component as healthy when err is nil, otherwise as
// unhealthy with a sanitized message
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "OK")
	}
	return NewUnhealthy(component, sanitizeErrorMessage(err.Error()))
}

// sanitizeErrorMessage strips addresses, paths and credentials from error
// text served on the unauthenticated health endpoint.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	for _, word := range []string{"password", "token", "secret", "credential"} {
		if strings.Contains(lower, word) {
			return credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
		}
	}
	return sanitized
}
