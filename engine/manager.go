package engine

import (
	"context"
	stderrors "errors"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/repository"
)

// RepositoryStatus is a health snapshot of one repository
type RepositoryStatus struct {
	Name          string            `json:"name"`
	Status        repository.Status `json:"status"`
	StartupStatus repository.Status `json:"startup_status"`
	WorkerCount   int               `json:"worker_count"`
	Running       int               `json:"running"`
	Workers       []WorkerInfo      `json:"workers,omitempty"`
}

// Manager owns every repository of the process
type Manager struct {
	source repository.Source
	deps   Dependencies
	logger *slog.Logger

	mu    sync.RWMutex
	repos map[string]*Repository
}

// NewManager creates a manager that loads repository configs from source
func NewManager(source repository.Source, deps Dependencies) *Manager {
	deps = deps.withDefaults()
	return &Manager{
		source: source,
		deps:   deps,
		logger: deps.Logger.With("component", "repository_manager"),
		repos:  make(map[string]*Repository),
	}
}

// LoadRepositories reconciles the held repositories with the config source.
// Unchanged repositories are left alone, changed ones get the new config (and
// are restarted if they were Online), removed ones are stopped and dropped.
// A repository whose stored config became unreadable keeps running with the
// config it already has.
func (m *Manager) LoadRepositories(ctx context.Context) error {
	configs, rejected, err := m.listConfigs(ctx)
	if err != nil {
		return errors.WrapTransient(err, "Manager", "LoadRepositories", "list repository configs")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	seen := make(map[string]struct{}, len(configs)+len(rejected))
	for _, name := range rejected {
		if _, ok := m.repos[name]; ok {
			seen[name] = struct{}{}
			m.logger.Warn("Stored config is invalid, keeping current repository config", "repository", name)
		}
	}
	for _, cfg := range configs {
		seen[cfg.Name] = struct{}{}

		existing, ok := m.repos[cfg.Name]
		if !ok {
			m.repos[cfg.Name] = NewRepository(cfg, m.deps)
			m.logger.Debug("Repository loaded", "repository", cfg.Name)
			continue
		}
		if reflect.DeepEqual(existing.Config(), cfg) {
			continue
		}
		if err := m.reconfigure(ctx, existing, cfg); err != nil {
			errs = append(errs, err)
		}
	}

	for name, repo := range m.repos {
		if _, ok := seen[name]; ok {
			continue
		}
		if repo.Status() == repository.StatusOnline {
			if err := repo.Stop(ctx); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		delete(m.repos, name)
		m.logger.Info("Repository removed", "repository", name)
	}

	return stderrors.Join(errs...)
}

func (m *Manager) listConfigs(ctx context.Context) ([]repository.Config, []string, error) {
	if src, ok := m.source.(repository.InspectingSource); ok {
		return src.Inspect(ctx)
	}
	configs, err := m.source.List(ctx)
	return configs, nil, err
}

func (m *Manager) reconfigure(ctx context.Context, repo *Repository, cfg repository.Config) error {
	wasOnline := repo.Status() == repository.StatusOnline
	if wasOnline {
		if err := repo.Stop(ctx); err != nil {
			return err
		}
	}
	if err := repo.SetConfig(cfg); err != nil {
		return err
	}
	m.logger.Info("Repository reconfigured", "repository", cfg.Name, "restart", wasOnline)
	if wasOnline {
		return repo.Start(ctx)
	}
	return nil
}

// Start brings Online every repository whose startup status is Online.
// Repositories already Online are skipped, so calling it twice is safe.
func (m *Manager) Start(ctx context.Context, bringOnline bool) error {
	if !bringOnline {
		return nil
	}

	var errs []error
	for _, repo := range m.Repositories() {
		if repo.Config().StartupStatus != repository.StatusOnline {
			continue
		}
		if repo.Status() == repository.StatusOnline {
			continue
		}
		if err := repo.Start(ctx); err != nil {
			m.logger.Error("Repository failed to start", "repository", repo.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Stop takes every Online repository Offline. Calling it twice is safe.
func (m *Manager) Stop(ctx context.Context) error {
	var errs []error
	for _, repo := range m.Repositories() {
		if repo.Status() == repository.StatusOffline {
			continue
		}
		if err := repo.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// StartRepository starts one repository. Unlike Start it fails if the repository is already Online.
func (m *Manager) StartRepository(ctx context.Context, name string) error {
	repo, err := m.GetRepository(name)
	if err != nil {
		return err
	}
	return repo.Start(ctx)
}

// StopRepository stops one repository. Unlike Stop it fails if the repository is already Offline.
func (m *Manager) StopRepository(ctx context.Context, name string) error {
	repo, err := m.GetRepository(name)
	if err != nil {
		return err
	}
	return repo.Stop(ctx)
}

// Repository returns the named repository or nil
func (m *Manager) Repository(name string) *Repository {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repos[name]
}

// GetRepository returns the named repository or ErrRepositoryNotFound
func (m *Manager) GetRepository(name string) (*Repository, error) {
	if repo := m.Repository(name); repo != nil {
		return repo, nil
	}
	return nil, errors.WrapInvalid(errors.ErrRepositoryNotFound, "Manager", "GetRepository", "look up "+name)
}

// HasRepository reports whether a repository with that name is loaded
func (m *Manager) HasRepository(name string) bool {
	return m.Repository(name) != nil
}

// Repositories returns all repositories ordered by name
func (m *Manager) Repositories() []*Repository {
	m.mu.RLock()
	names := make([]string, 0, len(m.repos))
	for name := range m.repos {
		names = append(names, name)
	}
	slices.Sort(names)
	repos := make([]*Repository, 0, len(names))
	for _, name := range names {
		repos = append(repos, m.repos[name])
	}
	m.mu.RUnlock()
	return repos
}

// Status returns a snapshot of every repository ordered by name
func (m *Manager) Status() []RepositoryStatus {
	repos := m.Repositories()
	out := make([]RepositoryStatus, 0, len(repos))
	for _, repo := range repos {
		cfg := repo.Config()
		workers := repo.Workers()
		running := 0
		for _, w := range workers {
			if w.Running {
				running++
			}
		}
		out = append(out, RepositoryStatus{
			Name:          cfg.Name,
			Status:        repo.Status(),
			StartupStatus: cfg.StartupStatus,
			WorkerCount:   cfg.WriteQueueWorkerCount,
			Running:       running,
			Workers:       workers,
		})
	}
	return out
}
