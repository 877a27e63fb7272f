package engine

import (
	"context"

	"github.com/zhikook/chililog-server/repository"
)

// Follow reloads repositories every time changes delivers a changed config
// key, until changes is closed or ctx ends. Repositories added by a change
// are brought Online when their startup status says so; existing ones keep
// the state an administrator left them in.
func (m *Manager) Follow(ctx context.Context, changes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-changes:
			if !ok {
				return
			}
			m.reload(ctx, drain(changes, key))
		}
	}
}

// drain collects changes already queued so a burst causes one reload
func drain(changes <-chan string, first string) []string {
	keys := []string{first}
	for {
		select {
		case key, ok := <-changes:
			if !ok {
				return keys
			}
			keys = append(keys, key)
		default:
			return keys
		}
	}
}

func (m *Manager) reload(ctx context.Context, keys []string) {
	before := make(map[string]struct{})
	for _, repo := range m.Repositories() {
		before[repo.Name()] = struct{}{}
	}

	if err := m.LoadRepositories(ctx); err != nil {
		m.logger.Error("Reloading repositories failed", "keys", keys, "error", err)
	}

	for _, repo := range m.Repositories() {
		if _, ok := before[repo.Name()]; ok {
			continue
		}
		if repo.Config().StartupStatus != repository.StatusOnline {
			continue
		}
		if err := repo.Start(ctx); err != nil {
			m.logger.Error("Added repository failed to start", "repository", repo.Name(), "error", err)
		}
	}
	m.logger.Info("Repositories reloaded", "keys", keys, "count", len(m.Repositories()))
}
