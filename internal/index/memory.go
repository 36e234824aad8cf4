package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spinplugins/plugin-release/pkg/registry"
)

// Memory is a process local Store used by tests and by servers running
// without a database.
type Memory struct {
	mu       sync.RWMutex
	releases map[string]map[string]*registry.Release
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		releases: make(map[string]map[string]*registry.Release),
		now:      time.Now,
	}
}

func (m *Memory) SaveRelease(_ context.Context, release *registry.Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	channels, ok := m.releases[release.Name]
	if !ok {
		channels = make(map[string]*registry.Release)
		m.releases[release.Name] = channels
	}
	stored := release.Clone()
	stored.UpdatedAt = m.now()
	channels[release.Channel] = stored
	return nil
}

func (m *Memory) GetRelease(_ context.Context, name, channel string) (*registry.Release, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	release, ok := m.releases[name][channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, name, channel)
	}
	return release.Clone(), nil
}

func (m *Memory) ListReleases(_ context.Context, name string) (registry.Releases, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make(registry.Releases, 0, len(m.releases[name]))
	for _, release := range m.releases[name] {
		ret = append(ret, release.Clone())
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Channel < ret[j].Channel
	})
	return ret, nil
}
