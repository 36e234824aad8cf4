package index

import (
	"context"
	"errors"

	"github.com/spinplugins/plugin-release/pkg/registry"
)

var ErrNotFound = errors.New("release not found")

// Store keeps the record of every published release of a plugin.
type Store interface {
	SaveRelease(ctx context.Context, release *registry.Release) error
	GetRelease(ctx context.Context, name, channel string) (*registry.Release, error)
	ListReleases(ctx context.Context, name string) (registry.Releases, error)
}
