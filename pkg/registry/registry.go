package registry

import (
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spinplugins/plugin-release/pkg/manifest"
)

const CanaryChannel = "canary"

// Release is the record of one published plugin release.
type Release struct {
	Name         string
	Channel      string
	Version      string
	Prerelease   bool
	Commit       string
	CreatedAt    time.Time
	UpdatedAt    time.Time `firestore:"-"`
	ReleaseURL   string
	ChecksumsURL string
	Assets       []string
	Manifest     *manifest.Manifest
}

func (r *Release) IsCanary() bool {
	return r.Channel == CanaryChannel
}

// Clone returns a copy of r that shares no slices or pointers with it.
func (r *Release) Clone() *Release {
	ret := *r
	if r.Assets != nil {
		ret.Assets = append([]string(nil), r.Assets...)
	}
	ret.Manifest = r.Manifest.Clone()
	return &ret
}

type Releases []*Release

func (l Releases) Find(channel string) *Release {
	for _, r := range l {
		if r.Channel == channel {
			return r
		}
	}
	return nil
}

// Latest returns the highest stable release. Canary and prerelease
// channels are never considered.
func (l Releases) Latest() *Release {
	var (
		latest        *Release
		latestVersion *semver.Version
	)
	for _, r := range l {
		if r.IsCanary() || r.Prerelease {
			continue
		}
		v, err := semver.NewVersion(r.Version)
		if err != nil {
			continue
		}
		if latestVersion == nil || v.GreaterThan(latestVersion) {
			latest, latestVersion = r, v
		}
	}
	return latest
}

// Channels returns all channel names, stable releases sorted by version
// (newest first) followed by canary.
func (l Releases) Channels() []string {
	type entry struct {
		channel string
		version *semver.Version
	}
	entries := make([]entry, 0, len(l))
	hasCanary := false
	for _, r := range l {
		if r.IsCanary() {
			hasCanary = true
			continue
		}
		v, err := semver.NewVersion(r.Version)
		if err != nil {
			continue
		}
		entries = append(entries, entry{channel: r.Channel, version: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].version.GreaterThan(entries[j].version)
	})
	ret := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		ret = append(ret, e.channel)
	}
	if hasCanary {
		ret = append(ret, CanaryChannel)
	}
	return ret
}
