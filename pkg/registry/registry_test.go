package registry

import (
	"testing"

	"github.com/spinplugins/plugin-release/pkg/manifest"
	"github.com/stretchr/testify/require"
)

func newTestReleases() Releases {
	return Releases{
		{Name: "cloud", Channel: "v1.0.0", Version: "1.0.0"},
		{Name: "cloud", Channel: "canary", Version: "1.3.0-canary+abc1234", Prerelease: true},
		{Name: "cloud", Channel: "v1.2.0", Version: "1.2.0"},
		{Name: "cloud", Channel: "v1.3.0-rc.1", Version: "1.3.0-rc.1", Prerelease: true},
		{Name: "cloud", Channel: "v1.1.0", Version: "1.1.0"},
	}
}

func TestLatest(t *testing.T) {
	latest := newTestReleases().Latest()
	require.NotNil(t, latest)
	require.Equal(t, "v1.2.0", latest.Channel)

	require.Nil(t, Releases{{Channel: "canary", Version: "1.0.0-canary"}}.Latest())
}

func TestFind(t *testing.T) {
	releases := newTestReleases()
	require.True(t, releases.Find("canary").IsCanary())
	require.Equal(t, "1.1.0", releases.Find("v1.1.0").Version)
	require.Nil(t, releases.Find("v9.9.9"))
}

func TestChannels(t *testing.T) {
	require.Equal(t, []string{"v1.3.0-rc.1", "v1.2.0", "v1.1.0", "v1.0.0", "canary"}, newTestReleases().Channels())
}

func TestClone(t *testing.T) {
	r := &Release{
		Name:    "cloud",
		Channel: "v1.0.0",
		Assets:  []string{"cloud-v1.0.0-linux-amd64.tar.gz"},
		Manifest: &manifest.Manifest{
			Name:     "cloud",
			Packages: []*manifest.Package{{OS: "linux", Arch: "amd64", URL: "https://example.com/a"}},
		},
	}
	c := r.Clone()
	require.Equal(t, r, c)

	c.Assets[0] = "other"
	c.Manifest.Name = "other"
	c.Manifest.Packages[0].URL = "https://example.com/b"
	require.Equal(t, "cloud-v1.0.0-linux-amd64.tar.gz", r.Assets[0])
	require.Equal(t, "cloud", r.Manifest.Name)
	require.Equal(t, "https://example.com/a", r.Manifest.Packages[0].URL)

	require.Nil(t, (&Release{Name: "cloud"}).Clone().Manifest)
}
