package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/google/go-github/v59/github"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spinplugins/plugin-release/internal/channel"
	"github.com/spinplugins/plugin-release/internal/config"
	"github.com/spinplugins/plugin-release/internal/index"
	"github.com/spinplugins/plugin-release/internal/publish"
	"github.com/spinplugins/plugin-release/pkg/manifest"
	"github.com/spinplugins/plugin-release/pkg/registry"
	"github.com/stretchr/testify/require"
)

const testProject = `
name: cloud
description: Commands for publishing applications to the cloud.
license: Apache-2.0
spinCompatibility: ">=2.0"
version: 0.9.0
targets:
  - {os: linux, arch: amd64, triple: x86_64-unknown-linux-gnu}
  - {os: linux, arch: aarch64, triple: aarch64-unknown-linux-gnu}
  - {os: macos, arch: aarch64, triple: aarch64-apple-darwin}
  - {os: windows, arch: amd64, triple: x86_64-pc-windows-msvc}
`

type fakeBuilder struct {
	dir    string
	failOn string
	mu     sync.Mutex
	built  []string
}

func (b *fakeBuilder) Output(target *config.Target) (string, error) {
	return filepath.Join(b.dir, target.Triple, "cloud"+target.Platform().ExeSuffix()), nil
}

func (b *fakeBuilder) Build(_ context.Context, target *config.Target) (string, error) {
	if target.Triple == b.failOn {
		return "", errors.New("linker not found")
	}
	out, _ := b.Output(target)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(out, []byte("binary for "+target.Triple), 0o755); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.built = append(b.built, target.Triple)
	b.mu.Unlock()
	return out, nil
}

type fakePublisher struct {
	releases []*publish.Release
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, rel *publish.Release) (*github.RepositoryRelease, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.releases = append(p.releases, rel)
	return &github.RepositoryRelease{
		TagName: github.String(rel.Channel.Tag()),
		HTMLURL: github.String("https://github.com/example/cloud-plugin/releases/tag/" + rel.Channel.Tag()),
	}, nil
}

type fakeMirror struct {
	uploads map[string]string
}

func (m *fakeMirror) Upload(_ context.Context, channel string, asset publish.Asset, checksum string) (bool, error) {
	m.uploads[channel+"/"+asset.Name] = checksum
	return true, nil
}

type fakeRegistry struct {
	token    string
	releases []*registry.Release
}

func (r *fakeRegistry) PutRelease(_ context.Context, token string, release *registry.Release) error {
	r.token = token
	r.releases = append(r.releases, release)
	return nil
}

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

func newTestPipeline(t *testing.T, channelName string, selectors ...string) (*Pipeline, *fakeBuilder) {
	p, err := config.ParseProject([]byte(testProject))
	require.NoError(t, err)
	targets, err := p.SelectTargets(selectors)
	require.NoError(t, err)
	dir := t.TempDir()
	p.LicenseFile = filepath.Join(dir, "LICENSE")
	require.NoError(t, os.WriteFile(p.LicenseFile, []byte("Apache License"), 0o644))
	ch, err := channel.Parse(channelName)
	require.NoError(t, err)
	builder := &fakeBuilder{dir: filepath.Join(dir, "target")}
	return New(newTestLogger(), Options{
		Project:    p,
		Channel:    ch,
		Targets:    targets,
		Commit:     "0123456789abcdef",
		Repository: "example/cloud-plugin",
		DistDir:    filepath.Join(dir, "dist"),
		ModTime:    time.Unix(1700000000, 0),
	}, builder), builder
}

func fileSHA256(t *testing.T, path string) string {
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func TestRun(t *testing.T) {
	pl, builder := newTestPipeline(t, "v0.9.0")
	publisher := &fakePublisher{}
	mirror := &fakeMirror{uploads: make(map[string]string)}
	store := index.NewMemory()
	reg := &fakeRegistry{}
	e, err := openpgp.NewEntity("Release Bot", "", "release@example.com", nil)
	require.NoError(t, err)
	pl.WithPublisher(publisher).WithMirror(mirror).WithIndex(store).WithRegistry(reg, "admin-token").WithSigner(e)

	res, err := pl.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"x86_64-unknown-linux-gnu", "aarch64-unknown-linux-gnu", "aarch64-apple-darwin", "x86_64-pc-windows-msvc"}, builder.built)

	// one tarball and one descriptor per target
	require.Len(t, res.Artifacts, 4)
	require.Len(t, res.Manifest.Packages, 4)
	for _, a := range res.Artifacts {
		require.Equal(t, fileSHA256(t, a.Path), a.SHA256)
		sum, ok := res.Sums.Get(a.FileName)
		require.True(t, ok)
		require.Equal(t, a.SHA256, sum)
		pkg := res.Manifest.Find(a.Platform.OS, a.Platform.Arch)
		require.NotNil(t, pkg)
		require.Equal(t, a.SHA256, pkg.SHA256)
	}

	saved, err := manifest.Load(res.ManifestPath)
	require.NoError(t, err)
	require.Equal(t, "0.9.0", saved.Version)

	require.Len(t, publisher.releases, 1)
	require.Len(t, publisher.releases[0].Assets, 7)
	require.FileExists(t, res.SignaturePath)

	require.Len(t, mirror.uploads, 7)
	require.Equal(t, res.Artifacts[0].SHA256, mirror.uploads["v0.9.0/"+res.Artifacts[0].FileName])

	indexed, err := store.GetRelease(context.Background(), "cloud", "v0.9.0")
	require.NoError(t, err)
	require.Equal(t, "https://github.com/example/cloud-plugin/releases/download/v0.9.0/checksums-v0.9.0.txt", indexed.ChecksumsURL)
	require.Equal(t, "https://github.com/example/cloud-plugin/releases/tag/v0.9.0", indexed.ReleaseURL)
	require.False(t, indexed.Prerelease)

	require.Equal(t, "admin-token", reg.token)
	require.Len(t, reg.releases, 1)
}

func TestRunSelectedTargets(t *testing.T) {
	pl, builder := newTestPipeline(t, "v0.9.0", "linux/amd64")
	publisher := &fakePublisher{}
	pl.WithPublisher(publisher)

	res, err := pl.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"x86_64-unknown-linux-gnu"}, builder.built)
	require.Len(t, res.Artifacts, 1)
	require.Len(t, res.Sums, 1)
	require.Len(t, res.Manifest.Packages, 1)
	pkg := res.Manifest.Find("linux", "amd64")
	require.NotNil(t, pkg)
	require.Equal(t, res.Artifacts[0].SHA256, pkg.SHA256)
	require.Len(t, publisher.releases[0].Assets, 3)

	// the later steps read the subset back from dist
	res, err = pl.Manifest(nil)
	require.NoError(t, err)
	require.Len(t, res.Manifest.Packages, 1)
}

func TestPublishWarnsWhenIndexingWithoutRegistry(t *testing.T) {
	pl, _ := newTestPipeline(t, channel.Canary, "linux/amd64")
	hook := test.NewLocal(pl.log)
	pl.WithPublisher(&fakePublisher{}).WithIndex(index.NewMemory())
	_, err := pl.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, hook.LastEntry())
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	require.Contains(t, hook.LastEntry().Message, "without a registry server")

	pl, _ = newTestPipeline(t, channel.Canary, "linux/amd64")
	hook = test.NewLocal(pl.log)
	pl.WithPublisher(&fakePublisher{}).WithIndex(index.NewMemory()).WithRegistry(&fakeRegistry{}, "admin-token")
	_, err = pl.Run(context.Background())
	require.NoError(t, err)
	for _, e := range hook.AllEntries() {
		require.NotEqual(t, logrus.WarnLevel, e.Level)
	}
}

func TestRunStopsOnBuildFailure(t *testing.T) {
	pl, builder := newTestPipeline(t, channel.Canary)
	builder.failOn = "aarch64-apple-darwin"
	publisher := &fakePublisher{}
	pl.WithPublisher(publisher)

	_, err := pl.Run(context.Background())
	require.ErrorContains(t, err, "failed to build macos/aarch64")
	require.Empty(t, publisher.releases)
	_, err = os.Stat(filepath.Join(pl.opts.DistDir, "checksums-canary.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunStopsOnPublishFailure(t *testing.T) {
	pl, _ := newTestPipeline(t, channel.Canary)
	store := index.NewMemory()
	pl.WithPublisher(&fakePublisher{err: errors.New("bad credentials")}).WithIndex(store)
	_, err := pl.Run(context.Background())
	require.ErrorContains(t, err, "bad credentials")
	releases, err := store.ListReleases(context.Background(), "cloud")
	require.NoError(t, err)
	require.Empty(t, releases)
}

func TestStepsFromDist(t *testing.T) {
	pl, _ := newTestPipeline(t, channel.Canary)
	ctx := context.Background()

	binaries, err := pl.Build(ctx)
	require.NoError(t, err)
	_, err = pl.Package(ctx, binaries)
	require.NoError(t, err)

	artifacts, err := pl.Artifacts(ctx)
	require.NoError(t, err)
	res, err := pl.Checksum(artifacts)
	require.NoError(t, err)
	require.Empty(t, res.SignaturePath)

	res, err = pl.Manifest(nil)
	require.NoError(t, err)
	require.Equal(t, "0.9.0-canary+0123456", res.Manifest.Version)

	publisher := &fakePublisher{}
	res, err = pl.WithPublisher(publisher).Publish(ctx, nil)
	require.NoError(t, err)
	require.Len(t, publisher.releases[0].Assets, 6)
	require.True(t, res.Release.IsCanary())
	require.True(t, res.Release.Prerelease)
}

func TestPublishDetectsChangedTarball(t *testing.T) {
	pl, _ := newTestPipeline(t, "v0.9.0")
	ctx := context.Background()
	binaries, err := pl.Build(ctx)
	require.NoError(t, err)
	artifacts, err := pl.Package(ctx, binaries)
	require.NoError(t, err)
	res, err := pl.Checksum(artifacts)
	require.NoError(t, err)
	_, err = pl.Manifest(res)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(artifacts[0].Path, []byte("tampered"), 0o644))
	_, err = pl.WithPublisher(&fakePublisher{}).Publish(ctx, nil)
	require.ErrorContains(t, err, "changed since the checksums were written")
}

func TestBinariesRequireBuild(t *testing.T) {
	pl, _ := newTestPipeline(t, channel.Canary)
	_, err := pl.Binaries()
	require.ErrorContains(t, err, "run build first")
}
