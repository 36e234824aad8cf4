package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/google/go-github/v59/github"
	"github.com/sirupsen/logrus"
	"github.com/spinplugins/plugin-release/internal/archive"
	"github.com/spinplugins/plugin-release/internal/channel"
	"github.com/spinplugins/plugin-release/internal/checksum"
	"github.com/spinplugins/plugin-release/internal/config"
	"github.com/spinplugins/plugin-release/internal/generate"
	"github.com/spinplugins/plugin-release/internal/index"
	"github.com/spinplugins/plugin-release/internal/publish"
	"github.com/spinplugins/plugin-release/internal/signing"
	"github.com/spinplugins/plugin-release/pkg/manifest"
	"github.com/spinplugins/plugin-release/pkg/registry"
	"golang.org/x/sync/errgroup"
)

type Builder interface {
	Build(ctx context.Context, target *config.Target) (string, error)
	Output(target *config.Target) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, rel *publish.Release) (*github.RepositoryRelease, error)
}

type Mirror interface {
	Upload(ctx context.Context, channel string, asset publish.Asset, checksum string) (bool, error)
}

type RegistryClient interface {
	PutRelease(ctx context.Context, adminAccessToken string, release *registry.Release) error
}

// Binary is the compiled plugin for one target.
type Binary struct {
	Target config.Target
	Path   string
}

// Result collects the outputs of every step that ran.
type Result struct {
	Binaries      []*Binary
	Artifacts     []*archive.Artifact
	Sums          checksum.Sums
	ChecksumsPath string
	SignaturePath string
	Manifest      *manifest.Manifest
	ManifestPath  string
	Release       *registry.Release
}

type Options struct {
	Project     *config.Project
	Channel     *channel.Channel
	Targets     []config.Target
	Commit      string
	Repository  string
	DistDir     string
	ModTime     time.Time
	Concurrency int
	Notes       string
}

// Pipeline runs build, package, checksum, manifest and publish in order.
// Every step reads what the previous one left in the dist directory, so the
// steps can also run as separate invocations.
type Pipeline struct {
	log           *logrus.Logger
	opts          Options
	builder       Builder
	packager      *archive.Packager
	signer        *openpgp.Entity
	publisher     Publisher
	mirror        Mirror
	index         index.Store
	registry      RegistryClient
	registryToken string
	now           func() time.Time
}

func New(log *logrus.Logger, opts Options, builder Builder) *Pipeline {
	if len(opts.Targets) == 0 {
		opts.Targets = opts.Project.Targets
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Pipeline{
		log:      log,
		opts:     opts,
		builder:  builder,
		packager: archive.NewPackager(log, opts.Project.Name, opts.Project.LicenseFile, opts.DistDir, opts.ModTime),
		now:      time.Now,
	}
}

func (p *Pipeline) WithSigner(key *openpgp.Entity) *Pipeline {
	p.signer = key
	return p
}

func (p *Pipeline) WithPublisher(publisher Publisher) *Pipeline {
	p.publisher = publisher
	return p
}

func (p *Pipeline) WithMirror(mirror Mirror) *Pipeline {
	p.mirror = mirror
	return p
}

func (p *Pipeline) WithIndex(store index.Store) *Pipeline {
	p.index = store
	return p
}

func (p *Pipeline) WithRegistry(c RegistryClient, adminAccessToken string) *Pipeline {
	p.registry = c
	p.registryToken = adminAccessToken
	return p
}

func (p *Pipeline) channelName() string {
	return p.opts.Channel.Name
}

func (p *Pipeline) distPath(name string) string {
	return filepath.Join(p.opts.DistDir, name)
}

// Build compiles the targets one after another.
func (p *Pipeline) Build(ctx context.Context) ([]*Binary, error) {
	ret := make([]*Binary, 0, len(p.opts.Targets))
	for i := range p.opts.Targets {
		i := i
		target := p.opts.Targets[i]
		path, err := p.builder.Build(ctx, &target)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s: %w", target.Platform(), err)
		}
		ret = append(ret, &Binary{Target: target, Path: path})
	}
	return ret, nil
}

// Binaries locates the output of a previous build.
func (p *Pipeline) Binaries() ([]*Binary, error) {
	ret := make([]*Binary, 0, len(p.opts.Targets))
	for i := range p.opts.Targets {
		i := i
		target := p.opts.Targets[i]
		path, err := p.builder.Output(&target)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("binary for %s not found (run build first): %w", target.Platform(), err)
		}
		ret = append(ret, &Binary{Target: target, Path: path})
	}
	return ret, nil
}

// Package archives the binaries concurrently.
func (p *Pipeline) Package(ctx context.Context, binaries []*Binary) ([]*archive.Artifact, error) {
	artifacts := make([]*archive.Artifact, len(binaries))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, b := range binaries {
		i, b := i, b
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			a, err := p.packager.Package(p.channelName(), b.Target.Platform(), b.Path)
			if err != nil {
				return fmt.Errorf("failed to package %s: %w", b.Target.Platform(), err)
			}
			artifacts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// Artifacts hashes the tarballs a previous package step left in dist.
func (p *Pipeline) Artifacts(ctx context.Context) ([]*archive.Artifact, error) {
	artifacts := make([]*archive.Artifact, len(p.opts.Targets))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i := range p.opts.Targets {
		i := i
		pf := p.opts.Targets[i].Platform()
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			fileName := archive.PackageName(p.opts.Project.Name, p.channelName(), pf)
			path := p.distPath(fileName)
			stat, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("tarball for %s not found (run package first): %w", pf, err)
			}
			sum, err := checksum.File(path)
			if err != nil {
				return err
			}
			artifacts[i] = &archive.Artifact{Platform: pf, FileName: fileName, Path: path, SHA256: sum, Size: stat.Size()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// Checksum writes checksums-<channel>.txt and signs it when a key is set.
func (p *Pipeline) Checksum(artifacts []*archive.Artifact) (*Result, error) {
	var sums checksum.Sums
	for _, a := range artifacts {
		sums.Add(a.FileName, a.SHA256)
	}
	path := p.distPath(checksum.FileName(p.channelName()))
	if err := sums.WriteFile(path); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	p.log.Infof("wrote %s", path)
	res := &Result{Artifacts: artifacts, Sums: sums, ChecksumsPath: path}
	if p.signer != nil {
		sigPath, err := signing.SignFile(p.signer, path)
		if err != nil {
			return nil, err
		}
		p.log.Infof("wrote %s", sigPath)
		res.SignaturePath = sigPath
	}
	return res, nil
}

// Manifest renders <name>.json from the checksums of res or, when res has
// none, from the checksums file in dist.
func (p *Pipeline) Manifest(res *Result) (*Result, error) {
	if res == nil {
		res = &Result{ChecksumsPath: p.distPath(checksum.FileName(p.channelName()))}
	}
	if res.Sums == nil {
		sums, err := checksum.ParseFile(res.ChecksumsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read checksums (run checksum first): %w", err)
		}
		res.Sums = sums
	}
	m, err := generate.New(p.opts.Project, p.opts.Repository, p.opts.Targets).Generate(p.opts.Channel, res.Sums, p.opts.Commit)
	if err != nil {
		return nil, err
	}
	path := p.distPath(generate.FileName(p.opts.Project.Name))
	if err := m.Save(path); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	p.log.Infof("wrote %s (version %s)", path, m.Version)
	res.Manifest = m
	res.ManifestPath = path
	return res, nil
}

func (p *Pipeline) loadFromDist(ctx context.Context, res *Result) (*Result, error) {
	if res == nil {
		res = &Result{}
	}
	if res.Artifacts == nil {
		artifacts, err := p.Artifacts(ctx)
		if err != nil {
			return nil, err
		}
		res.Artifacts = artifacts
	}
	if res.ChecksumsPath == "" {
		res.ChecksumsPath = p.distPath(checksum.FileName(p.channelName()))
	}
	if res.Sums == nil {
		sums, err := checksum.ParseFile(res.ChecksumsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read checksums (run checksum first): %w", err)
		}
		res.Sums = sums
	}
	if res.SignaturePath == "" {
		sigPath := res.ChecksumsPath + signing.SignatureSuffix
		if _, err := os.Stat(sigPath); err == nil {
			res.SignaturePath = sigPath
		}
	}
	if res.Manifest == nil {
		res.ManifestPath = p.distPath(generate.FileName(p.opts.Project.Name))
		m, err := manifest.Load(res.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest (run manifest first): %w", err)
		}
		res.Manifest = m
	}
	for _, a := range res.Artifacts {
		if sum, ok := res.Sums.Get(a.FileName); !ok || sum != a.SHA256 {
			return nil, fmt.Errorf("%s changed since the checksums were written", a.FileName)
		}
	}
	return res, nil
}

func (p *Pipeline) assets(res *Result) []publish.Asset {
	assets := make([]publish.Asset, 0, len(res.Artifacts)+3)
	for _, a := range res.Artifacts {
		assets = append(assets, publish.Asset{Name: a.FileName, Path: a.Path})
	}
	assets = append(assets, publish.NewAsset(res.ChecksumsPath))
	if res.SignaturePath != "" {
		assets = append(assets, publish.NewAsset(res.SignaturePath))
	}
	assets = append(assets, publish.NewAsset(res.ManifestPath))
	return assets
}

func (p *Pipeline) mirrorAssets(ctx context.Context, res *Result, assets []publish.Asset) error {
	for _, asset := range assets {
		sum, ok := res.Sums.Get(asset.Name)
		if !ok {
			var err error
			if sum, err = checksum.File(asset.Path); err != nil {
				return err
			}
		}
		if _, err := p.mirror.Upload(ctx, p.channelName(), asset, sum); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) record(res *Result, assets []publish.Asset, ghRelease *github.RepositoryRelease) (*registry.Release, error) {
	checksumsURL, err := p.opts.Project.DownloadURL(config.URLData{
		Repository: p.opts.Repository,
		Tag:        p.opts.Channel.Tag(),
		Version:    res.Manifest.Version,
		FileName:   filepath.Base(res.ChecksumsPath),
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(assets))
	for _, a := range assets {
		names = append(names, a.Name)
	}
	createdAt := p.now().UTC()
	if ghRelease != nil && !ghRelease.GetCreatedAt().IsZero() && !p.opts.Channel.IsCanary() {
		createdAt = ghRelease.GetCreatedAt().Time
	}
	return &registry.Release{
		Name:         p.opts.Project.Name,
		Channel:      p.channelName(),
		Version:      res.Manifest.Version,
		Prerelease:   p.opts.Channel.Prerelease(),
		Commit:       p.opts.Commit,
		CreatedAt:    createdAt,
		ReleaseURL:   ghRelease.GetHTMLURL(),
		ChecksumsURL: checksumsURL,
		Assets:       names,
		Manifest:     res.Manifest,
	}, nil
}

// Publish uploads the release assets and then records the release in the
// optional mirror, index and registry server.
func (p *Pipeline) Publish(ctx context.Context, res *Result) (*Result, error) {
	if p.publisher == nil {
		return nil, errors.New("no publisher configured")
	}
	res, err := p.loadFromDist(ctx, res)
	if err != nil {
		return nil, err
	}
	assets := p.assets(res)
	ghRelease, err := p.publisher.Publish(ctx, &publish.Release{
		Channel: p.opts.Channel,
		Commit:  p.opts.Commit,
		Notes:   p.opts.Notes,
		Assets:  assets,
	})
	if err != nil {
		return nil, err
	}
	p.log.Infof("published %s (%d assets)", p.channelName(), len(assets))

	if p.mirror != nil {
		if err := p.mirrorAssets(ctx, res, assets); err != nil {
			return nil, fmt.Errorf("failed to mirror release: %w", err)
		}
	}
	release, err := p.record(res, assets, ghRelease)
	if err != nil {
		return nil, err
	}
	res.Release = release
	if p.index != nil {
		if err := p.index.SaveRelease(ctx, release); err != nil {
			return nil, fmt.Errorf("failed to index release: %w", err)
		}
		if p.registry == nil {
			p.log.Warnf("indexed %s@%s without a registry server, cached server responses expire on their own", release.Name, release.Channel)
		}
	}
	if p.registry != nil {
		if err := p.registry.PutRelease(ctx, p.registryToken, release); err != nil {
			return nil, fmt.Errorf("failed to push release to registry: %w", err)
		}
	}
	return res, nil
}

// Run executes every step. Any failure stops the run.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	p.log.Infof("releasing %s@%s for %d targets", p.opts.Project.Name, p.channelName(), len(p.opts.Targets))
	binaries, err := p.Build(ctx)
	if err != nil {
		return nil, err
	}
	artifacts, err := p.Package(ctx, binaries)
	if err != nil {
		return nil, err
	}
	res, err := p.Checksum(artifacts)
	if err != nil {
		return nil, err
	}
	res.Binaries = binaries
	res, err = p.Manifest(res)
	if err != nil {
		return nil, err
	}
	return p.Publish(ctx, res)
}
