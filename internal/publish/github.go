package publish

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/go-github/v59/github"
	"github.com/sirupsen/logrus"
	"github.com/spinplugins/plugin-release/internal/channel"
)

var ErrReleaseNotFound = errors.New("release not found")

// Asset is a local file attached to a release under Name.
type Asset struct {
	Name string
	Path string
}

func NewAsset(path string) Asset {
	return Asset{Name: filepath.Base(path), Path: path}
}

func (a Asset) contentType() string {
	switch filepath.Ext(a.Name) {
	case ".gz":
		return "application/gzip"
	case ".json":
		return "application/json"
	case ".txt", ".asc":
		return "text/plain; charset=utf-8"
	}
	if ct := mime.TypeByExtension(filepath.Ext(a.Name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

type Release struct {
	Channel *channel.Channel
	Commit  string
	Notes   string
	Assets  []Asset
}

func (r *Release) title() string {
	if r.Channel.IsCanary() {
		return "Canary"
	}
	return r.Channel.Tag()
}

// GitHub publishes releases and their assets to a GitHub repository.
type GitHub struct {
	log      *logrus.Logger
	ghClient *github.Client
	owner    string
	repo     string
}

func NewGitHub(log *logrus.Logger, ghClient *github.Client, owner, repo string) *GitHub {
	return &GitHub{
		log:      log,
		ghClient: ghClient,
		owner:    owner,
		repo:     repo,
	}
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

// Release fetches the published release of tag. Drafts are not considered
// published.
func (g *GitHub) Release(ctx context.Context, tag string) (*github.RepositoryRelease, error) {
	release, resp, err := g.ghClient.Repositories.GetReleaseByTag(ctx, g.owner, g.repo, tag)
	if isNotFound(resp, err) {
		return nil, fmt.Errorf("%w: %s", ErrReleaseNotFound, tag)
	}
	if err != nil {
		return nil, err
	}
	if release.GetDraft() {
		return nil, fmt.Errorf("release %s is a draft", tag)
	}
	return release, nil
}

func (g *GitHub) listAssets(ctx context.Context, releaseID int64) ([]*github.ReleaseAsset, error) {
	ret := make([]*github.ReleaseAsset, 0)
	opts := &github.ListOptions{Page: 1, PerPage: 100}
	for {
		assets, resp, err := g.ghClient.Repositories.ListReleaseAssets(ctx, g.owner, g.repo, releaseID, opts)
		if err != nil {
			return nil, err
		}
		ret = append(ret, assets...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return ret, nil
}

// deleteAssets removes the assets of a release. With names set only assets
// of the same name are removed.
func (g *GitHub) deleteAssets(ctx context.Context, releaseID int64, names map[string]bool) error {
	assets, err := g.listAssets(ctx, releaseID)
	if err != nil {
		return fmt.Errorf("failed to list release assets: %w", err)
	}
	for _, asset := range assets {
		if names != nil && !names[asset.GetName()] {
			continue
		}
		g.log.Infof("deleting asset %s", asset.GetName())
		if _, err := g.ghClient.Repositories.DeleteReleaseAsset(ctx, g.owner, g.repo, asset.GetID()); err != nil {
			return fmt.Errorf("failed to delete asset %s: %w", asset.GetName(), err)
		}
	}
	return nil
}

func (g *GitHub) createRelease(ctx context.Context, rel *Release) (*github.RepositoryRelease, error) {
	g.log.Infof("creating release %s", rel.Channel.Tag())
	release, _, err := g.ghClient.Repositories.CreateRelease(ctx, g.owner, g.repo, &github.RepositoryRelease{
		TagName:         github.String(rel.Channel.Tag()),
		TargetCommitish: github.String(rel.Commit),
		Name:            github.String(rel.title()),
		Body:            github.String(rel.Notes),
		Prerelease:      github.Bool(rel.Channel.Prerelease()),
		Draft:           github.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create release %s: %w", rel.Channel.Tag(), err)
	}
	return release, nil
}

// updateCanary moves the canary tag to the new commit and drops every asset
// of the previous canary build.
func (g *GitHub) updateCanary(ctx context.Context, release *github.RepositoryRelease, rel *Release) (*github.RepositoryRelease, error) {
	if rel.Commit == "" {
		return nil, errors.New("a commit is required to update the canary release")
	}
	g.log.Infof("moving tag %s to %s", rel.Channel.Tag(), rel.Commit)
	_, _, err := g.ghClient.Git.UpdateRef(ctx, g.owner, g.repo, &github.Reference{
		Ref:    github.String("refs/tags/" + rel.Channel.Tag()),
		Object: &github.GitObject{SHA: github.String(rel.Commit)},
	}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to update canary tag: %w", err)
	}
	release, _, err = g.ghClient.Repositories.EditRelease(ctx, g.owner, g.repo, release.GetID(), &github.RepositoryRelease{
		Name:       github.String(rel.title()),
		Body:       github.String(rel.Notes),
		Prerelease: github.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to edit canary release: %w", err)
	}
	if err := g.deleteAssets(ctx, release.GetID(), nil); err != nil {
		return nil, err
	}
	return release, nil
}

func (g *GitHub) uploadAsset(ctx context.Context, releaseID int64, asset Asset) (*github.ReleaseAsset, error) {
	f, err := os.Open(asset.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	g.log.Infof("uploading %s", asset.Name)
	uploaded, _, err := g.ghClient.Repositories.UploadReleaseAsset(ctx, g.owner, g.repo, releaseID, &github.UploadOptions{
		Name:      asset.Name,
		MediaType: asset.contentType(),
	}, f)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", asset.Name, err)
	}
	return uploaded, nil
}

// Publish creates or updates the release of the channel and uploads all
// assets. The canary release is rolled forward in place; an existing
// versioned release gets assets of the same name replaced.
func (g *GitHub) Publish(ctx context.Context, rel *Release) (*github.RepositoryRelease, error) {
	release, err := g.Release(ctx, rel.Channel.Tag())
	switch {
	case errors.Is(err, ErrReleaseNotFound):
		release, err = g.createRelease(ctx, rel)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case rel.Channel.IsCanary():
		release, err = g.updateCanary(ctx, release, rel)
		if err != nil {
			return nil, err
		}
	default:
		names := make(map[string]bool, len(rel.Assets))
		for _, a := range rel.Assets {
			names[a.Name] = true
		}
		if err := g.deleteAssets(ctx, release.GetID(), names); err != nil {
			return nil, err
		}
	}

	uploaded := make([]*github.ReleaseAsset, 0, len(rel.Assets))
	for _, asset := range rel.Assets {
		a, err := g.uploadAsset(ctx, release.GetID(), asset)
		if err != nil {
			return nil, err
		}
		uploaded = append(uploaded, a)
	}
	release.Assets = uploaded
	return release, nil
}
