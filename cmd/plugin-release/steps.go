package main

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/spf13/cobra"
	"github.com/spinplugins/plugin-release/internal/archive"
	"github.com/spinplugins/plugin-release/internal/build"
	"github.com/spinplugins/plugin-release/internal/channel"
	"github.com/spinplugins/plugin-release/internal/config"
	"github.com/spinplugins/plugin-release/internal/index"
	"github.com/spinplugins/plugin-release/internal/pipeline"
	"github.com/spinplugins/plugin-release/internal/publish"
	"github.com/spinplugins/plugin-release/internal/signing"
	"github.com/spinplugins/plugin-release/pkg/client"
)

func (a *app) project(cmd *cobra.Command) (*config.Project, error) {
	return config.LoadProject(must(cmd.Flags().GetString("config")))
}

// channel resolves the release channel from --channel or, in CI, from
// GITHUB_REF.
func (a *app) channel(cmd *cobra.Command, project *config.Project) (*channel.Channel, error) {
	if name := must(cmd.Flags().GetString("channel")); name != "" {
		return channel.Parse(name)
	}
	return channel.FromRef(a.cfg.GitHubRef, project.MainBranch)
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("channel", "", "the release channel (canary or vX.Y.Z, defaults to the channel of GITHUB_REF)")
	cmd.Flags().StringArrayP("target", "t", nil, "limit the run to os/arch targets")
	cmd.Flags().Int("concurrency", 4, "maximum number of targets packaged in parallel")
}

func (a *app) newPipeline(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	project, err := a.project(cmd)
	if err != nil {
		return nil, err
	}
	ch, err := a.channel(cmd, project)
	if err != nil {
		return nil, err
	}
	targets, err := project.SelectTargets(must(cmd.Flags().GetStringArray("target")))
	if err != nil {
		return nil, err
	}
	opts := pipeline.Options{
		Project:     project,
		Channel:     ch,
		Targets:     targets,
		Commit:      a.cfg.GitHubSHA,
		Repository:  a.cfg.GitHubRepository,
		DistDir:     must(cmd.Flags().GetString("dist")),
		ModTime:     archive.SourceDateEpoch(a.cfg.SourceDateEpoch),
		Concurrency: must(cmd.Flags().GetInt("concurrency")),
	}
	if notesFile, _ := cmd.Flags().GetString("notes-file"); notesFile != "" {
		notes, err := os.ReadFile(notesFile)
		if err != nil {
			return nil, err
		}
		opts.Notes = string(notes)
	}
	p := pipeline.New(a.log, opts, build.NewBuilder(a.log, project, "."))
	if a.cfg.SigningEnabled() {
		key, err := signing.LoadKey(a.cfg.SigningKey, a.cfg.SigningPassphrase)
		if err != nil {
			return nil, err
		}
		a.log.Infof("signing checksums with key %s", key.PrimaryKey.KeyIdString())
		p.WithSigner(key)
	}
	return p, nil
}

// withPublishing connects the pipeline to GitHub and the optional mirror,
// index and registry server. The returned func releases held clients.
func (a *app) withPublishing(ctx context.Context, p *pipeline.Pipeline) (func(), error) {
	cleanup := func() {}
	owner, repo, err := a.cfg.OwnerRepo()
	if err != nil {
		return cleanup, err
	}
	ghClient, err := a.cfg.CreateGitHubClient()
	if err != nil {
		return cleanup, err
	}
	p.WithPublisher(publish.NewGitHub(a.log, ghClient, owner, repo))

	if a.cfg.MirrorEnabled() {
		s3Client, err := a.cfg.CreateS3Client(ctx)
		if err != nil {
			return cleanup, err
		}
		a.log.Infof("mirroring release to bucket %s", a.cfg.MirrorBucket)
		p.WithMirror(publish.NewMirror(a.log, s3Client, a.cfg.MirrorBucket, a.cfg.MirrorPrefix))
	}
	if a.cfg.IndexEnabled() {
		db, err := firestore.NewClient(ctx, a.cfg.IndexProjectID)
		if err != nil {
			return cleanup, err
		}
		cleanup = func() {
			if err := db.Close(); err != nil {
				a.log.Error(err)
			}
		}
		p.WithIndex(index.NewFirestore(db, a.cfg.Stage))
	}
	if a.cfg.RegistryURL != "" {
		if a.cfg.RegistryToken == "" {
			return cleanup, fmt.Errorf("RELEASE_REGISTRY_TOKEN is missing")
		}
		a.log.Infof("pushing release to %s", a.cfg.RegistryURL)
		p.WithRegistry(client.New(a.cfg.RegistryURL), a.cfg.RegistryToken)
	}
	return cleanup, nil
}

func newBuildCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile the plugin for every target",
		Args:  cobra.NoArgs,
		Run: a.action(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
			p, err := a.newPipeline(cmd)
			if err != nil {
				return err
			}
			binaries, err := p.Build(ctx)
			if err != nil {
				return err
			}
			for _, b := range binaries {
				a.log.Infof("built %s: %s", b.Target.Platform(), b.Path)
			}
			return nil
		}),
	}
	addPipelineFlags(cmd)
	return cmd
}

func newPackageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Package previously built binaries into tarballs",
		Args:  cobra.NoArgs,
		Run: a.action(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
			p, err := a.newPipeline(cmd)
			if err != nil {
				return err
			}
			binaries, err := p.Binaries()
			if err != nil {
				return err
			}
			artifacts, err := p.Package(ctx, binaries)
			if err != nil {
				return err
			}
			for _, art := range artifacts {
				a.log.Infof("packaged %s (%d bytes)", art.FileName, art.Size)
			}
			return nil
		}),
	}
	addPipelineFlags(cmd)
	return cmd
}

func newChecksumCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checksum",
		Short: "Write the checksums file for the packaged tarballs",
		Args:  cobra.NoArgs,
		Run: a.action(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
			p, err := a.newPipeline(cmd)
			if err != nil {
				return err
			}
			artifacts, err := p.Artifacts(ctx)
			if err != nil {
				return err
			}
			_, err = p.Checksum(artifacts)
			return err
		}),
	}
	addPipelineFlags(cmd)
	return cmd
}

func newManifestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Generate the plugin manifest from the checksums file",
		Args:  cobra.NoArgs,
		Run: a.action(func(_ context.Context, cmd *cobra.Command, _ []string) error {
			p, err := a.newPipeline(cmd)
			if err != nil {
				return err
			}
			_, err = p.Manifest(nil)
			return err
		}),
	}
	addPipelineFlags(cmd)
	return cmd
}

func newPublishCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the artifacts in the dist directory as a GitHub release",
		Args:  cobra.NoArgs,
		Run: a.action(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
			p, err := a.newPipeline(cmd)
			if err != nil {
				return err
			}
			cleanup, err := a.withPublishing(ctx, p)
			defer cleanup()
			if err != nil {
				return err
			}
			res, err := p.Publish(ctx, nil)
			if err != nil {
				return err
			}
			a.log.Infof("release %s@%s is available at %s", res.Release.Name, res.Release.Channel, res.Release.ReleaseURL)
			return nil
		}),
	}
	addPipelineFlags(cmd)
	cmd.Flags().String("notes-file", "", "file with the release notes")
	return cmd
}

func newReleaseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Run every step: build, package, checksum, manifest and publish",
		Args:  cobra.NoArgs,
		Run: a.action(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
			p, err := a.newPipeline(cmd)
			if err != nil {
				return err
			}
			cleanup, err := a.withPublishing(ctx, p)
			defer cleanup()
			if err != nil {
				return err
			}
			res, err := p.Run(ctx)
			if err != nil {
				return err
			}
			a.log.Infof("release %s@%s is available at %s", res.Release.Name, res.Release.Channel, res.Release.ReleaseURL)
			return nil
		}),
	}
	addPipelineFlags(cmd)
	cmd.Flags().String("notes-file", "", "file with the release notes")
	return cmd
}

func newChannelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Print the release channel of the current git ref",
		Args:  cobra.NoArgs,
		Run: a.action(func(_ context.Context, cmd *cobra.Command, _ []string) error {
			project, err := a.project(cmd)
			if err != nil {
				return err
			}
			ch, err := a.channel(cmd, project)
			if err != nil {
				return err
			}
			v, err := ch.ManifestVersion(project.Version, a.cfg.GitHubSHA)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "channel=%s\n", ch.Name)
			fmt.Fprintf(out, "version=%s\n", v)
			fmt.Fprintf(out, "prerelease=%t\n", ch.Prerelease())
			return nil
		}),
	}
	cmd.Flags().String("channel", "", "resolve this channel instead of GITHUB_REF")
	return cmd
}
