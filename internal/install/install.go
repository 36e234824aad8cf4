package install

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spinplugins/plugin-release/internal/archive"
	"github.com/spinplugins/plugin-release/internal/config"
	"github.com/spinplugins/plugin-release/internal/platform"
	"github.com/spinplugins/plugin-release/pkg/manifest"
)

type HostBuilder interface {
	BuildHost(ctx context.Context) (string, platform.Platform, error)
}

type Options struct {
	Project  *config.Project
	Manifest string
	WorkDir  string
	// SkipInstall stops after the manifest has been patched.
	SkipInstall bool
}

type Result struct {
	Platform platform.Platform
	Artifact *archive.Artifact
	URL      string
}

// Installer runs the local development loop: build for the host, package,
// point the manifest at the local tarball and hand it to the host installer.
type Installer struct {
	log     *logrus.Logger
	opts    Options
	builder HostBuilder
}

func New(log *logrus.Logger, opts Options, builder HostBuilder) *Installer {
	return &Installer{log: log, opts: opts, builder: builder}
}

// FileURL returns the file:// url of an absolute path.
func FileURL(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

func (i *Installer) installCommand() []string {
	args := append([]string(nil), i.opts.Project.Install.Command...)
	return append(args, "--file", i.opts.Manifest, "--yes")
}

func (i *Installer) Run(ctx context.Context) (*Result, error) {
	binary, host, err := i.builder.BuildHost(ctx)
	if err != nil {
		return nil, err
	}

	workDir, err := filepath.Abs(i.opts.WorkDir)
	if err != nil {
		return nil, err
	}
	packager := archive.NewPackager(i.log, i.opts.Project.Name, i.opts.Project.LicenseFile, workDir, time.Time{})
	artifact, err := packager.PackageAs(i.opts.Project.Name+".tar.gz", host, binary)
	if err != nil {
		return nil, err
	}

	fileURL := FileURL(artifact.Path)
	if err := manifest.PatchFile(i.opts.Manifest, host.OS, host.Arch, artifact.SHA256, fileURL); err != nil {
		return nil, fmt.Errorf("failed to patch %s: %w", i.opts.Manifest, err)
	}
	i.log.Infof("patched %s for %s (sha256 %s)", i.opts.Manifest, host, artifact.SHA256)
	res := &Result{Platform: host, Artifact: artifact, URL: fileURL}
	if i.opts.SkipInstall {
		return res, nil
	}

	args := i.installCommand()
	i.log.Infof("running %s", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout := i.log.WriterLevel(logrus.InfoLevel)
	defer stdout.Close()
	stderr := i.log.WriterLevel(logrus.WarnLevel)
	defer stderr.Close()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("plugin install failed: %w", err)
	}
	return res, nil
}
