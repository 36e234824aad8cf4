package generate

import (
	"errors"
	"fmt"

	"github.com/spinplugins/plugin-release/internal/archive"
	"github.com/spinplugins/plugin-release/internal/channel"
	"github.com/spinplugins/plugin-release/internal/checksum"
	"github.com/spinplugins/plugin-release/internal/config"
	"github.com/spinplugins/plugin-release/pkg/manifest"
)

var ErrMissingChecksum = errors.New("missing checksum")

// Generator renders the plugin manifest of a release from the released
// targets and the checksums of their tarballs.
type Generator struct {
	project    *config.Project
	repository string
	targets    []config.Target
}

// New returns a Generator for targets; nil means every project target.
func New(project *config.Project, repository string, targets []config.Target) *Generator {
	if targets == nil {
		targets = project.Targets
	}
	return &Generator{project: project, repository: repository, targets: targets}
}

// FileName is the name of the manifest asset, <name>.json.
func FileName(name string) string {
	return name + ".json"
}

func (g *Generator) Generate(ch *channel.Channel, sums checksum.Sums, commit string) (*manifest.Manifest, error) {
	version, err := ch.ManifestVersion(g.project.Version, commit)
	if err != nil {
		return nil, err
	}
	m := &manifest.Manifest{
		Name:              g.project.Name,
		Description:       g.project.Description,
		Homepage:          g.project.Homepage,
		Version:           version,
		SpinCompatibility: g.project.SpinCompatibility,
		License:           g.project.License,
		Packages:          make([]*manifest.Package, 0, len(g.targets)),
	}
	for i := range g.targets {
		pf := g.targets[i].Platform()
		fileName := archive.PackageName(g.project.Name, ch.Name, pf)
		sum, ok := sums.Get(fileName)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingChecksum, fileName)
		}
		url, err := g.project.DownloadURL(config.URLData{
			Repository: g.repository,
			Tag:        ch.Tag(),
			Version:    version,
			FileName:   fileName,
		})
		if err != nil {
			return nil, err
		}
		m.Packages = append(m.Packages, &manifest.Package{
			OS:     pf.OS,
			Arch:   pf.Arch,
			URL:    url,
			SHA256: sum,
		})
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("generated manifest is invalid: %w", err)
	}
	return m, nil
}
