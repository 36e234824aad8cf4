package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/Masterminds/semver/v3"
	"github.com/spinplugins/plugin-release/internal/platform"
	"gopkg.in/yaml.v3"
)

const (
	DefaultProjectFilename = "release.yaml"
	DefaultMainBranch      = "main"
	DefaultURLTemplate     = "https://github.com/{{.Repository}}/releases/download/{{.Tag}}/{{.FileName}}"
)

// Project is the release description of a plugin, usually kept in
// release.yaml next to the plugin sources.
type Project struct {
	Name              string   `yaml:"name"`
	Description       string   `yaml:"description"`
	Homepage          string   `yaml:"homepage"`
	License           string   `yaml:"license"`
	LicenseFile       string   `yaml:"licenseFile"`
	SpinCompatibility string   `yaml:"spinCompatibility"`
	Version           string   `yaml:"version"`
	Binary            string   `yaml:"binary"`
	MainBranch        string   `yaml:"mainBranch"`
	URLTemplate       string   `yaml:"urlTemplate"`
	Build             Build    `yaml:"build"`
	Targets           []Target `yaml:"targets"`
	Install           Install  `yaml:"install"`
}

type Build struct {
	Command []string `yaml:"command"`
	// TargetFlag is passed together with the target triple for cross builds.
	TargetFlag string `yaml:"targetFlag"`
	// OutputDir may reference {{.Triple}}; HostOutputDir is used for native builds.
	OutputDir     string            `yaml:"outputDir"`
	HostOutputDir string            `yaml:"hostOutputDir"`
	Env           map[string]string `yaml:"env"`
}

type Target struct {
	OS     string            `yaml:"os"`
	Arch   string            `yaml:"arch"`
	Triple string            `yaml:"triple"`
	Linker string            `yaml:"linker"`
	Args   []string          `yaml:"args"`
	Env    map[string]string `yaml:"env"`
}

type Install struct {
	Command []string `yaml:"command"`
}

func (t *Target) Platform() platform.Platform {
	return platform.Platform{OS: t.OS, Arch: t.Arch}
}

// URLData is passed to the URL template.
type URLData struct {
	Repository string
	Tag        string
	Version    string
	FileName   string
}

func (p *Project) setDefaults() {
	if p.MainBranch == "" {
		p.MainBranch = DefaultMainBranch
	}
	if p.URLTemplate == "" {
		p.URLTemplate = DefaultURLTemplate
	}
	if p.Binary == "" {
		p.Binary = p.Name
	}
	if p.LicenseFile == "" {
		p.LicenseFile = "LICENSE"
	}
	if len(p.Build.Command) == 0 {
		p.Build.Command = []string{"cargo", "build", "--release"}
	}
	if p.Build.TargetFlag == "" {
		p.Build.TargetFlag = "--target"
	}
	if p.Build.OutputDir == "" {
		p.Build.OutputDir = "target/{{.Triple}}/release"
	}
	if p.Build.HostOutputDir == "" {
		p.Build.HostOutputDir = "target/release"
	}
	if len(p.Install.Command) == 0 {
		p.Install.Command = []string{"spin", "plugins", "install"}
	}
}

func (p *Project) Validate() error {
	if p.Name == "" {
		return errors.New("project name is missing")
	}
	if strings.ContainsAny(p.Name, "/\\ ") {
		return fmt.Errorf("project name %q contains invalid characters", p.Name)
	}
	if _, err := semver.StrictNewVersion(p.Version); err != nil {
		return fmt.Errorf("project version %q is not a valid semver version: %w", p.Version, err)
	}
	if p.SpinCompatibility == "" {
		return errors.New("spinCompatibility is missing")
	}
	if _, err := semver.NewConstraint(p.SpinCompatibility); err != nil {
		return fmt.Errorf("invalid spinCompatibility constraint: %w", err)
	}
	if len(p.Targets) == 0 {
		return errors.New("at least one target is required")
	}
	seen := make(map[string]bool, len(p.Targets))
	for i := range p.Targets {
		t := &p.Targets[i]
		pf, err := platform.Normalize(t.OS, t.Arch)
		if err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
		t.OS, t.Arch = pf.OS, pf.Arch
		if seen[pf.String()] {
			return fmt.Errorf("target %s is defined multiple times", pf)
		}
		seen[pf.String()] = true
	}
	if _, err := template.New("url").Parse(p.URLTemplate); err != nil {
		return fmt.Errorf("invalid urlTemplate: %w", err)
	}
	return nil
}

// Target returns the target for the given platform.
func (p *Project) Target(pf platform.Platform) (*Target, bool) {
	for i := range p.Targets {
		if p.Targets[i].Platform() == pf {
			return &p.Targets[i], true
		}
	}
	return nil, false
}

// SelectTargets resolves a list of os/arch selectors; an empty list selects
// every target.
func (p *Project) SelectTargets(selectors []string) ([]Target, error) {
	if len(selectors) == 0 {
		return p.Targets, nil
	}
	ret := make([]Target, 0, len(selectors))
	for _, s := range selectors {
		pf, err := platform.Parse(s)
		if err != nil {
			return nil, err
		}
		t, ok := p.Target(pf)
		if !ok {
			return nil, fmt.Errorf("target %s is not defined in the project", pf)
		}
		ret = append(ret, *t)
	}
	return ret, nil
}

func (p *Project) DownloadURL(data URLData) (string, error) {
	tmpl, err := template.New("url").Option("missingkey=error").Parse(p.URLTemplate)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render download url: %w", err)
	}
	return buf.String(), nil
}

func ParseProject(data []byte) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse project file: %w", err)
	}
	p.setDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProject(data)
}
