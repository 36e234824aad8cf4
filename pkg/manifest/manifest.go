package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
)

var (
	ErrPackageNotFound  = errors.New("package not found")
	ErrDuplicatePackage = errors.New("duplicate package")
)

// Manifest describes one published version of a plugin and tells the host
// installer where to fetch the binary for each platform.
type Manifest struct {
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	Homepage          string     `json:"homepage,omitempty"`
	Version           string     `json:"version"`
	SpinCompatibility string     `json:"spinCompatibility"`
	License           string     `json:"license"`
	Packages          []*Package `json:"packages"`
}

// Package is the descriptor of one (os, arch) build artifact.
type Package struct {
	OS     string `json:"os"`
	Arch   string `json:"arch"`
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	ret := *m
	if m.Packages != nil {
		ret.Packages = make([]*Package, len(m.Packages))
		for i, p := range m.Packages {
			pkg := *p
			ret.Packages[i] = &pkg
		}
	}
	return &ret
}

func (p *Package) Platform() string {
	return fmt.Sprintf("%s/%s", p.OS, p.Arch)
}

func (m *Manifest) Find(osName, arch string) *Package {
	for _, p := range m.Packages {
		if p.OS == osName && p.Arch == arch {
			return p
		}
	}
	return nil
}

// Patch overwrites the sha256 and url of the descriptor matching os and arch.
// No other descriptor is touched.
func (m *Manifest) Patch(osName, arch, sha256, url string) error {
	p := m.Find(osName, arch)
	if p == nil {
		return fmt.Errorf("%w: %s/%s", ErrPackageNotFound, osName, arch)
	}
	p.SHA256 = sha256
	p.URL = url
	return nil
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (m *Manifest) Validate() error {
	if m.Name == "" {
		return errors.New("manifest name is missing")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("manifest version %q is not a valid semver version: %w", m.Version, err)
	}
	if len(m.Packages) == 0 {
		return errors.New("manifest has no packages")
	}
	seen := make(map[string]bool, len(m.Packages))
	for _, p := range m.Packages {
		if p.OS == "" || p.Arch == "" {
			return fmt.Errorf("package is missing os or arch")
		}
		key := p.Platform()
		if seen[key] {
			return fmt.Errorf("%w: %s", ErrDuplicatePackage, key)
		}
		seen[key] = true
		if p.URL == "" {
			return fmt.Errorf("package %s has no url", key)
		}
		if !isSHA256Hex(p.SHA256) {
			return fmt.Errorf("package %s has an invalid sha256 %q", key, p.SHA256)
		}
	}
	return nil
}

func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func (m *Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(m)
}

// Save writes the manifest next to path and renames it into place.
func (m *Manifest) Save(path string) error {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// PatchFile patches the manifest stored at path in place.
func PatchFile(path, osName, arch, sha256, url string) error {
	m, err := Load(path)
	if err != nil {
		return err
	}
	if err := m.Patch(osName, arch, sha256, url); err != nil {
		return err
	}
	return m.Save(path)
}
