package channel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const Canary = "canary"

var ErrNotReleasable = errors.New("ref does not trigger a release")

// Channel is the release channel of a build: the rolling canary channel or a
// versioned channel named after its tag.
type Channel struct {
	Name    string
	Version *semver.Version
}

func (c *Channel) IsCanary() bool {
	return c.Name == Canary
}

// Tag is the git tag the release is attached to.
func (c *Channel) Tag() string {
	return c.Name
}

func (c *Channel) Prerelease() bool {
	return c.IsCanary() || c.Version.Prerelease() != ""
}

func (c *Channel) String() string {
	return c.Name
}

func fromTag(tag string) (*Channel, error) {
	if !strings.HasPrefix(tag, "v") {
		return nil, fmt.Errorf("%w: tag %s does not start with v", ErrNotReleasable, tag)
	}
	v, err := semver.StrictNewVersion(strings.TrimPrefix(tag, "v"))
	if err != nil {
		return nil, fmt.Errorf("%w: tag %s is not a version: %v", ErrNotReleasable, tag, err)
	}
	return &Channel{Name: tag, Version: v}, nil
}

// FromRef resolves the channel for a git ref as provided by CI. Pushes to
// the main branch produce canary, version tags produce a versioned release.
func FromRef(ref, mainBranch string) (*Channel, error) {
	switch {
	case ref == "refs/heads/"+mainBranch:
		return &Channel{Name: Canary}, nil
	case strings.HasPrefix(ref, "refs/tags/"):
		return fromTag(strings.TrimPrefix(ref, "refs/tags/"))
	case ref == "":
		return nil, fmt.Errorf("%w: no git ref provided", ErrNotReleasable)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotReleasable, ref)
}

// Parse accepts "canary" or a version tag such as v1.2.3.
func Parse(name string) (*Channel, error) {
	if name == Canary {
		return &Channel{Name: Canary}, nil
	}
	return fromTag(name)
}

// ManifestVersion is the version written into the plugin manifest. Canary
// builds derive it from the project's base version.
func (c *Channel) ManifestVersion(base, commit string) (string, error) {
	if !c.IsCanary() {
		return c.Version.String(), nil
	}
	v, err := semver.StrictNewVersion(base)
	if err != nil {
		return "", fmt.Errorf("invalid base version %q: %w", base, err)
	}
	ver := fmt.Sprintf("%d.%d.%d-%s", v.Major(), v.Minor(), v.Patch(), Canary)
	if commit != "" {
		if len(commit) > 7 {
			commit = commit[:7]
		}
		ver += "+" + commit
	}
	return ver, nil
}
