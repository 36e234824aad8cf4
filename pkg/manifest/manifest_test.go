package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	testSHA1 = "3fa65313f3ee7c23d31896e7f57af67618b88dff00f6eb7c3aba2d968d6d4b32"
	testSHA2 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

func newTestManifest() *Manifest {
	return &Manifest{
		Name:              "cloud",
		Description:       "Commands for publishing applications to the cloud.",
		Homepage:          "https://example.com/cloud-plugin",
		Version:           "0.9.0",
		SpinCompatibility: ">=2.0",
		License:           "Apache-2.0",
		Packages: []*Package{
			{OS: "linux", Arch: "amd64", URL: "https://example.com/cloud-v0.9.0-linux-amd64.tar.gz", SHA256: testSHA1},
			{OS: "linux", Arch: "aarch64", URL: "https://example.com/cloud-v0.9.0-linux-aarch64.tar.gz", SHA256: testSHA1},
			{OS: "macos", Arch: "amd64", URL: "https://example.com/cloud-v0.9.0-macos-amd64.tar.gz", SHA256: testSHA1},
			{OS: "macos", Arch: "aarch64", URL: "https://example.com/cloud-v0.9.0-macos-aarch64.tar.gz", SHA256: testSHA1},
			{OS: "windows", Arch: "amd64", URL: "https://example.com/cloud-v0.9.0-windows-amd64.tar.gz", SHA256: testSHA1},
		},
	}
}

func TestPatch(t *testing.T) {
	m := newTestManifest()
	require.NoError(t, m.Patch("linux", "amd64", testSHA2, "file:///tmp/cloud.tar.gz"))

	p := m.Find("linux", "amd64")
	require.NotNil(t, p)
	require.Equal(t, testSHA2, p.SHA256)
	require.Equal(t, "file:///tmp/cloud.tar.gz", p.URL)

	other := m.Find("linux", "aarch64")
	require.Equal(t, testSHA1, other.SHA256)
	require.Equal(t, "https://example.com/cloud-v0.9.0-linux-aarch64.tar.gz", other.URL)
}

func TestPatchMissingPackage(t *testing.T) {
	m := newTestManifest()
	err := m.Patch("freebsd", "amd64", testSHA2, "file:///tmp/cloud.tar.gz")
	require.ErrorIs(t, err, ErrPackageNotFound)
}

func TestPatchOnlyTouchesMatchingPackage(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := newTestManifest()
		before := make([]Package, len(m.Packages))
		for i, p := range m.Packages {
			before[i] = *p
		}
		idx := rapid.IntRange(0, len(m.Packages)-1).Draw(t, "idx")
		target := before[idx]
		sha := rapid.StringMatching(`[0-9a-f]{64}`).Draw(t, "sha")
		url := "file:///" + rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "path") + ".tar.gz"

		if err := m.Patch(target.OS, target.Arch, sha, url); err != nil {
			t.Fatalf("patch failed: %v", err)
		}
		for i, p := range m.Packages {
			if i == idx {
				if p.SHA256 != sha || p.URL != url {
					t.Fatalf("package %s not patched", p.Platform())
				}
				continue
			}
			if *p != before[i] {
				t.Fatalf("package %s changed", p.Platform())
			}
		}
	})
}

func TestValidate(t *testing.T) {
	require.NoError(t, newTestManifest().Validate())

	testCases := []struct {
		modify   func(m *Manifest)
		expected string
	}{
		{modify: func(m *Manifest) { m.Name = "" }, expected: "name is missing"},
		{modify: func(m *Manifest) { m.Version = "latest" }, expected: "not a valid semver version"},
		{modify: func(m *Manifest) { m.Packages = nil }, expected: "no packages"},
		{modify: func(m *Manifest) { m.Packages[1].Arch = "amd64" }, expected: "duplicate package: linux/amd64"},
		{modify: func(m *Manifest) { m.Packages[0].SHA256 = "abc" }, expected: "invalid sha256"},
		{modify: func(m *Manifest) { m.Packages[0].SHA256 = strings.ToUpper(testSHA1) }, expected: "invalid sha256"},
		{modify: func(m *Manifest) { m.Packages[2].URL = "" }, expected: "has no url"},
	}
	for i, tc := range testCases {
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			m := newTestManifest()
			tc.modify(m)
			require.ErrorContains(t, m.Validate(), tc.expected)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloud.json")
	m := newTestManifest()
	require.NoError(t, m.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(raw), "}\n"))
	require.Contains(t, string(raw), `  "spinCompatibility": ">=2.0",`)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, m, loaded)
}

func TestPatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloud.json")
	require.NoError(t, newTestManifest().Save(path))

	require.NoError(t, PatchFile(path, "linux", "amd64", testSHA2, "file:///work/cloud.tar.gz"))

	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, testSHA2, m.Find("linux", "amd64").SHA256)
	require.Equal(t, "file:///work/cloud.tar.gz", m.Find("linux", "amd64").URL)
	require.Equal(t, testSHA1, m.Find("windows", "amd64").SHA256)

	err = PatchFile(path, "linux", "riscv64", testSHA2, "file:///work/cloud.tar.gz")
	require.ErrorIs(t, err, ErrPackageNotFound)
}
