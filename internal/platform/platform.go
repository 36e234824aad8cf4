package platform

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

const (
	Linux   = "linux"
	MacOS   = "macos"
	Windows = "windows"

	AMD64   = "amd64"
	AArch64 = "aarch64"
)

// Platform is an (os, arch) pair spelled the way the host plugin installer
// expects it.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return fmt.Sprintf("%s/%s", p.OS, p.Arch)
}

// Slug is the file name friendly form, e.g. linux-amd64.
func (p Platform) Slug() string {
	return fmt.Sprintf("%s-%s", p.OS, p.Arch)
}

func (p Platform) ExeSuffix() string {
	if p.OS == Windows {
		return ".exe"
	}
	return ""
}

func normalizeOS(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linux":
		return Linux, nil
	case "macos", "darwin", "osx":
		return MacOS, nil
	case "windows", "win":
		return Windows, nil
	}
	return "", fmt.Errorf("unsupported operating system %q", s)
}

func normalizeArch(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "amd64", "x86_64", "x64":
		return AMD64, nil
	case "aarch64", "arm64":
		return AArch64, nil
	}
	return "", fmt.Errorf("unsupported architecture %q", s)
}

// Normalize maps Go, uname and installer spellings onto the canonical names.
func Normalize(osName, arch string) (Platform, error) {
	o, err := normalizeOS(osName)
	if err != nil {
		return Platform{}, err
	}
	a, err := normalizeArch(arch)
	if err != nil {
		return Platform{}, err
	}
	return Platform{OS: o, Arch: a}, nil
}

// Parse accepts "os/arch" or "os-arch".
func Parse(s string) (Platform, error) {
	osName, arch, found := strings.Cut(s, "/")
	if !found {
		osName, arch, found = strings.Cut(s, "-")
	}
	if !found {
		return Platform{}, fmt.Errorf("invalid platform %q (expected os/arch)", s)
	}
	return Normalize(osName, arch)
}

func Host() (Platform, error) {
	return Normalize(runtime.GOOS, runtime.GOARCH)
}

var osArchRe = regexp.MustCompile(`(?i)(linux|macos|darwin|windows)(_|-)(amd64|x86_64|aarch64|arm64)(\.exe|\.tar\.gz)?$`)

// FromFileName detects the platform from an artifact name like
// cloud-canary-linux-amd64.tar.gz.
func FromFileName(name string) (Platform, bool) {
	osArch := osArchRe.FindStringSubmatch(name)
	if len(osArch) < 4 {
		return Platform{}, false
	}
	p, err := Normalize(osArch[1], osArch[3])
	if err != nil {
		return Platform{}, false
	}
	return p, true
}
