package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spinplugins/plugin-release/internal/platform"
)

// Entry is a file that goes into an archive under Name.
type Entry struct {
	Name string
	Path string
	Mode int64
}

// Artifact is a packaged tarball for one platform.
type Artifact struct {
	Platform platform.Platform
	FileName string
	Path     string
	SHA256   string
	Size     int64
}

// PackageName returns <name>-<channel>-<os>-<arch>.tar.gz.
func PackageName(name, channel string, p platform.Platform) string {
	return fmt.Sprintf("%s-%s-%s.tar.gz", name, channel, p.Slug())
}

func addFile(tarWriter *tar.Writer, e Entry, modTime time.Time) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return err
	}
	if stat.IsDir() {
		return fmt.Errorf("%s is a directory", e.Path)
	}
	if modTime.IsZero() {
		modTime = stat.ModTime()
	}
	err = tarWriter.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.Name,
		Mode:     e.Mode,
		Size:     stat.Size(),
		ModTime:  modTime,
		Format:   tar.FormatPAX,
	})
	if err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	n, err := io.Copy(tarWriter, f)
	if err != nil {
		return fmt.Errorf("failed to write tar file: %w", err)
	}
	if n != stat.Size() {
		return fmt.Errorf("unexpected content length: %d (should be %d)", n, stat.Size())
	}
	return nil
}

// TarGz writes entries into a gzip compressed tarball at dest and returns
// the hex encoded sha256 of the written archive. A zero modTime keeps the
// modification time of each file.
func TarGz(dest string, entries []Entry, modTime time.Time) (string, error) {
	tgzFile, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer tgzFile.Close()

	tgzHash := sha256.New()
	gzipWriter := gzip.NewWriter(io.MultiWriter(tgzFile, tgzHash))
	if !modTime.IsZero() {
		gzipWriter.ModTime = modTime
	}
	tarWriter := tar.NewWriter(gzipWriter)
	for _, e := range entries {
		if err := addFile(tarWriter, e, modTime); err != nil {
			return "", fmt.Errorf("failed to add %s to tar archive: %w", e.Name, err)
		}
	}
	err = tarWriter.Close()
	if err != nil {
		return "", fmt.Errorf("failed to close tar writer: %w", err)
	}
	err = gzipWriter.Close()
	if err != nil {
		return "", fmt.Errorf("failed to close gzip writer: %w", err)
	}
	if err := tgzFile.Sync(); err != nil {
		return "", err
	}
	return hex.EncodeToString(tgzHash.Sum(nil)), nil
}

// List returns the entry names of a tar.gz archive.
func List(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gzipReader, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gzipReader.Close()
	tarReader := tar.NewReader(gzipReader)
	names := make([]string, 0)
	for {
		hdr, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, hdr.Name)
	}
	return names, nil
}

// SourceDateEpoch turns a SOURCE_DATE_EPOCH value into the modification time
// of archive entries. Zero keeps the file times.
func SourceDateEpoch(epoch int64) time.Time {
	if epoch <= 0 {
		return time.Time{}
	}
	return time.Unix(epoch, 0).UTC()
}

// Packager puts a compiled plugin binary and its license into a tarball.
type Packager struct {
	log         *logrus.Logger
	name        string
	licenseFile string
	distDir     string
	modTime     time.Time
}

func NewPackager(log *logrus.Logger, name, licenseFile, distDir string, modTime time.Time) *Packager {
	return &Packager{
		log:         log,
		name:        name,
		licenseFile: licenseFile,
		distDir:     distDir,
		modTime:     modTime,
	}
}

func (p *Packager) entries(pf platform.Platform, binary string) []Entry {
	return []Entry{
		{Name: p.name + pf.ExeSuffix(), Path: binary, Mode: 0o755},
		{Name: filepath.Base(p.licenseFile), Path: p.licenseFile, Mode: 0o644},
	}
}

// Package archives binary as <distDir>/<name>-<channel>-<os>-<arch>.tar.gz.
func (p *Packager) Package(channel string, pf platform.Platform, binary string) (*Artifact, error) {
	return p.PackageAs(PackageName(p.name, channel, pf), pf, binary)
}

func (p *Packager) PackageAs(fileName string, pf platform.Platform, binary string) (*Artifact, error) {
	if err := os.MkdirAll(p.distDir, 0o755); err != nil {
		return nil, err
	}
	dest := filepath.Join(p.distDir, fileName)
	p.log.Infof("packaging %s into %s", binary, dest)
	checksum, err := TarGz(dest, p.entries(pf, binary), p.modTime)
	if err != nil {
		_ = os.Remove(dest)
		return nil, err
	}
	stat, err := os.Stat(dest)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Platform: pf,
		FileName: fileName,
		Path:     dest,
		SHA256:   checksum,
		Size:     stat.Size(),
	}, nil
}
