package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spinplugins/plugin-release/internal/archive"
	"github.com/spinplugins/plugin-release/internal/checksum"
	"github.com/spinplugins/plugin-release/pkg/manifest"
	"golang.org/x/sync/errgroup"
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrMissingBinary    = errors.New("archive does not contain the plugin binary")
)

// Result is the outcome of checking one package descriptor.
type Result struct {
	Platform string
	URL      string
	Expected string
	Actual   string
}

func (r *Result) OK() bool {
	return r.Expected == r.Actual
}

type Verifier struct {
	client      *retryablehttp.Client
	concurrency int
}

func New() *Verifier {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryWaitMin = 100 * time.Millisecond
	client.HTTPClient.Timeout = 5 * time.Minute
	return &Verifier{client: client, concurrency: 4}
}

// Open streams the content behind a descriptor url. file:// urls and plain
// paths are read from disk.
func (v *Verifier) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return os.Open(rawURL)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return os.Open(u.Path)
	case "http", "https":
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		res, err := v.client.Do(req)
		if err != nil {
			return nil, err
		}
		if res.StatusCode != http.StatusOK {
			_ = res.Body.Close()
			return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
		}
		return res.Body, nil
	}
	return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
}

func (v *Verifier) check(ctx context.Context, p *manifest.Package) (*Result, error) {
	r, err := v.Open(ctx, p.URL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Platform(), err)
	}
	defer r.Close()
	actual, err := checksum.Reader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Platform(), err)
	}
	return &Result{
		Platform: p.Platform(),
		URL:      p.URL,
		Expected: strings.ToLower(p.SHA256),
		Actual:   actual,
	}, nil
}

// Manifest downloads every package of m and compares its sha256 with the
// descriptor. Results are returned in package order; any mismatch yields
// ErrChecksumMismatch.
func (v *Verifier) Manifest(ctx context.Context, m *manifest.Manifest) ([]*Result, error) {
	results := make([]*Result, len(m.Packages))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, p := range m.Packages {
		i, p := i, p
		g.Go(func() error {
			res, err := v.check(gCtx, p)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	mismatched := make([]string, 0)
	for _, r := range results {
		if !r.OK() {
			mismatched = append(mismatched, r.Platform)
		}
	}
	if len(mismatched) > 0 {
		return results, fmt.Errorf("%w: %s", ErrChecksumMismatch, strings.Join(mismatched, ", "))
	}
	return results, nil
}

// Archive checks that a packaged tarball carries binary.
func Archive(path, binary string) error {
	names, err := archive.List(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	for _, n := range names {
		if n == binary {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not in %s", ErrMissingBinary, binary, path)
}
