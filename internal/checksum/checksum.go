package checksum

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var (
	defaultRetryableClient     *retryablehttp.Client
	defaultRetryableClientInit sync.Once
)

func getDefaultRetryableClient() *retryablehttp.Client {
	defaultRetryableClientInit.Do(func() {
		defaultRetryableClient = retryablehttp.NewClient()
		defaultRetryableClient.Logger = nil
		defaultRetryableClient.RetryWaitMin = 100 * time.Millisecond
		defaultRetryableClient.HTTPClient.Timeout = time.Minute
	})
	return defaultRetryableClient
}

// FileName is the name of the checksums file of a channel.
func FileName(channel string) string {
	return fmt.Sprintf("checksums-%s.txt", channel)
}

func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Reader(f)
}

type Entry struct {
	Checksum string
	FileName string
}

type Sums []Entry

// Add sets the checksum of fileName, replacing an existing entry.
func (s *Sums) Add(fileName, checksum string) {
	for i := range *s {
		if (*s)[i].FileName == fileName {
			(*s)[i].Checksum = checksum
			return
		}
	}
	*s = append(*s, Entry{Checksum: checksum, FileName: fileName})
}

func (s Sums) Get(fileName string) (string, bool) {
	for _, e := range s {
		if strings.EqualFold(e.FileName, fileName) {
			return e.Checksum, true
		}
	}
	return "", false
}

// Write emits sha256sum compatible lines sorted by file name.
func (s Sums) Write(w io.Writer) error {
	sorted := make(Sums, len(s))
	copy(sorted, s)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].FileName < sorted[j].FileName
	})
	for _, e := range sorted {
		if _, err := fmt.Fprintf(w, "%s  %s\n", e.Checksum, e.FileName); err != nil {
			return err
		}
	}
	return nil
}

func (s Sums) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.Write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Parse reads sha256sum style lines. Blank lines are skipped and the binary
// mode marker in front of the file name is dropped.
func Parse(r io.Reader) (Sums, error) {
	ret := make(Sums, 0)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid checksum line %d: %q", lineNo, line)
		}
		ret.Add(strings.TrimPrefix(fields[1], "*"), strings.ToLower(fields[0]))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func ParseFile(path string) (Sums, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func Fetch(ctx context.Context, url string) (Sums, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := getDefaultRetryableClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}
	return Parse(res.Body)
}
