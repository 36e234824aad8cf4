package publish

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spinplugins/plugin-release/internal/config"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]string
	meta    map[string]string
	puts    int
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch r.Method {
	case http.MethodHead:
		if _, ok := b.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("x-amz-meta-checksum", b.meta[r.URL.Path])
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		b.objects[r.URL.Path] = string(body)
		b.meta[r.URL.Path] = r.Header.Get("x-amz-meta-checksum")
		b.puts++
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func createS3Client(t *testing.T, handler http.Handler) *s3.Client {
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	rCfg := &config.ReleaseConfig{
		MirrorEndpoint:        ts.URL,
		MirrorRegion:          "auto",
		MirrorAccessKeyID:     "test",
		MirrorSecretAccessKey: "test",
		MirrorUsePathStyle:    true,
	}
	client, err := rCfg.CreateS3Client(context.Background())
	require.NoError(t, err)
	return client
}

func TestMirrorKey(t *testing.T) {
	m := NewMirror(newTestLogger(), nil, "plugins", "releases")
	require.Equal(t, "releases/canary/cloud.json", m.Key("canary", "cloud.json"))
}

func TestMirrorUpload(t *testing.T) {
	bucket := &fakeBucket{objects: make(map[string]string), meta: make(map[string]string)}
	m := NewMirror(newTestLogger(), createS3Client(t, bucket), "plugins", "releases")
	asset := writeAssets(t, "cloud-v1.0.0-linux-amd64.tar.gz")[0]

	uploaded, err := m.Upload(context.Background(), "v1.0.0", asset, "aaaa")
	require.NoError(t, err)
	require.True(t, uploaded)
	require.Equal(t, "content of cloud-v1.0.0-linux-amd64.tar.gz", bucket.objects["/plugins/releases/v1.0.0/cloud-v1.0.0-linux-amd64.tar.gz"])
	require.Equal(t, "aaaa", bucket.meta["/plugins/releases/v1.0.0/cloud-v1.0.0-linux-amd64.tar.gz"])

	uploaded, err = m.Upload(context.Background(), "v1.0.0", asset, "aaaa")
	require.NoError(t, err)
	require.False(t, uploaded)
	require.Equal(t, 1, bucket.puts)

	uploaded, err = m.Upload(context.Background(), "v1.0.0", asset, "bbbb")
	require.NoError(t, err)
	require.True(t, uploaded)
	require.Equal(t, 2, bucket.puts)
}

func TestMirrorUploadHeadError(t *testing.T) {
	client := createS3Client(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	m := NewMirror(newTestLogger(), client, "plugins", "releases")
	asset := writeAssets(t, "cloud.json")[0]
	_, err := m.Upload(context.Background(), "canary", asset, "aaaa")
	require.ErrorContains(t, err, "could not check if releases/canary/cloud.json exists")
}
