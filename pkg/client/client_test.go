package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spinplugins/plugin-release/pkg/manifest"
	"github.com/spinplugins/plugin-release/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrimsAPIPrefix(t *testing.T) {
	require.Equal(t, "https://releases.example.com", New("https://releases.example.com/api/v1/").serverURL)
	require.Equal(t, "https://releases.example.com", New("https://releases.example.com").serverURL)
}

func TestGetReleases(t *testing.T) {
	testData := registry.Releases{
		{Name: "cloud", Channel: "v1.0.0", Version: "1.0.0"},
		{Name: "cloud", Channel: "canary", Version: "1.1.0-canary", Prerelease: true},
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/plugins/cloud/releases", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(testData))
	}))
	defer ts.Close()
	c := New(ts.URL)
	releases, err := c.GetReleases(context.Background(), "cloud")
	require.NoError(t, err)
	require.Len(t, releases, 2)
	require.Equal(t, "v1.0.0", releases.Latest().Channel)
}

func TestGetRelease(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/plugins/cloud/releases/canary", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(&registry.Release{
			Name:    "cloud",
			Channel: "canary",
			Commit:  "0123456",
			Manifest: &manifest.Manifest{
				Name:     "cloud",
				Packages: []*manifest.Package{{OS: "linux", Arch: "amd64", URL: "https://example.com/cloud.tar.gz"}},
			},
		}))
	}))
	defer ts.Close()
	release, err := New(ts.URL).GetRelease(context.Background(), "cloud", "canary")
	require.NoError(t, err)
	require.True(t, release.IsCanary())
	require.Equal(t, "https://example.com/cloud.tar.gz", release.Manifest.Find("linux", "amd64").URL)
}

func TestGetManifest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/plugins/cloud/releases/v1.0.0/manifest.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"name":"cloud","version":"1.0.0","packages":[{"os":"macos","arch":"aarch64","url":"u","sha256":"s"}]}`))
	}))
	defer ts.Close()
	m, err := New(ts.URL).GetManifest(context.Background(), "cloud", "v1.0.0")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", m.Version)
	require.Equal(t, "s", m.Find("macos", "aarch64").SHA256)
}

func TestErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"release cloud@v9.0.0 not found"}`))
	}))
	defer ts.Close()
	_, err := New(ts.URL).GetRelease(context.Background(), "cloud", "v9.0.0")
	var errResp *ErrorResponse
	require.True(t, errors.As(err, &errResp))
	require.Equal(t, http.StatusNotFound, errResp.StatusCode)
	require.Equal(t, "release cloud@v9.0.0 not found", errResp.ErrorMsg)
}

func TestPutRelease(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/plugins/cloud/releases/v1.0.0", r.URL.Path)
		assert.Equal(t, "admin-token", r.Header.Get("Authorization"))
		var release registry.Release
		require.NoError(t, json.NewDecoder(r.Body).Decode(&release))
		assert.Equal(t, "1.0.0", release.Version)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]bool{"ok": true}))
	}))
	defer ts.Close()
	err := New(ts.URL).PutRelease(context.Background(), "admin-token", &registry.Release{Name: "cloud", Channel: "v1.0.0", Version: "1.0.0"})
	require.NoError(t, err)
}

func TestPutReleaseUnauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer ts.Close()
	err := New(ts.URL).PutRelease(context.Background(), "wrong", &registry.Release{Name: "cloud", Channel: "canary"})
	require.ErrorContains(t, err, "unexpected status code: 401, error: unauthorized")
}
