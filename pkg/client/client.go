package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spinplugins/plugin-release/pkg/manifest"
	"github.com/spinplugins/plugin-release/pkg/registry"
)

const apiPrefix = "api/v1"

type ErrorResponse struct {
	StatusCode int
	ErrorMsg   string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("unexpected status code: %d, error: %s", e.StatusCode, e.ErrorMsg)
}

type Client struct {
	serverURL  string
	httpClient *http.Client
}

// New creates a client for the release server at serverURL. A trailing
// /api/v1 is optional.
func New(serverURL string) *Client {
	serverURL = strings.TrimSuffix(serverURL, "/")
	serverURL = strings.TrimSuffix(serverURL, "/"+apiPrefix)
	return &Client{
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func setAuth(adminAccessToken string) func(r *http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", adminAccessToken)
	}
}

func getReleasesURL(pluginName string) string {
	return fmt.Sprintf("plugins/%s/releases", url.PathEscape(pluginName))
}

func getReleaseURL(pluginName, channel string) string {
	return fmt.Sprintf("%s/%s", getReleasesURL(pluginName), url.PathEscape(channel))
}

func (c *Client) sendRequest(ctx context.Context, method, endpoint string, body io.Reader, modifyRequestFns ...func(r *http.Request)) (*http.Response, error) {
	apiEndpoint, err := url.JoinPath(c.serverURL, apiPrefix, endpoint)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, apiEndpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json; charset=utf-8")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for _, f := range modifyRequestFns {
		f(req)
	}
	return c.httpClient.Do(req)
}

func (c *Client) decodeResponse(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			errResp.ErrorMsg = http.StatusText(resp.StatusCode)
		}
		return &errResp
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) GetReleases(ctx context.Context, pluginName string) (registry.Releases, error) {
	resp, err := c.sendRequest(ctx, http.MethodGet, getReleasesURL(pluginName), nil)
	if err != nil {
		return nil, err
	}
	var releases registry.Releases
	if err := c.decodeResponse(resp, &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

func (c *Client) GetRelease(ctx context.Context, pluginName, channel string) (*registry.Release, error) {
	resp, err := c.sendRequest(ctx, http.MethodGet, getReleaseURL(pluginName, channel), nil)
	if err != nil {
		return nil, err
	}
	var release registry.Release
	if err := c.decodeResponse(resp, &release); err != nil {
		return nil, err
	}
	return &release, nil
}

func (c *Client) GetManifest(ctx context.Context, pluginName, channel string) (*manifest.Manifest, error) {
	resp, err := c.sendRequest(ctx, http.MethodGet, getReleaseURL(pluginName, channel)+"/manifest.json", nil)
	if err != nil {
		return nil, err
	}
	var m manifest.Manifest
	if err := c.decodeResponse(resp, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) PutRelease(ctx context.Context, adminAccessToken string, release *registry.Release) error {
	var bodyBuffer bytes.Buffer
	if err := json.NewEncoder(&bodyBuffer).Encode(release); err != nil {
		return err
	}
	resp, err := c.sendRequest(ctx, http.MethodPut, getReleaseURL(release.Name, release.Channel), &bodyBuffer, setAuth(adminAccessToken))
	if err != nil {
		return err
	}
	var updateResponse map[string]bool
	if err := c.decodeResponse(resp, &updateResponse); err != nil {
		return err
	}
	if !updateResponse["ok"] {
		return fmt.Errorf("update release %s@%s failed: reason unknown", release.Name, release.Channel)
	}
	return nil
}
