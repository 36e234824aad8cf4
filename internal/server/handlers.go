package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spinplugins/plugin-release/internal/channel"
	"github.com/spinplugins/plugin-release/internal/index"
	"github.com/spinplugins/plugin-release/internal/metrics"
	"github.com/spinplugins/plugin-release/pkg/registry"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

const latestChannel = "latest"

func (s *Server) listReleases(w http.ResponseWriter, r *http.Request) {
	pluginName := chi.URLParam(r, "plugin")
	releases, err := s.store.ListReleases(r.Context(), pluginName)
	if err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not list releases")
		return
	}
	if len(releases) == 0 {
		s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("plugin %s not found", pluginName))
		return
	}
	s.writeJSON(w, releases)
}

// findRelease resolves a channel name, including the latest alias, and
// writes the error response itself.
func (s *Server) findRelease(w http.ResponseWriter, r *http.Request) (*registry.Release, bool) {
	pluginName := chi.URLParam(r, "plugin")
	channelName := chi.URLParam(r, "channel")

	if channelName == latestChannel {
		releases, err := s.store.ListReleases(r.Context(), pluginName)
		if err != nil {
			s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not list releases")
			return nil, false
		}
		latest := releases.Latest()
		if latest == nil {
			s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("plugin %s has no stable release", pluginName))
			return nil, false
		}
		return latest, true
	}

	release, err := s.store.GetRelease(r.Context(), pluginName, channelName)
	if errors.Is(err, index.ErrNotFound) {
		s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("release %s@%s not found", pluginName, channelName))
		return nil, false
	}
	if err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not get release")
		return nil, false
	}
	return release, true
}

func (s *Server) getRelease(w http.ResponseWriter, r *http.Request) {
	release, ok := s.findRelease(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, release)
}

func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	release, ok := s.findRelease(w, r)
	if !ok {
		return
	}
	if release.Manifest == nil {
		s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("release %s@%s has no manifest", release.Name, release.Channel))
		return
	}
	s.writeJSON(w, release.Manifest)
}

func (s *Server) putRelease(w http.ResponseWriter, r *http.Request) {
	pluginName := chi.URLParam(r, "plugin")
	channelName := chi.URLParam(r, "channel")

	var release registry.Release
	if err := json.NewDecoder(r.Body).Decode(&release); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err, "invalid release")
		return
	}
	if release.Name == "" {
		release.Name = pluginName
	}
	if release.Channel == "" {
		release.Channel = channelName
	}
	if release.Name != pluginName || release.Channel != channelName {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("release %s@%s does not match the request path", release.Name, release.Channel))
		return
	}
	ch, err := channel.Parse(channelName)
	if err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err)
		return
	}
	release.Prerelease = ch.Prerelease()
	if release.Manifest != nil {
		if err := release.Manifest.Validate(); err != nil {
			s.writeJSONError(w, r, http.StatusBadRequest, err)
			return
		}
		if release.Manifest.Name != pluginName {
			s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("manifest of plugin %s does not match the request path", release.Manifest.Name))
			return
		}
		if release.Version == "" {
			release.Version = release.Manifest.Version
		}
	}
	if release.CreatedAt.IsZero() {
		release.CreatedAt = time.Now().UTC()
	}

	s.requestLogger(r).Infof("recording release %s@%s (%s)", release.Name, release.Channel, release.Version)
	if err := s.store.SaveRelease(r.Context(), &release); err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not save release")
		return
	}
	ctx, _ := tag.New(r.Context(), tag.Upsert(metrics.TagPlugin, release.Name), tag.Upsert(metrics.TagChannel, release.Channel))
	stats.Record(ctx, metrics.CounterReleasesPublished.M(1))

	if n := s.invalidateByPrefix(pluginCacheKeyPrefix(pluginName)); n > 0 {
		s.requestLogger(r).Debugf("dropped %d cached responses for %s", n, pluginName)
	}
	s.writeJSON(w, map[string]bool{"ok": true})
}
