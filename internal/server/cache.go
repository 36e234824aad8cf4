package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/spinplugins/plugin-release/internal/metrics"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

const (
	cacheKeyPrefixRequest = "request"
	cacheHeader           = "X-Go-Cache"
)

type cacheKey string

// cachedResponse is a successful response body as it was sent.
type cachedResponse struct {
	contentType string
	body        []byte
}

func requestCacheKey(r *http.Request) cacheKey {
	return cacheKey(fmt.Sprintf("%s/%s:%s", cacheKeyPrefixRequest, r.Method, r.URL.EscapedPath()))
}

// pluginCacheKeyPrefix matches every cached GET below the plugin's path.
func pluginCacheKeyPrefix(pluginName string) cacheKey {
	return cacheKey(fmt.Sprintf("%s/%s:/api/v1/plugins/%s/", cacheKeyPrefixRequest, http.MethodGet, pluginName))
}

func recordCacheMetric(ctx context.Context, k cacheKey, m *stats.Int64Measure) {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.TagCacheKey, string(k)))
	stats.Record(ctx, m.M(1))
}

func (s *Server) getFromCache(ctx context.Context, k cacheKey) (*cachedResponse, bool) {
	val, ok := s.cache.Get(string(k))
	if !ok {
		return nil, false
	}
	recordCacheMetric(ctx, k, metrics.CounterCacheHit)
	return val.(*cachedResponse), true
}

func (s *Server) setInCache(ctx context.Context, k cacheKey, resp *cachedResponse) {
	recordCacheMetric(ctx, k, metrics.CounterCacheMiss)
	s.cache.Set(string(k), resp, cache.DefaultExpiration)
}

func (s *Server) invalidateByPrefix(prefix cacheKey) int {
	removed := 0
	for k := range s.cache.Items() {
		if strings.HasPrefix(k, string(prefix)) {
			s.cache.Delete(k)
			removed++
		}
	}
	return removed
}

// cacheMiddleware answers repeated GETs from memory. Only 200 responses
// are stored.
func (s *Server) cacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.DisableRequestCache || r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		k := requestCacheKey(r)
		if resp, ok := s.getFromCache(r.Context(), k); ok {
			w.Header().Set("Content-Type", resp.contentType)
			w.Header().Set(cacheHeader, "HIT")
			_, _ = w.Write(resp.body)
			return
		}

		w.Header().Set(cacheHeader, "MISS")
		var buf bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&buf)
		next.ServeHTTP(ww, r)
		if ww.Status() == http.StatusOK {
			s.setInCache(r.Context(), k, &cachedResponse{
				contentType: w.Header().Get("Content-Type"),
				body:        buf.Bytes(),
			})
		}
	})
}
