package metrics

import (
	"fmt"

	"contrib.go.opencensus.io/exporter/stackdriver"
	"github.com/spinplugins/plugin-release/internal/config"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	CounterDownloads         = stats.Int64("plugin_downloads", "Number of plugin tarball downloads", "1")
	CounterReleasesPublished = stats.Int64("releases_published", "Number of releases recorded", "1")
	CounterCacheHit          = stats.Int64("cache_hits", "Number of cache hits", "1")
	CounterCacheMiss         = stats.Int64("cache_misses", "Number of cache misses", "1")

	TagOSArch   = tag.MustNewKey("os_arch")
	TagPlugin   = tag.MustNewKey("plugin")
	TagChannel  = tag.MustNewKey("channel")
	TagCacheKey = tag.MustNewKey("cache_key")
)

var Views = []*view.View{
	{
		Name:        "plugin_downloads",
		Measure:     CounterDownloads,
		Description: "Number of plugin tarball downloads",
		TagKeys:     []tag.Key{TagOSArch},
		Aggregation: view.Count(),
	},
	{
		Name:        "releases_published",
		Measure:     CounterReleasesPublished,
		Description: "Number of releases recorded",
		TagKeys:     []tag.Key{TagPlugin, TagChannel},
		Aggregation: view.Count(),
	},
	{
		Name:        "cache_hits",
		Measure:     CounterCacheHit,
		Description: "Number of cache hits",
		TagKeys:     []tag.Key{TagCacheKey},
		Aggregation: view.Count(),
	},
	{
		Name:        "cache_misses",
		Measure:     CounterCacheMiss,
		Description: "Number of cache misses",
		TagKeys:     []tag.Key{TagCacheKey},
		Aggregation: view.Count(),
	},
}

func NewExporter(cfg *config.ServerConfig) (*stackdriver.Exporter, error) {
	err := view.Register(Views...)
	if err != nil {
		return nil, err
	}
	exporter, err := stackdriver.NewExporter(stackdriver.Options{
		ProjectID:    cfg.ProjectID,
		MetricPrefix: fmt.Sprintf("plugin-release-server/%s", cfg.Stage),
	})
	if err != nil {
		return nil, err
	}
	err = exporter.StartMetricsExporter()
	if err != nil {
		return nil, err
	}
	return exporter, nil
}
