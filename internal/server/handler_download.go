package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/spinplugins/plugin-release/internal/metrics"
	"github.com/spinplugins/plugin-release/internal/platform"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

// download serves release assets from the dist directory. Tarball
// downloads are counted per platform.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	fileName := chi.URLParam(r, "file")
	if fileName == "" || fileName != filepath.Base(fileName) || fileName[0] == '.' {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("invalid file name %q", fileName))
		return
	}
	path := filepath.Join(s.config.DistDir, fileName)
	stat, err := os.Stat(path)
	if err != nil || stat.IsDir() {
		s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("file %s not found", fileName))
		return
	}
	if pf, ok := platform.FromFileName(fileName); ok {
		ctx, _ := tag.New(r.Context(), tag.Upsert(metrics.TagOSArch, pf.String()))
		stats.Record(ctx, metrics.CounterDownloads.M(1))
	}
	http.ServeFile(w, r, path)
}
