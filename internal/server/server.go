package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/spinplugins/plugin-release/internal/config"
	"github.com/spinplugins/plugin-release/internal/index"
)

type Server struct {
	router chi.Router
	log    *logrus.Logger
	store  index.Store
	config *config.ServerConfig
	cache  *cache.Cache
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"service": "plugin release server",
		"stage":   s.config.Stage,
		"version": s.config.Version,
	})
}

func New(log *logrus.Logger, store index.Store, serverCfg *config.ServerConfig) *Server {
	router := chi.NewRouter()
	server := &Server{
		router: router,
		log:    log,
		store:  store,
		config: serverCfg,
		cache:  cache.New(5*time.Minute, 10*time.Minute),
	}
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(server.logMiddleware)
	router.Use(server.recoverMiddleware)
	router.Use(middleware.Timeout(5 * time.Minute))

	router.NotFound(server.notFoundHandler)
	router.MethodNotAllowed(server.methodNotAllowedHandler)

	router.Get("/", server.indexHandler)
	router.Get("/downloads/{file}", server.download)

	router.Route("/api/v1/plugins/{plugin}/releases", func(r chi.Router) {
		r.With(server.cacheMiddleware).Group(func(r chi.Router) {
			r.Get("/", server.listReleases)
			r.Get("/{channel}", server.getRelease)
			r.Get("/{channel}/manifest.json", server.getManifest)
		})

		r.With(server.authMiddleware).Put("/{channel}", server.putRelease)
	})

	return server
}
