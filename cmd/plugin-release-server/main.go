package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"github.com/spinplugins/plugin-release/internal/config"
	"github.com/spinplugins/plugin-release/internal/index"
	"github.com/spinplugins/plugin-release/internal/metrics"
	"github.com/spinplugins/plugin-release/internal/server"
)

var version = "dev"

func setupLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}

func setupStore(log *logrus.Logger, cfg *config.ServerConfig) (index.Store, func() error, error) {
	if !cfg.UseFirestore() {
		log.Warn("no project configured, keeping releases in memory")
		return index.NewMemory(), func() error { return nil }, nil
	}
	log.Println("connecting to database...")
	db, err := firestore.NewClient(context.Background(), cfg.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return index.NewFirestore(db, cfg.Stage), db.Close, nil
}

func run(log *logrus.Logger) error {
	cfg, err := config.NewServerConfigFromEnv()
	if err != nil {
		return err
	}
	cfg.Version = version
	log.Infof("starting plugin-release-server (version=%s, stage=%s)", version, cfg.Stage)

	if !cfg.DisableMetrics {
		log.Println("setting up metrics exporter...")
		exporter, err := metrics.NewExporter(cfg)
		if err != nil {
			return err
		}
		defer func() {
			exporter.Flush()
			exporter.StopMetricsExporter()
		}()
	}

	store, closeStore, err := setupStore(log, cfg)
	if err != nil {
		return err
	}

	log.Println("starting server...")
	srv := &http.Server{
		Addr:              cfg.GetServerAddr(),
		Handler:           server.New(log, store, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	log.Println("closing database...")
	if err := closeStore(); err != nil {
		log.Error(err)
	}

	log.Println("stopping server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); errors.Is(err, context.DeadlineExceeded) {
		log.Println("closing server...")
		if closeErr := srv.Close(); closeErr != nil {
			return closeErr
		}
	} else if err != nil {
		return err
	}
	log.Println("server stopped!")
	return nil
}

func main() {
	log := setupLogger()
	if err := run(log); err != nil {
		log.Fatal(err)
	}
}
