// Command recordfetch-server serves a SQLite resource database over the REST
// layout the recordfetch HTTP adapter speaks.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kilupskalvis/recordfetch/internal/config"
	"github.com/kilupskalvis/recordfetch/internal/localdb"
	"github.com/kilupskalvis/recordfetch/internal/logging"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/remote/server"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("RECORDFETCH_CONFIG"), "Config file declaring the served types")
	listen := flag.String("listen", os.Getenv("RECORDFETCH_LISTEN"), "Listen address (default from config)")
	dbPath := flag.String("db", os.Getenv("RECORDFETCH_DB"), "SQLite database (default adapter.database from config)")
	fixtures := flag.String("fixtures", os.Getenv("RECORDFETCH_FIXTURES"), "JSON fixture file imported at startup")
	token := flag.String("token", os.Getenv("RECORDFETCH_SERVER_TOKEN"), "Bearer token required by the API")
	rpm := flag.Int("rpm", envInt("RECORDFETCH_RPM", 0), "Requests per minute per client (default from config)")
	logLevel := flag.String("log-level", os.Getenv("RECORDFETCH_LOG_LEVEL"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("RECORDFETCH_LOG_FORMAT", "json"), "Log format (json, text)")
	tlsCert := flag.String("tls-cert", os.Getenv("RECORDFETCH_TLS_CERT"), "TLS certificate file")
	tlsKey := flag.String("tls-key", os.Getenv("RECORDFETCH_TLS_KEY"), "TLS key file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	cfg.Log.Format = *logFormat
	logger := logging.New(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	registry, err := cfg.Registry()
	if err != nil {
		logger.Error("invalid types", "error", err)
		os.Exit(1)
	}

	sc := cfg.Server
	if *listen != "" {
		sc.Listen = *listen
	}
	if *token != "" {
		sc.Token = *token
	}
	if *rpm > 0 {
		sc.RequestsPerMinute = *rpm
	}
	if *fixtures != "" {
		sc.Fixtures = *fixtures
	} else {
		sc.Fixtures = cfg.Resolve(sc.Fixtures)
	}
	path := *dbPath
	if path == "" {
		path = cfg.Resolve(cfg.Adapter.Database)
	}
	if path == "" {
		logger.Error("no database configured; pass -db or set adapter.database")
		os.Exit(1)
	}

	db, err := localdb.Open(path)
	if err != nil {
		logger.Error("failed to open database", "error", err, "path", path)
		os.Exit(1)
	}
	defer db.Close()

	if sc.Fixtures != "" {
		if err := importFixtures(db, registry, sc.Fixtures, logger); err != nil {
			logger.Error("failed to import fixtures", "error", err, "path", sc.Fixtures)
			os.Exit(1)
		}
	}

	h, cleanup := server.Handler(db, registry, &server.ServerConfig{
		Namespace:         sc.Namespace,
		Token:             sc.Token,
		RequestsPerMinute: sc.RequestsPerMinute,
	}, logger)
	defer cleanup()

	srv := &http.Server{
		Addr:         sc.Listen,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return context.Background() },
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting recordfetch-server", "listen", sc.Listen, "db", path, "namespace", sc.Namespace)
		var err error
		if *tlsCert != "" && *tlsKey != "" {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func importFixtures(db *localdb.DB, registry *models.Registry, path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := db.Import(context.Background(), f, registry)
	if err != nil {
		return err
	}
	logger.Info("imported fixtures", "count", n, "path", path)
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}
