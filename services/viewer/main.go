package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatview/internal/backend"
	pgbackend "github.com/chatview/internal/backend/postgres"
	"github.com/chatview/internal/backend/wsnotify"
	"github.com/chatview/internal/config"
	"github.com/chatview/internal/handler"
	"github.com/chatview/internal/logger"
	"github.com/chatview/internal/middleware"
	"github.com/chatview/internal/startup"
	"github.com/chatview/internal/view"
	"github.com/chatview/migrations"
)

func main() {
	logger.SetPrefix("viewer")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external backend required)")
	flag.Parse()

	logger.Info("starting viewer service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	if *dev || *migrate {
		runMigrations(pool)
	}
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected")

	querier := pgbackend.NewClient(pool)
	notifier := buildNotifier(cfg)

	session := view.NewSession(querier, notifier, cfg.ViewerUserID)
	defer session.Close()

	startCtx, startCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := session.Start(startCtx); err != nil {
		// Keep serving; manual refresh is the recovery path.
		logger.Errorf("initial chat list load: %v", err)
	}
	startCancel()

	viewH := handler.NewViewStateHandler(session)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(chimw.Compress(5))
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/view/chats", viewH.GetChats)
	r.Get("/api/view/feed", viewH.GetFeed)
	r.Get("/api/view/status", viewH.GetStatus)
	r.Get("/api/view/tag-colors", viewH.GetTagColors)
	r.Post("/api/view/select", viewH.SelectChat)
	r.Post("/api/view/chats/refresh", viewH.RefreshChats)
	r.Post("/api/view/feed/refresh", viewH.RefreshFeed)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	session.Close()
	logger.Info("server stopped")
}

// buildNotifier picks the change-notification transport from config.
func buildNotifier(cfg *config.Config) backend.Notifier {
	switch cfg.Notify.Driver {
	case "redis":
		return startup.ConnectRedisWithRetry(cfg.Notify.RedisURL, 60*time.Second)
	case "websocket":
		if cfg.Notify.WSURL == "" {
			logger.Errorf("notify driver websocket requires NOTIFY_WS_URL")
			os.Exit(1)
		}
		return wsnotify.NewNotifier(cfg.Notify.WSURL)
	case "postgres", "":
		return pgbackend.NewNotifier(cfg.DatabaseURL())
	default:
		logger.Errorf("unknown notify driver %q", cfg.Notify.Driver)
		os.Exit(1)
		return nil
	}
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	for _, e := range entries {
		data, err := migrations.Files.ReadFile(e.Name())
		if err != nil {
			logger.Errorf("read migration %s: %v", e.Name(), err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", e.Name(), err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatview"
		password = "chatview_secret"
		database = "chatview"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
