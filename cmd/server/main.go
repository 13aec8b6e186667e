package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportdesk/internal/config"
	"github.com/supportdesk/internal/handler"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/repository"
	"github.com/supportdesk/internal/startup"
	"github.com/supportdesk/internal/storage"
	"github.com/supportdesk/internal/storage/devstore"
	"github.com/supportdesk/internal/storage/memory"
	"github.com/supportdesk/internal/ws"
	"github.com/supportdesk/migrations"
)

func main() {
	logger.SetPrefix("server")
	defer logger.Flush()
	configPath := flag.String("config", "", "path to YAML config (default CONFIG_PATH or config/server.yaml)")
	migrate := flag.Bool("migrate", false, "apply migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and the configured dev tokens")
	issueUser := flag.String("issue-token", "", "store a bearer token for user id and print it, then exit")
	issueName := flag.String("name", "", "display name for -issue-token")
	issueEmail := flag.String("email", "", "email for -issue-token")
	issueRole := flag.String("role", string(model.RoleEmployee), "role for -issue-token: employee or admin")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("%v", err)
		exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting support chat server")

	if *issueUser != "" {
		id := model.Identity{UserID: *issueUser, Name: *issueName, Email: *issueEmail, Role: model.Role(*issueRole)}
		if err := issueToken(cfg, id); err != nil {
			logger.Errorf("issue token: %v", err)
			exit(1)
		}
		exit(0)
	}

	if *dev {
		cfg.Database.Driver = "postgres"
		embeddedDB, err := startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	repo, err := openRepository(cfg)
	if err != nil {
		logger.Errorf("%v", err)
		exit(1)
	}
	defer repo.Close()
	if *migrate && !*dev {
		return
	}

	tokens, err := openTokenStore(cfg, *dev)
	if err != nil {
		logger.Errorf("token store: %v", err)
		exit(1)
	}
	defer tokens.Close()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(repo, ws.Options{
		WriteWait:      cfg.WS.WriteTimeout,
		PongWait:       cfg.WS.PongTimeout,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBufferSize: cfg.WS.SendBufferSize,
		MaxConnections: cfg.WS.MaxConnections,
	})
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: handler.NewRouter(handler.Deps{
			Repo:        repo,
			Hub:         hub,
			Tokens:      tokens,
			CORSOrigins: cfg.CORSOrigins(),
			RateRPS:     cfg.RateLimit.RequestsPerSecond,
			RateBurst:   cfg.RateLimit.Burst,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s (driver=%s)", cfg.ServerAddr, cfg.Database.Driver)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
			hubCancel()
			hubWg.Wait()
			exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
}

// exit flushes the async logger before leaving.
func exit(code int) {
	logger.Flush()
	os.Exit(code)
}

func openRepository(cfg *config.Config) (repository.Repository, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		repo, err := repository.NewSQLiteRepository(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Infof("sqlite database %s ready", cfg.Database.SQLitePath)
		return repo, nil
	default:
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = cfg.Database.MaxConnections
		poolCfg.MinConns = 2

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout+10*time.Second)
		defer cancel()
		pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, cfg.Database.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		if err := runMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("database connected, migrations applied")
		return repository.NewPGRepository(pool), nil
	}
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	scripts, err := migrations.Scripts("postgres")
	if err != nil {
		return err
	}
	for i, sql := range scripts {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}
	}
	return nil
}

// openTokenStore picks Redis when configured, memory otherwise. In -dev mode
// the static tokens from config answer first.
func openTokenStore(cfg *config.Config, dev bool) (storage.TokenStore, error) {
	var base storage.TokenStore
	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		client, err := startup.ConnectRedisWithRetry(ctx, cfg.Redis.URL, 30*time.Second)
		if err != nil {
			return nil, err
		}
		logger.Info("redis token store connected")
		base = client
	} else {
		logger.Warnf("REDIS_URL not set, tokens live in memory and vanish on restart")
		base = memory.New()
	}
	static := cfg.StaticIdentities()
	if dev || len(static) > 0 {
		logger.Infof("%d static dev token(s) enabled", len(static))
		return devstore.New(static, base), nil
	}
	return base, nil
}

func issueToken(cfg *config.Config, id model.Identity) error {
	if id.Role != model.RoleEmployee && id.Role != model.RoleAdmin {
		return fmt.Errorf("role must be employee or admin, got %q", id.Role)
	}
	if cfg.Redis.URL == "" {
		return errors.New("REDIS_URL is required to issue tokens")
	}
	store, err := openTokenStore(cfg, false)
	if err != nil {
		return err
	}
	defer store.Close()

	token := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Put(ctx, token, id, cfg.TokenTTL); err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "support"
		password = "support_secret"
		database = "support"
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
