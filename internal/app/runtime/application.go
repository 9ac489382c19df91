// Package runtime assembles the configured engine into a running process:
// configuration, storage, external sources, HTTP stack and lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Meridian-Commerce/reservation_engine/internal/adapters/orderline"
	"github.com/Meridian-Commerce/reservation_engine/internal/adapters/stockledger"
	"github.com/Meridian-Commerce/reservation_engine/internal/adapters/warehousedir"
	"github.com/Meridian-Commerce/reservation_engine/internal/app"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/httpapi"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/metrics"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage/postgres"
	"github.com/Meridian-Commerce/reservation_engine/internal/config"
	"github.com/Meridian-Commerce/reservation_engine/internal/middleware"
	"github.com/Meridian-Commerce/reservation_engine/internal/platform/migrations"
	"github.com/Meridian-Commerce/reservation_engine/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	handler    *httpapi.Handler
	httpServer *http.Server
	db         *sql.DB
	redis      *redis.Client
}

// NewApplication constructs a running engine from configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig wires the engine around an already-loaded
// configuration.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, redisClient, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	engine, err := app.New(stores, cfg, log)
	if err != nil {
		closeQuiet(db, redisClient)
		return nil, fmt.Errorf("build application: %w", err)
	}

	handler, err := httpapi.NewHandler(engine.Reservations, engine.Allocations, log, httpapi.Options{
		AuditLogPath: auditLogPath(cfg),
	})
	if err != nil {
		closeQuiet(db, redisClient)
		return nil, fmt.Errorf("build http handler: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      buildMiddleware(cfg, log, handler),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		app:        engine,
		handler:    handler,
		httpServer: httpServer,
		db:         db,
		redis:      redisClient,
	}, nil
}

// Run starts background services and the HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, background services and
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.app.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.handler.Close(); err != nil {
		a.log.WithError(err).Warn("error closing audit sink")
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return firstErr
}

// buildStores resolves persistence and the external read sources. The
// database, when configured, backs everything by default; HTTP sources and
// the Redis cache override individual pieces.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, *redis.Client, error) {
	var stores app.Stores
	var db *sql.DB

	if cfg.Database.DSN != "" {
		opened, err := openDatabase(cfg.Database)
		if err != nil {
			return app.Stores{}, nil, nil, err
		}
		db = opened

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = migrations.Apply(ctx, db)
		cancel()
		if err != nil {
			db.Close()
			return app.Stores{}, nil, nil, fmt.Errorf("apply migrations: %w", err)
		}

		sqlxDB := sqlx.NewDb(db, cfg.Database.Driver)
		stores.Engine = postgres.New(db)
		stores.Ledger = stockledger.NewSQL(sqlxDB)
		stores.LineItems = orderline.NewSQL(sqlxDB)
		stores.Warehouses = warehousedir.NewSQL(sqlxDB)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}

	if endpoint := cfg.Sources.StockLedgerURL; endpoint != "" {
		ledger, err := stockledger.NewHTTP(httpClient, endpoint, cfg.Sources.StockLedgerAPIKey, log)
		if err != nil {
			closeQuiet(db, nil)
			return app.Stores{}, nil, nil, fmt.Errorf("configure stock ledger: %w", err)
		}
		ledger.WithPaths(cfg.Sources.StockQuantityPath, cfg.Sources.StockLevelsPath)
		stores.Ledger = ledger
	}

	if endpoint := cfg.Sources.WarehouseDirectoryURL; endpoint != "" {
		directory, err := warehousedir.NewHTTP(httpClient, endpoint, cfg.Sources.WarehouseDirectoryKey, log)
		if err != nil {
			closeQuiet(db, nil)
			return app.Stores{}, nil, nil, fmt.Errorf("configure warehouse directory: %w", err)
		}
		stores.Warehouses = directory
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" && stores.Warehouses != nil {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.WithError(err).Warn("redis unreachable; warehouse directory cache disabled")
			redisClient.Close()
			redisClient = nil
		} else {
			ttl := time.Duration(cfg.Redis.CacheTTLSec) * time.Second
			stores.Warehouses = warehousedir.NewCached(stores.Warehouses, redisClient, ttl, log)
		}
	}

	return stores, db, redisClient, nil
}

func buildMiddleware(cfg *config.Config, log *logger.Logger, handler http.Handler) http.Handler {
	// Innermost first: metrics, then throttling, then auth, then request id.
	wrapped := metrics.InstrumentHandler(handler)

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(float64(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst, log)
		wrapped = limiter.Handler(wrapped)
	}
	if cfg.Auth.Enabled {
		auth := middleware.NewBearerAuth(cfg.Auth.JWTSecret, log, []string{"/health", "/metrics"})
		wrapped = auth.Handler(wrapped)
	}
	wrapped = middleware.RequestLogger(log)(wrapped)
	wrapped = middleware.RequestID(wrapped)
	return wrapped
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func auditLogPath(cfg *config.Config) string {
	if cfg.Logging.Output == "file" && cfg.Logging.FilePrefix != "" {
		return cfg.Logging.FilePrefix + "-audit.jsonl"
	}
	return ""
}

func closeQuiet(db *sql.DB, redisClient *redis.Client) {
	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
}
