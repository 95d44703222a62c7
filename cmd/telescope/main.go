package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	kafkaexport "3tcapital/telescope/internal/adapters/export/kafka"
	"3tcapital/telescope/internal/adapters/http/demo"
	healthhttp "3tcapital/telescope/internal/adapters/http/health"
	"3tcapital/telescope/internal/adapters/storage/mongo"
	"3tcapital/telescope/internal/adapters/storage/postgres"
	"3tcapital/telescope/internal/adapters/storage/sqlstore"
	apphealth "3tcapital/telescope/internal/application/health"
	"3tcapital/telescope/internal/core/entry"
	"3tcapital/telescope/internal/infrastructure/config"
	"3tcapital/telescope/internal/infrastructure/database"
	"3tcapital/telescope/internal/infrastructure/http/server"
	"3tcapital/telescope/internal/infrastructure/logger"
	"3tcapital/telescope/internal/telescope"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "service stopped: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.App.Name, cfg.Log.Level, cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStorage(cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}

	watched := make([]entry.Type, 0, len(cfg.Telescope.WatchedEntries))
	for _, name := range cfg.Telescope.WatchedEntries {
		watched = append(watched, entry.Type(name))
	}

	opts := telescope.Options{
		Storage: store,
		// The demo routes below run on an in-memory SQLite database.
		DatabaseType:            telescope.SQLite,
		WatchedEntries:          watched,
		RoutePrefix:             cfg.Telescope.RoutePrefix,
		CORSAllowedOrigins:      cfg.Telescope.CORSAllowedOrigins,
		EnableQueryLogging:      cfg.Telescope.EnableQueryLogging,
		EnableFileReading:       cfg.Telescope.EnableFileReading,
		FileReadingEnvironments: cfg.Telescope.FileReadingEnvironments,
		Environment:             cfg.App.Environment,
		IncludeCurlCommand:      cfg.Telescope.IncludeCurlCommand,
		RecordMemoryUsage:       cfg.Telescope.RecordMemoryUsage,
		RedactSensitiveData:     cfg.Telescope.RedactSensitiveData,
		ResponseBodySizeLimit:   cfg.Telescope.ResponseBodySizeLimit,
		QueryResultSizeLimit:    cfg.Telescope.QueryResultSizeLimit,
		UIDir:                   cfg.Telescope.UIDir,
		PruneInterval:           cfg.Telescope.PruneInterval,
		PruneMaxAge:             cfg.Telescope.PruneMaxAge,
		Workers:                 cfg.Telescope.Workers,
		QueueSize:               cfg.Telescope.QueueSize,
		StoreTimeout:            cfg.Telescope.StoreTimeout,
		Logger:                  log,
	}
	if len(cfg.Kafka.Brokers) > 0 {
		opts.Kafka = &kafkaexport.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}
	}

	tel, err := telescope.New(opts)
	if err != nil {
		return fmt.Errorf("create telescope: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := tel.Close(closeCtx); err != nil {
			log.Warn("Telescope did not close cleanly", "error", err)
		}
	}()

	if err := tel.Connect(ctx); err != nil {
		return err
	}
	log.Info("Telescope storage ready", "driver", cfg.Storage.Driver)

	demoDB, err := database.OpenSQL(ctx, database.SQLConfig{
		Driver:       "sqlite",
		DSN:          "file:demo?mode=memory&cache=shared",
		MaxOpenConns: 1,
	})
	if err != nil {
		return fmt.Errorf("open demo database: %w", err)
	}
	defer demoDB.Close()

	demoHandler := demo.NewHandler(tel.WrapSQL(demoDB), tel.Exceptions(), log)
	if err := demoHandler.Migrate(ctx); err != nil {
		return err
	}

	healthService := apphealth.NewService(apphealth.Metadata{
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	}, apphealth.Check{Name: "storage", Probe: tel.Ping})

	srv, err := server.New(server.Options{
		Config:        cfg,
		Logger:        log,
		HealthHandler: http.HandlerFunc(healthhttp.NewHandler(healthService).Status),
		Telescope:     tel,
		Routes: func(r chi.Router) {
			r.Route("/demo", demoHandler.Routes)
		},
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	log.Info("Starting HTTP server",
		"port", cfg.HTTP.Port,
		"dashboard", cfg.Telescope.RoutePrefix,
	)
	return srv.Run(ctx)
}

// newStorage builds the entry backend named by cfg.Driver. Connecting is
// left to Telescope.
func newStorage(cfg config.StorageSettings, log *slog.Logger) (entry.Storage, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.New(database.Config{
			URL:             cfg.Postgres.URL,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		}, log), nil
	case "mysql":
		return newSQLStore(database.SQLConfig{
			Driver: "mysql",
			DSN: database.MySQLDSN(database.MySQLConfig{
				Host:     cfg.MySQL.Host,
				Port:     cfg.MySQL.Port,
				Database: cfg.MySQL.Database,
				User:     cfg.MySQL.User,
				Password: cfg.MySQL.Password,
			}),
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		}, log)
	case "sqlite":
		return newSQLStore(database.SQLConfig{
			Driver:       "sqlite",
			DSN:          cfg.SQLite.Path,
			MaxOpenConns: 1,
		}, log)
	case "mongo":
		return mongo.New(mongo.Config{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Timeout:    cfg.Mongo.Timeout,
		}, log), nil
	}
	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
}

func newSQLStore(cfg database.SQLConfig, log *slog.Logger) (entry.Storage, error) {
	store, err := sqlstore.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return store, nil
}
