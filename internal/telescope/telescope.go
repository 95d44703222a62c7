// Package telescope wires capture, storage and the dashboard into a single
// handle an application installs on its router.
package telescope

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.mongodb.org/mongo-driver/event"

	kafkaexport "3tcapital/telescope/internal/adapters/export/kafka"
	"3tcapital/telescope/internal/adapters/http/dashboard"
	"3tcapital/telescope/internal/adapters/http/entries"
	"3tcapital/telescope/internal/adapters/http/realtime"
	"3tcapital/telescope/internal/adapters/querylog/mongomonitor"
	"3tcapital/telescope/internal/adapters/querylog/pgxtrace"
	"3tcapital/telescope/internal/adapters/querylog/sqldb"
	storagemongo "3tcapital/telescope/internal/adapters/storage/mongo"
	"3tcapital/telescope/internal/adapters/storage/relational"
	"3tcapital/telescope/internal/application/exception"
	"3tcapital/telescope/internal/application/querylog"
	"3tcapital/telescope/internal/application/recorder"
	"3tcapital/telescope/internal/core/entry"
	"3tcapital/telescope/internal/infrastructure/http/middleware"
	"3tcapital/telescope/internal/infrastructure/logger"
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("telescope closed")

// newKafkaWriter is replaced in tests.
var newKafkaWriter = func(cfg kafkaexport.Config) kafkaexport.MessageWriter {
	return kafkaexport.NewWriter(cfg)
}

// Telescope owns the recorder, the instrumentation hooks and the dashboard
// handlers built around one storage backend.
type Telescope struct {
	opts  Options
	log   *slog.Logger
	store entry.Storage

	recorder   *recorder.Recorder
	exceptions *exception.Hook
	queries    *querylog.Logger
	hub        *realtime.Hub
	dashboard  *dashboard.Handler
	entries    *entries.Handler
	exporter   *kafkaexport.Exporter
	exportSub  *entry.Subscription

	mu        sync.Mutex
	connected bool
	closed    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New validates opts and builds every component. Nothing touches the
// backend until Connect.
func New(opts Options) (*Telescope, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	log := logger.Component(opts.Logger, "telescope")

	board, err := dashboard.NewHandler(dashboard.Config{
		RoutePrefix: opts.RoutePrefix,
		UIDir:       opts.UIDir,
	}, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	rec := recorder.New(opts.Storage, recorder.Config{
		Workers:      opts.Workers,
		QueueSize:    opts.QueueSize,
		StoreTimeout: opts.StoreTimeout,
	}, opts.Logger)

	ignore := append([]string(nil), opts.IgnoreCollections...)
	switch opts.DatabaseType {
	case Mongo:
		ignore = append(ignore, storagemongo.DefaultCollection)
	case Postgres, MySQL, SQLite:
		ignore = append(ignore, relational.Tables...)
	}

	t := &Telescope{
		opts:     opts,
		log:      log,
		store:    opts.Storage,
		recorder: rec,
		exceptions: exception.New(rec, exception.Config{
			Watch:                   opts.watches(entry.TypeException),
			EnableFileReading:       opts.EnableFileReading,
			Environment:             opts.Environment,
			FileReadingEnvironments: opts.FileReadingEnvironments,
			ProjectRoot:             opts.ProjectRoot,
		}, opts.Logger),
		queries: querylog.New(rec, querylog.Config{
			Watch:       opts.EnableQueryLogging && opts.watches(entry.TypeQuery),
			ResultLimit: opts.QueryResultSizeLimit,
			Ignore:      ignore,
		}, opts.Logger),
		hub: realtime.NewHub(opts.Storage, realtime.Config{
			AllowedOrigins: opts.CORSAllowedOrigins,
		}, opts.Logger),
		dashboard: board,
		entries:   entries.NewHandler(opts.Storage, opts.Logger),
	}

	if opts.kafkaEnabled() {
		t.exporter = kafkaexport.New(newKafkaWriter(*opts.Kafka), *opts.Kafka, opts.Logger)
	}

	return t, nil
}

// Connect connects the backend and starts the background workers. It is
// safe to call more than once.
func (t *Telescope) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.connected {
		return nil
	}
	if err := t.store.Connect(ctx); err != nil {
		t.log.Error("Failed to connect storage", "database_type", t.opts.DatabaseType, "error", err)
		return fmt.Errorf("connect storage: %w", err)
	}

	bg, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	if t.exporter != nil {
		buffer := t.opts.Kafka.Buffer
		if buffer <= 0 {
			buffer = kafkaexport.DefaultBuffer
		}
		t.exportSub = t.store.Subscribe(buffer)
		t.wg.Add(1)
		go func(sub *entry.Subscription) {
			defer t.wg.Done()
			t.exporter.Run(bg, sub)
		}(t.exportSub)
	}

	if t.opts.PruneInterval > 0 && t.opts.PruneMaxAge > 0 {
		p := newPruner(t.store, t.opts.PruneInterval, t.opts.PruneMaxAge, t.log)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			p.run(bg)
		}()
	}

	t.connected = true
	t.log.Info("Telescope connected",
		"database_type", t.opts.DatabaseType,
		"route_prefix", t.opts.RoutePrefix,
		"watched_entries", t.opts.WatchedEntries,
		"kafka_export", t.exporter != nil,
	)
	return nil
}

// Middleware returns the capture chain for the host router. It assigns the
// correlation id, records the request when watched and turns panics into
// exception entries.
func (t *Telescope) Middleware() func(http.Handler) http.Handler {
	capture := middleware.Capture(t.recorder, middleware.CaptureConfig{
		RoutePrefix:         t.opts.RoutePrefix,
		WatchRequests:       t.opts.watches(entry.TypeRequest),
		ResponseBodyLimit:   t.opts.ResponseBodySizeLimit,
		IncludeCurlCommand:  t.opts.IncludeCurlCommand,
		RecordMemoryUsage:   t.opts.RecordMemoryUsage,
		RedactSensitiveData: t.opts.RedactSensitiveData,
	}, t.log)
	recoverer := middleware.Recoverer(t.exceptions, t.log)

	return func(next http.Handler) http.Handler {
		return capture(recoverer(next))
	}
}

// RoutePrefix is the normalized mount point of the dashboard.
func (t *Telescope) RoutePrefix() string {
	return t.opts.RoutePrefix
}

// Register mounts the config endpoint and the dashboard under the route
// prefix.
func (t *Telescope) Register(r chi.Router) {
	r.Get(middleware.ConfigPath, t.dashboard.Config)

	r.Route(t.opts.RoutePrefix, func(r chi.Router) {
		r.Use(cors.Handler(t.corsOptions()))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(t.opts.APITimeout))
			r.Get("/api/entries", t.entries.List)
			r.Get("/api/entries/recent", t.entries.Recent)
			r.Get("/api/entries/{id}", t.entries.Get)
		})

		r.Handle("/socket.io", t.hub)
		r.Get("/*", t.dashboard.Static)
	})
}

func (t *Telescope) corsOptions() cors.Options {
	return cors.Options{
		AllowedOrigins:   t.opts.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

// Exceptions returns the hook used to report handled errors and to run
// observed goroutines.
func (t *Telescope) Exceptions() *exception.Hook {
	return t.exceptions
}

// PgxTracer returns a tracer for the host's pgx pool, or nil when query
// logging does not apply to a Postgres host.
func (t *Telescope) PgxTracer() *pgxtrace.Tracer {
	if !t.queryHookAllowed("pgx", Postgres) {
		return nil
	}
	return pgxtrace.New(t.queries)
}

// MongoMonitor returns a command monitor for the host's Mongo client, or nil
// when query logging does not apply to a Mongo host.
func (t *Telescope) MongoMonitor() *event.CommandMonitor {
	if !t.queryHookAllowed("mongo", Mongo) {
		return nil
	}
	return mongomonitor.New(t.queries).CommandMonitor()
}

// WrapSQL wraps the host's *sql.DB. When query logging does not apply the
// wrapper passes calls through without recording.
func (t *Telescope) WrapSQL(db *sql.DB) *sqldb.DB {
	if !t.queryHookAllowed("database/sql", MySQL, SQLite) {
		return sqldb.Wrap(db, nil)
	}
	return sqldb.Wrap(db, t.queries)
}

func (t *Telescope) queryHookAllowed(hook string, types ...DatabaseType) bool {
	if !t.queries.Enabled() {
		t.log.Warn("Query logging disabled, hook not installed",
			"hook", hook,
			"enable_query_logging", t.opts.EnableQueryLogging,
			"queries_watched", t.opts.watches(entry.TypeQuery),
		)
		return false
	}
	for _, dt := range types {
		if dt == t.opts.DatabaseType {
			return true
		}
	}
	t.log.Warn("Query hook does not match database type, hook not installed",
		"hook", hook,
		"database_type", t.opts.DatabaseType,
	)
	return false
}

// Ping reports whether the backend is reachable.
func (t *Telescope) Ping(ctx context.Context) error {
	return t.store.Ping(ctx)
}

// Stats exposes the recorder counters.
func (t *Telescope) Stats() recorder.Stats {
	return t.recorder.Stats()
}

// Close drains pending entries, disconnects dashboard sessions, stops the
// background workers and closes the backend.
func (t *Telescope) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	var errs []error
	if err := t.recorder.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop recorder: %w", err))
	}

	t.hub.Close()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	if t.exportSub != nil {
		t.exportSub.Close()
	}
	if t.exporter != nil {
		if err := t.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}
	if err := t.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}

	return errors.Join(errs...)
}
