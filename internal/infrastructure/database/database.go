package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds PostgreSQL connection configuration. URL, when set, takes
// precedence over the individual fields.
type Config struct {
	URL             string
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	connString := cfg.URL
	if connString == "" {
		connString = fmt.Sprintf(
			"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d pool_max_conn_lifetime=%s",
			cfg.Host,
			cfg.Port,
			cfg.Database,
			cfg.User,
			cfg.Password,
			cfg.SSLMode,
			cfg.MaxOpenConns,
			cfg.MaxIdleConns,
			cfg.ConnMaxLifetime,
		)
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// SQLConfig holds the settings of a database/sql handle.
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenSQL opens and pings a database/sql handle. Driver is "mysql" or
// "sqlite".
func OpenSQL(ctx context.Context, cfg SQLConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Driver, err)
	}
	return db, nil
}

// MySQLConfig describes a MySQL server.
type MySQLConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// MySQLDSN renders a DSN with the options the relational store relies on:
// native time.Time scanning in UTC and multi-statement migrations disabled.
func MySQLDSN(cfg MySQLConfig) string {
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN()
}

// Migration is one embedded SQL file.
type Migration struct {
	Name string
	SQL  string
}

// Migrations returns the embedded migrations of a dialect in file order.
func Migrations(dialect string) ([]Migration, error) {
	dir := path.Join("migrations", dialect)
	files, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for dialect %q: %w", dialect, err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".sql") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		file := path.Join(dir, name)
		sqlBytes, err := migrationsFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		migrations = append(migrations, Migration{Name: file, SQL: string(sqlBytes)})
	}
	return migrations, nil
}

// RunMigrations executes the PostgreSQL migrations in order.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	migrations, err := Migrations("postgres")
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		log.Info("Running migration", "file", migration.Name)

		if _, err := pool.Exec(ctx, migration.SQL); err != nil {
			return fmt.Errorf("execute migration %s: %w", migration.Name, err)
		}

		log.Info("Migration completed", "file", migration.Name)
	}

	return nil
}

// RunSQLMigrations executes the migrations of dialect statement by statement,
// since database/sql drivers do not all accept several statements per call.
func RunSQLMigrations(ctx context.Context, db *sql.DB, dialect string, log *slog.Logger) error {
	migrations, err := Migrations(dialect)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		log.Info("Running migration", "file", migration.Name)

		for _, stmt := range SplitStatements(migration.SQL) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("execute migration %s: %w", migration.Name, err)
			}
		}

		log.Info("Migration completed", "file", migration.Name)
	}

	return nil
}

// SplitStatements splits a migration file on semicolons.
func SplitStatements(script string) []string {
	var stmts []string
	for _, part := range strings.Split(script, ";") {
		if s := strings.TrimSpace(part); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
