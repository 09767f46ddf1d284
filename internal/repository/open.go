package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/billix-app/swaprules/internal/domain"
)

// sqlitePragmas keep writers waiting on a busy database instead of failing
// mid-ChangeSet. Timestamps use a fixed sortable layout so deadline queries
// can compare them as text.
const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_time_format=sqlite"

// dsnFor returns the database/sql driver name and data source for cfg.
func dsnFor(cfg domain.RepositoryConfig) (string, string, error) {
	switch cfg.Driver {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "./swaprules.db"
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", "", fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return "sqlite", "file:" + path + "?" + sqlitePragmas, nil

	case "postgres":
		host := cfg.PostgresHost
		if host == "" {
			host = "localhost"
		}
		port := cfg.PostgresPort
		if port == 0 {
			port = 5432
		}
		name := cfg.PostgresDB
		if name == "" {
			name = "billix"
		}
		sslmode := cfg.PostgresSSLMode
		if sslmode == "" {
			sslmode = "disable"
		}

		// A URL keeps passwords with spaces or quotes intact.
		u := url.URL{
			Scheme:   "postgres",
			Host:     host + ":" + strconv.Itoa(port),
			Path:     "/" + name,
			RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
		}
		if cfg.PostgresUser != "" {
			u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
		}
		return "postgres", u.String(), nil
	}
	return "", "", fmt.Errorf("unsupported driver: %s", cfg.Driver)
}

// open connects and pings the configured database.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	driver, dsn, err := dsnFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}
	return db, nil
}
