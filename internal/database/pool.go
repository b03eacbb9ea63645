// Package database owns the process-wide Postgres handle. The handle is
// opened on first use with credentials fetched from the secret store and
// lives for the rest of the process.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver
)

const (
	maxOpenConns    = 5
	maxIdleConns    = 2
	connMaxLifetime = 5 * time.Minute
	connMaxIdleTime = 5 * time.Minute
)

// Config describes where the database is and which secret holds its credentials.
type Config struct {
	Host     string
	Port     int
	Name     string
	SecretID string
	SSLMode  string
}

// SecretSource returns the raw payload of a secret.
type SecretSource interface {
	Access(ctx context.Context, secretID string) ([]byte, error)
}

// Credentials is the JSON payload stored in the secret.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Pool lazily opens and then caches a *sqlx.DB.
type Pool struct {
	cfg     Config
	secrets SecretSource
	open    func(driverName, dsn string) (*sqlx.DB, error)

	mu sync.Mutex
	db *sqlx.DB
}

// NewPool returns a Pool that has not connected yet.
func NewPool(cfg Config, secrets SecretSource) *Pool {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "verify-full"
	}
	return &Pool{cfg: cfg, secrets: secrets, open: sqlx.Open}
}

// DB returns the shared handle, opening it on the first call. A failed
// open is not cached, so the next call retries.
func (p *Pool) DB(ctx context.Context) (*sqlx.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return p.db, nil
	}

	if p.cfg.Host == "" || p.cfg.Name == "" {
		return nil, fmt.Errorf("database host and name must be configured")
	}
	payload, err := p.secrets.Access(ctx, p.cfg.SecretID)
	if err != nil {
		return nil, fmt.Errorf("failed to load database credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return nil, fmt.Errorf("database secret is not valid JSON: %w", err)
	}
	if creds.Username == "" {
		return nil, fmt.Errorf("database secret has no username")
	}

	db, err := p.open("postgres", BuildDSN(p.cfg, creds))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	slog.Info("Database pool opened.", "host", p.cfg.Host, "database", p.cfg.Name)
	p.db = db
	return db, nil
}

// Ping checks that the database answers.
func (p *Pool) Ping(ctx context.Context) error {
	db, err := p.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// BuildDSN renders a lib/pq URL DSN with escaped credentials.
func BuildDSN(cfg Config, creds Credentials) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(creds.Username, creds.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
