package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Lllllllleong/receiptflow/internal/database"
	"github.com/Lllllllleong/receiptflow/internal/gcp"
	"github.com/Lllllllleong/receiptflow/internal/models"
)

const (
	healthMessage = "ConstructionOS API is alive"
	dbPingTimeout = 3 * time.Second
	dbStatusOK    = "ok"
	dbStatusDown  = "unavailable"
	defaultDBPort = 5432
)

// HealthFunction answers liveness checks. When a database is configured it
// also reports whether the pool can reach it.
type HealthFunction struct {
	db  Pinger
	now func() time.Time
}

func loadDatabaseConfig() (*database.Config, error) {
	secretID := gcp.GetEnv("DB_SECRET_ID", "")
	if secretID == "" {
		return nil, nil
	}
	port, err := strconv.Atoi(gcp.GetEnv("DB_PORT", strconv.Itoa(defaultDBPort)))
	if err != nil {
		return nil, fmt.Errorf("DB_PORT must be an integer: %w", err)
	}
	cfg := &database.Config{
		Host:     gcp.GetEnv("DB_PROXY_ENDPOINT", ""),
		Port:     port,
		Name:     gcp.GetEnv("DB_NAME", ""),
		SecretID: secretID,
	}
	if cfg.Host == "" || cfg.Name == "" {
		return nil, fmt.Errorf("DB_PROXY_ENDPOINT and DB_NAME must be set when DB_SECRET_ID is set")
	}
	return cfg, nil
}

// NewHealth creates a HealthFunction. The database pool is only built when
// DB_SECRET_ID is set; it connects on the first check.
func NewHealth(ctx context.Context) (*HealthFunction, error) {
	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if dbConfig == nil {
		return NewHealthWith(nil), nil
	}

	secrets, err := gcp.NewSecretStore(ctx, gcp.GetEnv("PROJECT_ID", ""))
	if err != nil {
		return nil, err
	}
	return NewHealthWith(database.NewPool(*dbConfig, secrets)), nil
}

// NewHealthWith wires a HealthFunction; db may be nil.
func NewHealthWith(db Pinger) *HealthFunction {
	return &HealthFunction{db: db, now: time.Now}
}

// Process never fails: a database problem is reported, not returned.
func (f *HealthFunction) Process(ctx context.Context) *models.HealthResponse {
	resp := &models.HealthResponse{
		OK:      true,
		Message: healthMessage,
		Time:    f.now().UTC().Format(models.TimestampLayout),
	}
	if f.db == nil {
		return resp
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := f.db.Ping(pingCtx); err != nil {
		slog.Warn("Database health check failed", "error", err)
		resp.Database = dbStatusDown
	} else {
		resp.Database = dbStatusOK
	}
	return resp
}
