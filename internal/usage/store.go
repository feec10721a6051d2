package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/modelgate/modelgate/internal/config"
)

const driverLibsql = "libsql"

// Store wraps the usage database connection. It is the persistence
// collaborator behind the recorder; the gateway itself only sees the Sink
// interface.
type Store struct {
	DB     *sql.DB
	driver string
}

// Open initializes a store connection using the provided configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverLibsql
	}

	if ctx == nil {
		ctx = context.Background()
	}

	switch driver {
	case driverLibsql:
		dsn, err := buildLibsqlDSN(cfg)
		if err != nil {
			return nil, err
		}

		db, err := sql.Open(driverLibsql, dsn)
		if err != nil {
			return nil, fmt.Errorf("open libsql store: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping libsql store: %w", err)
		}

		return &Store{DB: db, driver: driver}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Ping reports store health for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	return s.DB.PingContext(ctx)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS usage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		correlation_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_usage_records_tenant ON usage_records(tenant_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_usage_records_correlation ON usage_records(correlation_id);`,
}

// Migrate applies the usage schema.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply usage schema: %w", err)
		}
	}
	return nil
}

// Insert persists one usage record.
func (s *Store) Insert(ctx context.Context, record *Record) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if record == nil {
		return errors.New("usage record is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO usage_records (
			tenant_id, endpoint, model,
			input_tokens, output_tokens, total_tokens,
			status, duration_ms, correlation_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.TenantID, record.Endpoint, record.Model,
		record.InputTokens, record.OutputTokens, record.TotalTokens,
		record.Status, record.DurationMS, record.CorrelationID,
		record.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store usage record: %w", err)
	}

	return nil
}

// ListByTenant returns the most recent records for a tenant.
func (s *Store) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT tenant_id, endpoint, model,
			input_tokens, output_tokens, total_tokens,
			status, duration_ms, correlation_id, created_at
		FROM usage_records
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	defer rows.Close() // nolint:errcheck // read-only cursor

	var records []Record
	for rows.Next() {
		var record Record
		var createdAt int64
		if err := rows.Scan(
			&record.TenantID, &record.Endpoint, &record.Model,
			&record.InputTokens, &record.OutputTokens, &record.TotalTokens,
			&record.Status, &record.DurationMS, &record.CorrelationID,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		record.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, record)
	}

	return records, rows.Err()
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}

	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") {
		return path, nil
	}

	return "file:" + path, nil
}

func addAuthToken(dsn, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse store url: %w", err)
	}

	query := parsed.Query()
	query.Set("authToken", token)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
