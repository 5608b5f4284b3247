package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/opsleuth/sleuth/pkg/investigation"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresConfig holds connection settings for the Postgres-backed store.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// MaxPerInvestigation caps retained checkpoints; zero means the default.
	MaxPerInvestigation int
}

// PostgresStore persists checkpoints in a single JSONB-backed table.
// Per-investigation write ordering comes from the database itself, so the
// store is safe for concurrent investigations sharing one pool.
type PostgresStore struct {
	db  *sql.DB
	max int
}

// NewPostgresStore opens a pooled pgx connection and applies pending
// schema migrations embedded in the binary.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open database: %w", err)
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
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: ping database: %w", err)
	}
	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: run migrations: %w", err)
	}

	max := cfg.MaxPerInvestigation
	if max <= 0 {
		max = DefaultMaxPerInvestigation
	}
	return &PostgresStore{db: db, max: max}, nil
}

var _ Store = (*PostgresStore)(nil)

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// runMigrations applies embedded migrations with golang-migrate. The
// migration source is closed directly instead of via m.Close(), which
// would also close the shared *sql.DB.
func runMigrations(db *sql.DB, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}

// Save inserts the checkpoint and prunes the oldest rows past the cap.
func (s *PostgresStore) Save(ctx context.Context, cp Checkpoint) (string, error) {
	if cp.InvestigationID == "" {
		return "", errors.New("checkpoint: missing investigation id")
	}
	if cp.ID == "" {
		cp.ID = GenerateCheckpointID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("checkpoint: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if cp.Seq == 0 {
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM checkpoints WHERE investigation_id = $1`,
			cp.InvestigationID)
		var maxSeq int
		if err := row.Scan(&maxSeq); err != nil {
			return "", fmt.Errorf("checkpoint: next seq: %w", err)
		}
		cp.Seq = maxSeq + 1
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("checkpoint: marshal: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (investigation_id, id, seq, phase, created_at, data)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		cp.InvestigationID, cp.ID, cp.Seq, string(cp.Phase), cp.CreatedAt, data)
	if err != nil {
		return "", fmt.Errorf("checkpoint: insert: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM checkpoints
		 WHERE investigation_id = $1 AND id IN (
		   SELECT id FROM checkpoints
		   WHERE investigation_id = $1
		   ORDER BY created_at DESC, seq DESC
		   OFFSET $2
		 )`,
		cp.InvestigationID, s.max)
	if err != nil {
		return "", fmt.Errorf("checkpoint: prune: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("checkpoint: commit: %w", err)
	}
	return cp.ID, nil
}

// Load reads one checkpoint; missing or undecodable rows yield (nil, nil).
func (s *PostgresStore) Load(ctx context.Context, investigationID, checkpointID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE investigation_id = $1 AND id = $2`,
		investigationID, checkpointID)
	return scanCheckpoint(row)
}

// LoadLatest reads the newest checkpoint for an investigation.
func (s *PostgresStore) LoadLatest(ctx context.Context, investigationID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE investigation_id = $1
		 ORDER BY created_at DESC, seq DESC LIMIT 1`,
		investigationID)
	return scanCheckpoint(row)
}

func scanCheckpoint(row *sql.Row) (*Checkpoint, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: scan: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		slog.Warn("Skipping undecodable checkpoint row", "error", err)
		return nil, nil
	}
	return &cp, nil
}

// List returns entries newest-first.
func (s *PostgresStore) List(ctx context.Context, investigationID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, phase, created_at FROM checkpoints
		 WHERE investigation_id = $1
		 ORDER BY created_at DESC, seq DESC`,
		investigationID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var phase string
		if err := rows.Scan(&e.ID, &e.Seq, &phase, &e.CreatedAt); err != nil {
			slog.Warn("Skipping unreadable checkpoint row", "error", err)
			continue
		}
		e.Phase = investigation.Phase(phase)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListInvestigations returns distinct investigation ids, sorted.
func (s *PostgresStore) ListInvestigations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT investigation_id FROM checkpoints ORDER BY investigation_id`)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list investigations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("checkpoint: scan investigation id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Delete removes one checkpoint row; missing rows are not an error.
func (s *PostgresStore) Delete(ctx context.Context, investigationID, checkpointID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE investigation_id = $1 AND id = $2`,
		investigationID, checkpointID)
	if err != nil {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}

// DeleteAll removes every checkpoint for an investigation.
func (s *PostgresStore) DeleteAll(ctx context.Context, investigationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE investigation_id = $1`,
		investigationID)
	if err != nil {
		return fmt.Errorf("checkpoint: delete all: %w", err)
	}
	return nil
}
