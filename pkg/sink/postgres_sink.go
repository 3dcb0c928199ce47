package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/alert"
	"github.com/meridianbank/sentinel/pkg/config"
)

// PostgresSink upserts alert mutations into a case table. Each alert is
// one row keyed by alert id; later mutations of the same alert update
// it in place, so redelivered mutations are harmless.
type PostgresSink struct {
	name   string
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewPostgresSink connects and ensures the alert table exists.
func NewPostgresSink(cfg config.PostgresSinkConfig, logger *zap.Logger) (*PostgresSink, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("no Postgres connection string specified")
	}
	table := cfg.Table
	if table == "" {
		table = "alerts"
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("postgres-%s", table)
	}

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	s := &PostgresSink{
		name:   name,
		db:     db,
		table:  table,
		logger: logger,
	}
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// alertTableDDL is instantiated with the configured table name. Score is
// double precision to match the alert model's float score.
const alertTableDDL = `
	CREATE TABLE IF NOT EXISTS %[1]s (
		id            TEXT PRIMARY KEY,
		rule_id       TEXT NOT NULL,
		rule_name     TEXT NOT NULL,
		severity      TEXT NOT NULL,
		score         DOUBLE PRECISION NOT NULL,
		window_key    TEXT NOT NULL,
		dimension     TEXT NOT NULL,
		value         TEXT NOT NULL,
		status        TEXT NOT NULL,
		detail        TEXT,
		event_id      TEXT,
		trigger_count BIGINT NOT NULL,
		notes         JSONB,
		triggered_at  TIMESTAMPTZ NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_rule_window ON %[1]s (rule_id, window_key);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s (status, updated_at DESC);
`

func (p *PostgresSink) createTable() error {
	query := fmt.Sprintf(alertTableDDL, p.table)

	if _, err := p.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create alert table: %w", err)
	}
	p.logger.Info("Postgres alert table ready", zap.String("table", p.table))
	return nil
}

// Name returns the sink name.
func (p *PostgresSink) Name() string {
	return p.name
}

// Deliver upserts the mutation's alert row.
func (p *PostgresSink) Deliver(ctx context.Context, m alert.Mutation) error {
	a := m.Alert
	notesJSON, err := json.Marshal(a.Notes)
	if err != nil {
		notesJSON = []byte("[]")
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, rule_id, rule_name, severity, score, window_key,
			dimension, value, status, detail, event_id, trigger_count, notes,
			triggered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			score         = EXCLUDED.score,
			status        = EXCLUDED.status,
			detail        = EXCLUDED.detail,
			event_id      = EXCLUDED.event_id,
			trigger_count = EXCLUDED.trigger_count,
			notes         = EXCLUDED.notes,
			triggered_at  = EXCLUDED.triggered_at,
			updated_at    = EXCLUDED.updated_at
	`, p.table)

	_, err = p.db.ExecContext(ctx, query,
		a.ID, a.RuleID, a.RuleName, string(a.Severity), a.Score, a.WindowKey,
		a.Dimension, a.Value, string(a.Status), a.Detail, a.EventID,
		a.TriggerCount, notesJSON, a.TriggeredAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert alert %s: %w", a.ID, err)
	}
	return nil
}

// Query runs an arbitrary query against the alert table, used by tools.
func (p *PostgresSink) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

// Close closes the database connection.
func (p *PostgresSink) Close() error {
	p.logger.Info("Closing Postgres sink", zap.String("sink", p.name))
	return p.db.Close()
}
