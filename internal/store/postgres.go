package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

// PostgresBackend implements Backend using PostgreSQL. The ledger document is
// kept as JSONB in a single ledger_state row so a save replaces it in one
// statement and readers see either the old or the new document.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend creates a new PostgreSQL-backed ledger backend.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_state (
		id         SMALLINT PRIMARY KEY CHECK (id = 1),
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_backups (
		id         BIGSERIAL PRIMARY KEY,
		reason     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		doc        JSONB NOT NULL
	)`,
}

// EnsureSchema creates the ledger tables if they do not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context) (*model.Ledger, error) {
	var doc []byte
	err := b.pool.QueryRow(ctx, `SELECT doc::TEXT FROM ledger_state WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger_state: %w", err)
	}
	return DecodeLedger(doc)
}

func (b *PostgresBackend) Save(ctx context.Context, l *model.Ledger) error {
	doc, err := EncodeLedger(l)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	_, err = b.pool.Exec(ctx,
		`INSERT INTO ledger_state (id, doc, updated_at)
		 VALUES (1, $1::JSONB, now())
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		string(doc),
	)
	if err != nil {
		return fmt.Errorf("save ledger_state: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Backup(ctx context.Context, l *model.Ledger, reason string) error {
	doc, err := EncodeLedger(l)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	_, err = b.pool.Exec(ctx,
		`INSERT INTO ledger_backups (reason, doc) VALUES ($1, $2::JSONB)`,
		reason, string(doc),
	)
	if err != nil {
		return fmt.Errorf("insert ledger_backups: %w", err)
	}
	return nil
}

// Quarantine copies the unreadable row into ledger_backups tagged "corrupt"
// and removes it from ledger_state.
func (b *PostgresBackend) Quarantine(ctx context.Context) (string, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO ledger_backups (reason, doc)
		 SELECT 'corrupt', doc FROM ledger_state WHERE id = 1
		 RETURNING id`).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("copy corrupt ledger: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM ledger_state WHERE id = 1`); err != nil {
		return "", fmt.Errorf("clear ledger_state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("ledger_backups/%d", id), nil
}
