package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"subforge/internal/pkg/errors"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS render_operations (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	stall_timeout_ms BIGINT NOT NULL,
	progress_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	progress_stage   TEXT,
	output_path      TEXT,
	error_code       TEXT,
	error_text       TEXT,
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at      TIMESTAMPTZ
);

ALTER TABLE render_operations ADD COLUMN IF NOT EXISTS owner TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS render_operations_pending_idx ON render_operations (owner) WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS assets (
	id           TEXT PRIMARY KEY,
	operation_id TEXT REFERENCES render_operations(id) ON DELETE SET NULL,
	kind         TEXT NOT NULL,
	provider     TEXT NOT NULL,
	object_key   TEXT NOT NULL,
	mime         TEXT NOT NULL,
	size_bytes   BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS assets_operation_id_idx ON assets (operation_id);
`

// EnsureSchema creates the journal tables when they are missing.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "repositories.schema", "create tables")
	}
	return nil
}
