package db

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id           TEXT PRIMARY KEY,
	prefix       TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	priority     SMALLINT NOT NULL,
	customer_id  TEXT NOT NULL DEFAULT '',
	card_ref     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	attended     BOOLEAN NOT NULL DEFAULT FALSE,
	service_type TEXT NOT NULL DEFAULT '',
	fail_reason  TEXT NOT NULL DEFAULT '',
	operations   JSONB NOT NULL DEFAULT '[]',
	created_at   TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	archived_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS turns_status_idx ON turns (status, finished_at DESC);
CREATE INDEX IF NOT EXISTS turns_prefix_seq_idx ON turns (prefix, seq);

CREATE TABLE IF NOT EXISTS pending_turns (
	id          TEXT PRIMARY KEY,
	prefix      TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	priority    SMALLINT NOT NULL,
	customer_id TEXT NOT NULL DEFAULT '',
	card_ref    TEXT NOT NULL DEFAULT '',
	operations  JSONB NOT NULL DEFAULT '[]',
	created_at  TIMESTAMPTZ NOT NULL,
	saved_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}
