package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the barre store.
var Migrations = migrate.NewGroup("barre")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_barre_dancers",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS barre_dancers (
    id          TEXT PRIMARY KEY,
    studio_key  TEXT NOT NULL,
    name        TEXT NOT NULL DEFAULT '',
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    metadata    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_barre_dancers_studio ON barre_dancers (studio_key, name);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS barre_dancers`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_barre_events",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS barre_events (
    id          TEXT PRIMARY KEY,
    studio_key  TEXT NOT NULL,
    name        TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL DEFAULT 'other',
    fee         BIGINT NOT NULL DEFAULT 0,
    currency    TEXT NOT NULL DEFAULT 'usd',
    date        TIMESTAMPTZ NOT NULL,
    due_date    TIMESTAMPTZ,
    metadata    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_barre_events_studio_date ON barre_events (studio_key, date);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS barre_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_barre_transactions",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS barre_transactions (
    id              TEXT PRIMARY KEY,
    kind            TEXT NOT NULL,
    studio_key      TEXT NOT NULL,
    dancer_id       TEXT NOT NULL,
    seq             BIGINT NOT NULL,
    amount          BIGINT NOT NULL,
    currency        TEXT NOT NULL DEFAULT 'usd',
    date            TIMESTAMPTZ NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    charge_kind     TEXT NOT NULL DEFAULT '',
    due_date        TIMESTAMPTZ,
    event_id        TEXT NOT NULL DEFAULT '',
    event_fee_id    TEXT NOT NULL DEFAULT '',
    competition_id  TEXT NOT NULL DEFAULT '',
    routine_id      TEXT NOT NULL DEFAULT '',
    accounting_code TEXT NOT NULL DEFAULT '',
    revision        INT NOT NULL DEFAULT 0,
    locked          BOOLEAN NOT NULL DEFAULT FALSE,
    method          TEXT NOT NULL DEFAULT '',
    reference       TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT ck_barre_transactions_amount CHECK (amount > 0)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_barre_transactions_dancer_seq ON barre_transactions (dancer_id, seq);
CREATE UNIQUE INDEX IF NOT EXISTS idx_barre_transactions_dancer_event ON barre_transactions (dancer_id, event_id)
    WHERE kind = 'charge' AND event_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_barre_transactions_event_fee ON barre_transactions (event_fee_id)
    WHERE kind = 'charge' AND event_fee_id <> '';
CREATE INDEX IF NOT EXISTS idx_barre_transactions_studio_date ON barre_transactions (studio_key, date DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_barre_transactions_event ON barre_transactions (event_id) WHERE event_id <> '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS barre_transactions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_barre_connections",
			Version: "20260101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				// The exclusion constraint is deferred so a single UPDATE can
				// move the active flag from one row to another.
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS barre_connections (
    id              TEXT PRIMARY KEY,
    studio_key      TEXT NOT NULL,
    provider        TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'connected',
    is_active       BOOLEAN NOT NULL DEFAULT FALSE,
    tokens          JSONB NOT NULL DEFAULT '{}',
    mapping         JSONB NOT NULL DEFAULT '{}',
    connected_at    TIMESTAMPTZ,
    disconnected_at TIMESTAMPTZ,
    last_synced_at  TIMESTAMPTZ,
    last_error      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT uq_barre_connections_studio_provider UNIQUE (studio_key, provider),
    CONSTRAINT ex_barre_connections_one_active EXCLUDE (studio_key WITH =) WHERE (is_active)
        DEFERRABLE INITIALLY DEFERRED
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS barre_connections`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_barre_sync_records",
			Version: "20260101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS barre_sync_records (
    id                   TEXT PRIMARY KEY,
    studio_key           TEXT NOT NULL,
    provider             TEXT NOT NULL,
    connection_id        TEXT NOT NULL DEFAULT '',
    transaction_id       TEXT NOT NULL,
    transaction_kind     TEXT NOT NULL,
    external_object_type TEXT NOT NULL DEFAULT '',
    external_object_id   TEXT NOT NULL DEFAULT '',
    idempotency_key      TEXT NOT NULL,
    fingerprint          TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'pending',
    retry_count          INT NOT NULL DEFAULT 0,
    last_error           TEXT NOT NULL DEFAULT '',
    last_attempt_at      TIMESTAMPTZ,
    synced_at            TIMESTAMPTZ,
    claim_token          TEXT NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_barre_sync_records_txn_provider ON barre_sync_records (transaction_id, provider);
CREATE INDEX IF NOT EXISTS idx_barre_sync_records_studio_status ON barre_sync_records (studio_key, provider, status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS barre_sync_records`)
				return err
			},
		},
	)
}
