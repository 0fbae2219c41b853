package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Courier store.
// It can be registered with the grove extension for orchestrated migration
// management (locking, version tracking, rollback support).
var Migrations = migrate.NewGroup("courier")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_courier_endpoints",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS courier_endpoints (
    id                TEXT PRIMARY KEY,
    tenant_id         TEXT NOT NULL DEFAULT '',
    url               TEXT NOT NULL DEFAULT '',
    description       TEXT NOT NULL DEFAULT '',
    secret_ciphertext TEXT NOT NULL DEFAULT '',
    event_types       TEXT[] NOT NULL DEFAULT '{}',
    headers           JSONB NOT NULL DEFAULT '{}',
    status            TEXT NOT NULL DEFAULT 'active',
    rate_limit        INT NOT NULL DEFAULT 0,
    metadata          JSONB NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_courier_endpoints_tenant ON courier_endpoints (tenant_id, status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS courier_endpoints`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_courier_deliveries",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS courier_deliveries (
    id                 TEXT PRIMARY KEY,
    event_id           TEXT NOT NULL DEFAULT '',
    endpoint_id        TEXT NOT NULL DEFAULT '',
    tenant_id          TEXT NOT NULL DEFAULT '',
    event_type         TEXT NOT NULL DEFAULT '',
    payload            JSONB,
    status             TEXT NOT NULL DEFAULT 'pending',
    attempt_count      INT NOT NULL DEFAULT 0,
    max_attempts       INT NOT NULL DEFAULT 0,
    next_attempt_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    lease_token        TEXT NOT NULL DEFAULT '',
    lease_expires_at   TIMESTAMPTZ,
    last_response_code INT NOT NULL DEFAULT 0,
    last_error         TEXT NOT NULL DEFAULT '',
    last_response      TEXT NOT NULL DEFAULT '',
    last_latency_ms    INT NOT NULL DEFAULT 0,
    completed_at       TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_courier_deliveries_pending ON courier_deliveries (next_attempt_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_courier_deliveries_lease ON courier_deliveries (lease_expires_at) WHERE status = 'in_flight';
CREATE INDEX IF NOT EXISTS idx_courier_deliveries_event ON courier_deliveries (event_id);
CREATE INDEX IF NOT EXISTS idx_courier_deliveries_endpoint ON courier_deliveries (endpoint_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_courier_deliveries_dead ON courier_deliveries (completed_at DESC) WHERE status IN ('failed', 'dead_lettered');
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS courier_deliveries`)
				return err
			},
		},
	)
}
