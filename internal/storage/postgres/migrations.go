package postgres

import (
	"context"
	"fmt"
)

// Schema owned by this core. Users, connectors, instances and interfaces are
// written by the CRUD layer; this core only reads them, but the tables are
// created here so a fresh database can serve dev and test setups.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS connectors (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		use_price BIGINT NOT NULL DEFAULT 0,
		use_tax BIGINT NOT NULL DEFAULT 0,
		buy_price BIGINT NOT NULL DEFAULT 0,
		buy_tax BIGINT NOT NULL DEFAULT 0,
		qos_price BIGINT NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT '',
		locality TEXT NOT NULL DEFAULT '',
		service_level TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS instances (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		connector_id BIGINT NOT NULL REFERENCES connectors (id),
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		hits BIGINT NOT NULL DEFAULT 0,
		UNIQUE (owner_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS interfaces (
		id BIGSERIAL PRIMARY KEY,
		instance_id BIGINT NOT NULL REFERENCES instances (id),
		name TEXT NOT NULL,
		direction TEXT NOT NULL,
		UNIQUE (instance_id, name, direction)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		from_user BIGINT NOT NULL,
		to_user BIGINT NOT NULL DEFAULT 0,
		price BIGINT NOT NULL DEFAULT 0,
		tax BIGINT NOT NULL DEFAULT 0,
		count_cost BIGINT NOT NULL DEFAULT 0,
		size_cost BIGINT NOT NULL DEFAULT 0,
		qos_cost BIGINT NOT NULL DEFAULT 0,
		type TEXT NOT NULL DEFAULT 'unknown',
		data TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_created_at_idx ON transactions (created_at)`,
	`CREATE TABLE IF NOT EXISTS transaction_history (
		id BIGSERIAL PRIMARY KEY,
		from_user BIGINT NOT NULL,
		to_user BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		type TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS transaction_history_purchase_idx ON transaction_history (from_user, to_user, type, data)`,
	`CREATE TABLE IF NOT EXISTS credit_plans (
		user_id BIGINT PRIMARY KEY,
		window_seconds BIGINT NOT NULL,
		factor DOUBLE PRECISION NOT NULL DEFAULT 1,
		root DOUBLE PRECISION NOT NULL DEFAULT 1,
		free_messages BIGINT NOT NULL DEFAULT 0,
		service_level TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS sliding_records (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		cost BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sliding_records_user_idx ON sliding_records (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS quotas (
		user_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		value BIGINT NOT NULL DEFAULT 0,
		floor BIGINT NOT NULL DEFAULT 0,
		ceiling BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS error_records (
		id BIGSERIAL PRIMARY KEY,
		code INT NOT NULL,
		user_id BIGINT NOT NULL,
		message TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate applies the schema statements in order.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}
	return nil
}
