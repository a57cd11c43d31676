// Package postgres implements the storage interface over a pgx-backed
// *sql.DB. Atomic units run as SERIALIZABLE transactions and are retried on
// serialization failures, which is what makes the ledger's check-then-act
// sequences safe under concurrency.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"creditgrid/internal/models"
	"creditgrid/internal/storage"
)

const (
	serializationFailure = "40001"
	maxAtomicAttempts    = 5
)

// Store is the postgres-backed persistence collaborator.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New wraps an open connection pool.
func New(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

var _ storage.Store = (*Store)(nil)

// Atomic runs fn inside one serializable transaction, retrying a bounded
// number of times when postgres aborts it with a serialization failure.
func (s *Store) Atomic(ctx context.Context, fn func(storage.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAtomicAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		s.logger.Debug("serializable transaction retried", zap.Int("attempt", attempt))
	}
	return fmt.Errorf("postgres: atomic unit kept conflicting: %w", lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(storage.Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	if err := fn(tx{tx: dbtx}); err != nil {
		_ = dbtx.Rollback()
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

// StaleTransactions lists pending transactions created before cutoff.
func (s *Store) StaleTransactions(ctx context.Context, cutoff time.Time) ([]models.Transaction, error) {
	const query = `
		SELECT id, from_user, to_user, price, tax, count_cost, size_cost, qos_cost, type, data, created_at, acknowledged
		FROM transactions
		WHERE created_at < $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(
			&t.ID,
			&t.FromUser,
			&t.ToUser,
			&t.Price,
			&t.Tax,
			&t.CountCost,
			&t.SizeCost,
			&t.QoSCost,
			&t.Type,
			&t.Data,
			&t.CreatedAt,
			&t.Acknowledged,
		); err != nil {
			return nil, err
		}
		stale = append(stale, t)
	}
	return stale, rows.Err()
}

// UserByName resolves a user name to its id.
func (s *Store) UserByName(ctx context.Context, name string) (int64, error) {
	const query = `SELECT id FROM users WHERE name = $1`
	var id int64
	if err := s.db.QueryRowContext(ctx, query, name).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

// InstanceByID loads an instance.
func (s *Store) InstanceByID(ctx context.Context, id int64) (*models.Instance, error) {
	const query = `
		SELECT id, owner_id, connector_id, name, active, hits
		FROM instances
		WHERE id = $1
	`
	return scanInstance(s.db.QueryRowContext(ctx, query, id))
}

// InstanceByName loads an instance by name scoped to its owner.
func (s *Store) InstanceByName(ctx context.Context, owner int64, name string) (*models.Instance, error) {
	const query = `
		SELECT id, owner_id, connector_id, name, active, hits
		FROM instances
		WHERE owner_id = $1 AND name = $2
	`
	return scanInstance(s.db.QueryRowContext(ctx, query, owner, name))
}

func scanInstance(row *sql.Row) (*models.Instance, error) {
	var inst models.Instance
	if err := row.Scan(
		&inst.ID,
		&inst.OwnerID,
		&inst.ConnectorID,
		&inst.Name,
		&inst.Active,
		&inst.Hits,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// InterfaceByName loads a port of the given direction on an instance.
func (s *Store) InterfaceByName(ctx context.Context, instance int64, name string, dir models.Direction) (*models.Interface, error) {
	const query = `
		SELECT id, instance_id, name, direction
		FROM interfaces
		WHERE instance_id = $1 AND name = $2 AND direction = $3
	`
	var iface models.Interface
	if err := s.db.QueryRowContext(ctx, query, instance, name, string(dir)).Scan(
		&iface.ID,
		&iface.InstanceID,
		&iface.Name,
		&iface.Direction,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &iface, nil
}

// ConnectorByID loads a connector.
func (s *Store) ConnectorByID(ctx context.Context, id int64) (*models.Connector, error) {
	const query = `
		SELECT id, owner_id, name, use_price, use_tax, buy_price, buy_tax, qos_price, language, locality, service_level
		FROM connectors
		WHERE id = $1
	`
	var c models.Connector
	if err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.OwnerID,
		&c.Name,
		&c.UsePrice,
		&c.UseTax,
		&c.BuyPrice,
		&c.BuyTax,
		&c.QoSPrice,
		&c.Language,
		&c.Locality,
		&c.ServiceLevel,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// PlanByUser loads a user's credit plan.
func (s *Store) PlanByUser(ctx context.Context, user int64) (*models.CreditPlan, error) {
	const query = `
		SELECT user_id, window_seconds, factor, root, free_messages, service_level
		FROM credit_plans
		WHERE user_id = $1
	`
	var p models.CreditPlan
	if err := s.db.QueryRowContext(ctx, query, user).Scan(
		&p.UserID,
		&p.WindowSeconds,
		&p.Factor,
		&p.Root,
		&p.FreeMessages,
		&p.ServiceLevel,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// IncrementHits bumps an instance hit counter.
func (s *Store) IncrementHits(ctx context.Context, instance int64) error {
	const query = `UPDATE instances SET hits = hits + 1 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, instance)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordError persists a billing or transport failure for audit.
func (s *Store) RecordError(ctx context.Context, rec models.ErrorRecord) error {
	const query = `
		INSERT INTO error_records (code, user_id, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, rec.Code, rec.UserID, rec.Message, rec.Data, rec.CreatedAt)
	return err
}

// Ping validates the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
