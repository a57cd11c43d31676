package postgres

import (
	"database/sql"
	"errors"
	"time"

	"creditgrid/internal/models"
	"creditgrid/internal/storage"
)

// tx implements storage.Tx over one open serializable transaction.
type tx struct {
	tx *sql.Tx
}

var _ storage.Tx = tx{}

func (t tx) InsertTransaction(m *models.Transaction) (int64, error) {
	const query = `
		INSERT INTO transactions (from_user, to_user, price, tax, count_cost, size_cost, qos_cost, type, data, created_at, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false)
		RETURNING id
	`
	err := t.tx.QueryRow(query,
		m.FromUser,
		m.ToUser,
		m.Price,
		m.Tax,
		m.CountCost,
		m.SizeCost,
		m.QoSCost,
		string(m.Type),
		m.Data,
		m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return 0, err
	}
	return m.ID, nil
}

func (t tx) Transaction(id int64) (*models.Transaction, error) {
	const query = `
		SELECT id, from_user, to_user, price, tax, count_cost, size_cost, qos_cost, type, data, created_at, acknowledged
		FROM transactions
		WHERE id = $1
	`
	var m models.Transaction
	if err := t.tx.QueryRow(query, id).Scan(
		&m.ID,
		&m.FromUser,
		&m.ToUser,
		&m.Price,
		&m.Tax,
		&m.CountCost,
		&m.SizeCost,
		&m.QoSCost,
		&m.Type,
		&m.Data,
		&m.CreatedAt,
		&m.Acknowledged,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (t tx) SetAcknowledged(id int64) (bool, error) {
	const query = `UPDATE transactions SET acknowledged = true WHERE id = $1 AND acknowledged = false`
	res, err := t.tx.Exec(query, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t tx) DeleteTransaction(id int64) (bool, error) {
	const query = `DELETE FROM transactions WHERE id = $1`
	res, err := t.tx.Exec(query, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t tx) AppendHistory(e models.HistoryEntry) error {
	const query = `
		INSERT INTO transaction_history (from_user, to_user, amount, date, type, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := t.tx.Exec(query, e.FromUser, e.ToUser, e.Amount, e.Date, string(e.Type), e.Data)
	return err
}

func (t tx) CountPurchases(from, to int64, data string) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM transaction_history
		WHERE from_user = $1 AND to_user = $2 AND type = $3 AND data = $4 AND amount > 0
	`
	var n int64
	err := t.tx.QueryRow(query, from, to, string(models.TypeOneShot), data).Scan(&n)
	return n, err
}

func (t tx) CountActiveInstances(owner, connector int64) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM instances
		WHERE owner_id = $1 AND connector_id = $2 AND active = true
	`
	var n int64
	err := t.tx.QueryRow(query, owner, connector).Scan(&n)
	return n, err
}

func (t tx) Plan(user int64) (*models.CreditPlan, error) {
	const query = `
		SELECT user_id, window_seconds, factor, root, free_messages, service_level
		FROM credit_plans
		WHERE user_id = $1
	`
	var p models.CreditPlan
	if err := t.tx.QueryRow(query, user).Scan(
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

func (t tx) SlidingStats(user int64, since time.Time) (int64, int64, error) {
	const query = `
		SELECT COUNT(*), COALESCE(SUM(cost), 0)
		FROM sliding_records
		WHERE user_id = $1 AND created_at >= $2
	`
	var count, paid int64
	err := t.tx.QueryRow(query, user, since).Scan(&count, &paid)
	return count, paid, err
}

func (t tx) InsertSlidingRecord(r models.SlidingRecord) error {
	const query = `
		INSERT INTO sliding_records (user_id, created_at, cost)
		VALUES ($1, $2, $3)
	`
	_, err := t.tx.Exec(query, r.UserID, r.CreatedAt, r.Cost)
	return err
}

func (t tx) PruneSlidingRecords(user int64, before time.Time) (int64, error) {
	const query = `DELETE FROM sliding_records WHERE user_id = $1 AND created_at < $2`
	res, err := t.tx.Exec(query, user, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t tx) IncrementQuota(user int64, quota string) error {
	return t.AddQuota(user, quota, 1, true)
}

func (t tx) AddQuota(user int64, quota string, amount int64, allowExceed bool) error {
	// Upsert, clamping to the ceiling unless exceeding is permitted.
	// ceiling = 0 means unlimited.
	const query = `
		INSERT INTO quotas (user_id, name, value, floor, ceiling)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (user_id, name) DO UPDATE SET value = CASE
			WHEN $4 OR quotas.ceiling = 0 THEN quotas.value + $3
			WHEN quotas.value + $3 > quotas.ceiling THEN GREATEST(quotas.value, quotas.ceiling)
			ELSE quotas.value + $3
		END
	`
	_, err := t.tx.Exec(query, user, quota, amount, allowExceed)
	return err
}

func (t tx) SubtractQuota(user int64, quota string, amount int64, allowOverdraft bool) error {
	var value, floor int64
	const sel = `SELECT value, floor FROM quotas WHERE user_id = $1 AND name = $2`
	err := t.tx.QueryRow(sel, user, quota).Scan(&value, &floor)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		value, floor = 0, 0
	case err != nil:
		return err
	}

	if !allowOverdraft && value-amount < floor {
		return storage.ErrInsufficientCredit
	}

	const upsert = `
		INSERT INTO quotas (user_id, name, value, floor, ceiling)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (user_id, name) DO UPDATE SET value = quotas.value - $4
	`
	_, err = t.tx.Exec(upsert, user, quota, -amount, amount)
	return err
}
