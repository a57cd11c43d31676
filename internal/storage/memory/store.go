// Package memory provides an in-process Store used by tests and by dev mode
// (DSN "memory"). Atomic units run under one mutex with snapshot rollback,
// which gives the same all-or-nothing behavior as the serializable postgres
// transactions.
package memory

import (
	"context"
	"sync"
	"time"

	"creditgrid/internal/models"
	"creditgrid/internal/storage"
)

type quotaKey struct {
	user int64
	name string
}

type quotaRow struct {
	value   int64
	floor   int64
	ceiling int64 // 0 = unlimited
}

// Store keeps all ledger state in maps.
type Store struct {
	mu sync.Mutex

	nextTxID    int64
	nextHistID  int64
	nextSlideID int64
	nextRecID   int64

	transactions map[int64]models.Transaction
	history      []models.HistoryEntry
	plans        map[int64]models.CreditPlan
	sliding      []models.SlidingRecord
	quotas       map[quotaKey]quotaRow

	users      map[string]int64
	instances  map[int64]models.Instance
	interfaces []models.Interface
	connectors map[int64]models.Connector
	records    []models.ErrorRecord
}

// New returns an empty store.
func New() *Store {
	return &Store{
		transactions: make(map[int64]models.Transaction),
		plans:        make(map[int64]models.CreditPlan),
		quotas:       make(map[quotaKey]quotaRow),
		users:        make(map[string]int64),
		instances:    make(map[int64]models.Instance),
		connectors:   make(map[int64]models.Connector),
	}
}

var _ storage.Store = (*Store)(nil)

type tx struct {
	s *Store
}

type snapshot struct {
	nextTxID    int64
	nextHistID  int64
	nextSlideID int64

	transactions map[int64]models.Transaction
	history      []models.HistoryEntry
	sliding      []models.SlidingRecord
	quotas       map[quotaKey]quotaRow
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		nextTxID:     s.nextTxID,
		nextHistID:   s.nextHistID,
		nextSlideID:  s.nextSlideID,
		transactions: make(map[int64]models.Transaction, len(s.transactions)),
		history:      append([]models.HistoryEntry(nil), s.history...),
		sliding:      append([]models.SlidingRecord(nil), s.sliding...),
		quotas:       make(map[quotaKey]quotaRow, len(s.quotas)),
	}
	for id, t := range s.transactions {
		snap.transactions[id] = t
	}
	for k, q := range s.quotas {
		snap.quotas[k] = q
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.nextTxID = snap.nextTxID
	s.nextHistID = snap.nextHistID
	s.nextSlideID = snap.nextSlideID
	s.transactions = snap.transactions
	s.history = snap.history
	s.sliding = snap.sliding
	s.quotas = snap.quotas
}

// Atomic runs fn under the store mutex and rolls every write back on error.
func (s *Store) Atomic(_ context.Context, fn func(storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(tx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (t tx) InsertTransaction(m *models.Transaction) (int64, error) {
	t.s.nextTxID++
	m.ID = t.s.nextTxID
	t.s.transactions[m.ID] = *m
	return m.ID, nil
}

func (t tx) Transaction(id int64) (*models.Transaction, error) {
	m, ok := t.s.transactions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := m
	return &out, nil
}

func (t tx) SetAcknowledged(id int64) (bool, error) {
	m, ok := t.s.transactions[id]
	if !ok || m.Acknowledged {
		return false, nil
	}
	m.Acknowledged = true
	t.s.transactions[id] = m
	return true, nil
}

func (t tx) DeleteTransaction(id int64) (bool, error) {
	if _, ok := t.s.transactions[id]; !ok {
		return false, nil
	}
	delete(t.s.transactions, id)
	return true, nil
}

func (t tx) AppendHistory(e models.HistoryEntry) error {
	t.s.nextHistID++
	e.ID = t.s.nextHistID
	t.s.history = append(t.s.history, e)
	return nil
}

func (t tx) CountPurchases(from, to int64, data string) (int64, error) {
	var n int64
	for _, e := range t.s.history {
		if e.FromUser == from && e.ToUser == to && e.Type == models.TypeOneShot && e.Data == data && e.Amount > 0 {
			n++
		}
	}
	return n, nil
}

func (t tx) CountActiveInstances(owner, connector int64) (int64, error) {
	var n int64
	for _, inst := range t.s.instances {
		if inst.OwnerID == owner && inst.ConnectorID == connector && inst.Active {
			n++
		}
	}
	return n, nil
}

func (t tx) Plan(user int64) (*models.CreditPlan, error) {
	p, ok := t.s.plans[user]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := p
	return &out, nil
}

func (t tx) SlidingStats(user int64, since time.Time) (int64, int64, error) {
	var count, paid int64
	for _, r := range t.s.sliding {
		if r.UserID == user && !r.CreatedAt.Before(since) {
			count++
			paid += r.Cost
		}
	}
	return count, paid, nil
}

func (t tx) InsertSlidingRecord(r models.SlidingRecord) error {
	t.s.nextSlideID++
	r.ID = t.s.nextSlideID
	t.s.sliding = append(t.s.sliding, r)
	return nil
}

func (t tx) PruneSlidingRecords(user int64, before time.Time) (int64, error) {
	kept := t.s.sliding[:0]
	var pruned int64
	for _, r := range t.s.sliding {
		if r.UserID == user && r.CreatedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	t.s.sliding = kept
	return pruned, nil
}

func (t tx) IncrementQuota(user int64, quota string) error {
	return t.AddQuota(user, quota, 1, true)
}

func (t tx) AddQuota(user int64, quota string, amount int64, allowExceed bool) error {
	key := quotaKey{user: user, name: quota}
	row := t.s.quotas[key]
	row.value += amount
	if !allowExceed && row.ceiling > 0 && row.value > row.ceiling {
		row.value = row.ceiling
	}
	t.s.quotas[key] = row
	return nil
}

func (t tx) SubtractQuota(user int64, quota string, amount int64, allowOverdraft bool) error {
	key := quotaKey{user: user, name: quota}
	row := t.s.quotas[key]
	if !allowOverdraft && row.value-amount < row.floor {
		return storage.ErrInsufficientCredit
	}
	row.value -= amount
	t.s.quotas[key] = row
	return nil
}

func (s *Store) StaleTransactions(_ context.Context, cutoff time.Time) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []models.Transaction
	for _, t := range s.transactions {
		if t.CreatedAt.Before(cutoff) {
			stale = append(stale, t)
		}
	}
	return stale, nil
}

func (s *Store) UserByName(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.users[name]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return id, nil
}

func (s *Store) InstanceByID(_ context.Context, id int64) (*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := inst
	return &out, nil
}

func (s *Store) InstanceByName(_ context.Context, owner int64, name string) (*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range s.instances {
		if inst.OwnerID == owner && inst.Name == name {
			out := inst
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) InterfaceByName(_ context.Context, instance int64, name string, dir models.Direction) (*models.Interface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, iface := range s.interfaces {
		if iface.InstanceID == instance && iface.Name == name && iface.Direction == dir {
			out := iface
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ConnectorByID(_ context.Context, id int64) (*models.Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connectors[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := c
	return &out, nil
}

func (s *Store) PlanByUser(_ context.Context, user int64) (*models.CreditPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[user]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := p
	return &out, nil
}

func (s *Store) IncrementHits(_ context.Context, instance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instance]
	if !ok {
		return storage.ErrNotFound
	}
	inst.Hits++
	s.instances[instance] = inst
	return nil
}

func (s *Store) RecordError(_ context.Context, rec models.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRecID++
	rec.ID = s.nextRecID
	s.records = append(s.records, rec)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
