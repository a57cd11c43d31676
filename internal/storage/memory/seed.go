package memory

import "creditgrid/internal/models"

// Seeding and inspection helpers for tests and dev mode.

// AddUser registers a user name for name-based route resolution.
func (s *Store) AddUser(name string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[name] = id
}

// SetQuota initializes a quota row. A ceiling of 0 means unlimited.
func (s *Store) SetQuota(user int64, quota string, value, floor, ceiling int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[quotaKey{user: user, name: quota}] = quotaRow{value: value, floor: floor, ceiling: ceiling}
}

// QuotaValue returns the current balance of a quota.
func (s *Store) QuotaValue(user int64, quota string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotas[quotaKey{user: user, name: quota}].value
}

// AddPlan registers a credit plan.
func (s *Store) AddPlan(p models.CreditPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.UserID] = p
}

// AddConnector registers a connector.
func (s *Store) AddConnector(c models.Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[c.ID] = c
}

// AddInstance registers an instance.
func (s *Store) AddInstance(i models.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[i.ID] = i
}

// AddInterface registers an interface.
func (s *Store) AddInterface(i models.Interface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interfaces = append(s.interfaces, i)
}

// History returns a copy of the settled history entries.
func (s *Store) History() []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HistoryEntry(nil), s.history...)
}

// ErrorRecords returns a copy of the persisted error records.
func (s *Store) ErrorRecords() []models.ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ErrorRecord(nil), s.records...)
}

// PendingCount returns the number of pending transactions.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transactions)
}

// Pending returns a pending transaction by id.
func (s *Store) Pending(id int64) (models.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	return t, ok
}

// Hits returns the hit counter of an instance.
func (s *Store) Hits(instance int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances[instance].Hits
}
