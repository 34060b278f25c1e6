package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// ExecTx serializes under one mutex and snapshots state before running
// the callback; on error the snapshot is restored, so a failed
// operation leaves no partial writes — matching the all-or-nothing
// guarantee of the PostgreSQL implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	contracts map[string]*model.Contract
	positions map[string]*model.Position
	deposits  map[string]*model.Deposit
	withdraws map[string]*model.Withdraw
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		contracts: make(map[string]*model.Contract),
		positions: make(map[string]*model.Position),
		deposits:  make(map[string]*model.Deposit),
		withdraws: make(map[string]*model.Withdraw),
	}
}

func (s *MemoryStore) ExecTx(_ context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memState struct {
	users     map[string]*model.User
	contracts map[string]*model.Contract
	positions map[string]*model.Position
	deposits  map[string]*model.Deposit
	withdraws map[string]*model.Withdraw
}

func (s *MemoryStore) snapshot() memState {
	st := memState{
		users:     make(map[string]*model.User, len(s.users)),
		contracts: make(map[string]*model.Contract, len(s.contracts)),
		positions: make(map[string]*model.Position, len(s.positions)),
		deposits:  make(map[string]*model.Deposit, len(s.deposits)),
		withdraws: make(map[string]*model.Withdraw, len(s.withdraws)),
	}
	for k, v := range s.users {
		c := *v
		st.users[k] = &c
	}
	for k, v := range s.contracts {
		c := *v
		st.contracts[k] = &c
	}
	for k, v := range s.positions {
		c := *v
		st.positions[k] = &c
	}
	for k, v := range s.deposits {
		c := *v
		st.deposits[k] = &c
	}
	for k, v := range s.withdraws {
		c := *v
		st.withdraws[k] = &c
	}
	return st
}

func (s *MemoryStore) restore(st memState) {
	s.users = st.users
	s.contracts = st.contracts
	s.positions = st.positions
	s.deposits = st.deposits
	s.withdraws = st.withdraws
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	c := *u
	s.users[u.ID] = &c
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// --- Contracts ---

func (s *MemoryStore) CreateContract(_ context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.contracts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetContract(_ context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListContracts(_ context.Context, activeOnly bool) ([]model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contracts := make([]model.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		if activeOnly && c.Status != model.ContractActive {
			continue
		}
		contracts = append(contracts, *c)
	}
	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].CreatedAt.After(contracts[j].CreatedAt)
	})
	return contracts, nil
}

func (s *MemoryStore) CountContractPositions(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, p := range s.positions {
		counts[p.ContractID]++
	}
	return counts, nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, contractID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findPosition(userID, contractID)
}

// findPosition requires the caller to hold the lock.
func (s *MemoryStore) findPosition(userID, contractID string) (*model.Position, error) {
	for _, p := range s.positions {
		if p.UserID == userID && p.ContractID == contractID {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].CreatedAt.After(positions[j].CreatedAt)
	})
	return positions, nil
}

// --- Funds requests ---

func (s *MemoryStore) CreateDeposit(_ context.Context, d *model.Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *d
	s.deposits[d.ID] = &c
	return nil
}

func (s *MemoryStore) ListUserDeposits(_ context.Context, userID string) ([]model.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var deposits []model.Deposit
	for _, d := range s.deposits {
		if d.UserID == userID {
			deposits = append(deposits, *d)
		}
	}
	sortDeposits(deposits)
	return deposits, nil
}

func (s *MemoryStore) ListDeposits(_ context.Context) ([]model.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deposits := make([]model.Deposit, 0, len(s.deposits))
	for _, d := range s.deposits {
		deposits = append(deposits, *d)
	}
	sortDeposits(deposits)
	return deposits, nil
}

func (s *MemoryStore) ListUserWithdraws(_ context.Context, userID string) ([]model.Withdraw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var withdraws []model.Withdraw
	for _, w := range s.withdraws {
		if w.UserID == userID {
			withdraws = append(withdraws, *w)
		}
	}
	sortWithdraws(withdraws)
	return withdraws, nil
}

func (s *MemoryStore) ListWithdraws(_ context.Context) ([]model.Withdraw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	withdraws := make([]model.Withdraw, 0, len(s.withdraws))
	for _, w := range s.withdraws {
		withdraws = append(withdraws, *w)
	}
	sortWithdraws(withdraws)
	return withdraws, nil
}

func sortDeposits(deposits []model.Deposit) {
	sort.Slice(deposits, func(i, j int) bool {
		return deposits[i].CreatedAt.After(deposits[j].CreatedAt)
	})
}

func sortWithdraws(withdraws []model.Withdraw) {
	sort.Slice(withdraws, func(i, j int) bool {
		return withdraws[i].CreatedAt.After(withdraws[j].CreatedAt)
	})
}

// --- Aggregates ---

func (s *MemoryStore) PlatformStats(_ context.Context) (*model.PlatformStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &model.PlatformStats{
		TotalUsers:     int64(len(s.users)),
		TotalContracts: int64(len(s.contracts)),
		TotalDeposits:  int64(len(s.deposits)),
		TotalWithdraws: int64(len(s.withdraws)),
	}
	for _, c := range s.contracts {
		if c.Status == model.ContractActive {
			st.ActiveContracts++
		}
	}
	for _, d := range s.deposits {
		if d.Status == model.RequestPending {
			st.PendingDeposits++
		}
	}
	for _, w := range s.withdraws {
		if w.Status == model.RequestPending {
			st.PendingWithdraws++
		}
	}
	for _, u := range s.users {
		st.PlatformBalance = st.PlatformBalance.Add(u.Balance)
	}
	return st, nil
}

// --- Transactional view ---

// memTx operates directly on the store maps; ExecTx holds the store
// lock for the whole callback, so reads here behave like row locks.
type memTx struct {
	s *MemoryStore
}

func (t *memTx) GetUserForUpdate(_ context.Context, id string) (*model.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (t *memTx) AddToBalance(_ context.Context, userID string, delta decimal.Decimal) error {
	u, ok := t.s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Balance = u.Balance.Add(delta)
	return nil
}

func (t *memTx) GetContractForUpdate(_ context.Context, id string) (*model.Contract, error) {
	c, ok := t.s.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *memTx) SetContractResolved(_ context.Context, id, result string) error {
	c, ok := t.s.contracts[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = model.ContractResolved
	c.Result = result
	return nil
}

func (t *memTx) GetPositionForUpdate(_ context.Context, userID, contractID string) (*model.Position, error) {
	return t.s.findPosition(userID, contractID)
}

func (t *memTx) CreatePosition(_ context.Context, p *model.Position) error {
	if _, err := t.s.findPosition(p.UserID, p.ContractID); err == nil {
		return ErrDuplicate
	}
	c := *p
	t.s.positions[p.ID] = &c
	return nil
}

func (t *memTx) UpdatePosition(_ context.Context, id string, quantity int64, averagePrice decimal.Decimal) error {
	p, ok := t.s.positions[id]
	if !ok {
		return ErrNotFound
	}
	p.Quantity = quantity
	p.AveragePrice = averagePrice
	return nil
}

func (t *memTx) DeletePosition(_ context.Context, id string) error {
	if _, ok := t.s.positions[id]; !ok {
		return ErrNotFound
	}
	delete(t.s.positions, id)
	return nil
}

func (t *memTx) ListContractPositions(_ context.Context, contractID string) ([]model.Position, error) {
	var positions []model.Position
	for _, p := range t.s.positions {
		if p.ContractID == contractID {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].CreatedAt.Before(positions[j].CreatedAt)
	})
	return positions, nil
}

func (t *memTx) CreateWithdraw(_ context.Context, w *model.Withdraw) error {
	c := *w
	t.s.withdraws[w.ID] = &c
	return nil
}

func (t *memTx) GetDepositForUpdate(_ context.Context, id string) (*model.Deposit, error) {
	d, ok := t.s.deposits[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *d
	return &c, nil
}

func (t *memTx) GetWithdrawForUpdate(_ context.Context, id string) (*model.Withdraw, error) {
	w, ok := t.s.withdraws[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *w
	return &c, nil
}

func (t *memTx) SetDepositStatus(_ context.Context, id, status string) error {
	d, ok := t.s.deposits[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	return nil
}

func (t *memTx) SetWithdrawStatus(_ context.Context, id, status string) error {
	w, ok := t.s.withdraws[id]
	if !ok {
		return ErrNotFound
	}
	w.Status = status
	return nil
}
