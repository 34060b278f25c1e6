// Package store defines the persistence interface for the exchange.
// Implementations include PostgreSQL (source of truth) and in-memory
// (for testing and local development).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/model"
)

var (
	// ErrNotFound is returned when an entity id does not resolve.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique constraint is violated
	// (user email, or a second position row for one (user, contract)).
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the persistence interface. Plain reads run outside any
// transaction; every mutation of financial state goes through ExecTx.
type Store interface {
	// ExecTx runs fn inside one atomic transaction. Either every write
	// fn performs commits, or none do. Reads through the Tx take row
	// locks so preconditions checked inside fn hold until commit.
	ExecTx(ctx context.Context, fn func(Tx) error) error

	// --- Users ---

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// --- Contracts ---

	CreateContract(ctx context.Context, c *model.Contract) error
	GetContract(ctx context.Context, id string) (*model.Contract, error)

	// ListContracts returns contracts newest-first. With activeOnly set,
	// resolved contracts are excluded.
	ListContracts(ctx context.Context, activeOnly bool) ([]model.Contract, error)

	// CountContractPositions returns the number of open position rows
	// per contract id.
	CountContractPositions(ctx context.Context) (map[string]int64, error)

	// --- Positions ---

	GetPosition(ctx context.Context, userID, contractID string) (*model.Position, error)
	ListUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Funds requests ---

	CreateDeposit(ctx context.Context, d *model.Deposit) error
	ListUserDeposits(ctx context.Context, userID string) ([]model.Deposit, error)
	ListUserWithdraws(ctx context.Context, userID string) ([]model.Withdraw, error)
	ListDeposits(ctx context.Context) ([]model.Deposit, error)
	ListWithdraws(ctx context.Context) ([]model.Withdraw, error)

	// --- Aggregates ---

	PlatformStats(ctx context.Context) (*model.PlatformStats, error)
}

// Tx is the transactional view handed to ExecTx callbacks. ForUpdate
// reads lock the row until the transaction commits or rolls back, so a
// balance or status checked here cannot change under a concurrent
// operation before the sibling write lands.
type Tx interface {
	GetUserForUpdate(ctx context.Context, id string) (*model.User, error)

	// AddToBalance applies a signed delta to the user's balance. The
	// caller is responsible for the non-negativity check; ledger.Debit
	// performs it under the row lock.
	AddToBalance(ctx context.Context, userID string, delta decimal.Decimal) error

	GetContractForUpdate(ctx context.Context, id string) (*model.Contract, error)

	// SetContractResolved flips status to RESOLVED and records the
	// result. The contract row must already be locked.
	SetContractResolved(ctx context.Context, id, result string) error

	GetPositionForUpdate(ctx context.Context, userID, contractID string) (*model.Position, error)
	CreatePosition(ctx context.Context, p *model.Position) error
	UpdatePosition(ctx context.Context, id string, quantity int64, averagePrice decimal.Decimal) error
	DeletePosition(ctx context.Context, id string) error

	// ListContractPositions returns every open position on a contract,
	// for payout distribution at resolution.
	ListContractPositions(ctx context.Context, contractID string) ([]model.Position, error)

	CreateWithdraw(ctx context.Context, w *model.Withdraw) error
	GetDepositForUpdate(ctx context.Context, id string) (*model.Deposit, error)
	GetWithdrawForUpdate(ctx context.Context, id string) (*model.Withdraw, error)
	SetDepositStatus(ctx context.Context, id, status string) error
	SetWithdrawStatus(ctx context.Context, id, status string) error
}
