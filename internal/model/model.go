// Package model defines the core domain types shared across the exchange.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is a user's access level. Checked at the entry of every admin
// operation; there is no other privilege mechanism.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Contract lifecycle states.
const (
	ContractActive   = "ACTIVE"
	ContractResolved = "RESOLVED"
)

// Contract resolution results.
const (
	ResultSim = "SIM"
	ResultNao = "NAO"
)

// Position sides. Only BUY positions are created by any current flow;
// SELL exists for schema compatibility with the position table.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Funds request states, shared by deposits and withdraws.
const (
	RequestPending  = "PENDING"
	RequestApproved = "APPROVED"
	RequestRejected = "REJECTED"
)

// User holds identity and the cash balance. The balance is mutated only
// by ledger operations inside a store transaction.
type User struct {
	ID           string          `json:"id" db:"id"`
	Email        string          `json:"email" db:"email"`
	Name         string          `json:"name" db:"name"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Role         Role            `json:"role" db:"role"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Contract is a binary-outcome instrument with a fixed admin-set unit
// price. Status transitions ACTIVE → RESOLVED exactly once; Result is
// assigned at that transition and never changed again.
type Contract struct {
	ID          string          `json:"id" db:"id"`
	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	ExpiresAt   time.Time       `json:"expires_at" db:"expires_at"`
	Status      string          `json:"status" db:"status"` // ACTIVE or RESOLVED
	Result      string          `json:"result,omitempty" db:"result"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Position is a user's holding in one contract. At most one row exists
// per (user, contract); quantity is a positive integer while the row
// exists — the row is deleted when quantity reaches zero.
type Position struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	ContractID   string          `json:"contract_id" db:"contract_id"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"`
	Side         string          `json:"side" db:"side"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Deposit is a user's request to credit funds via PIX transfer. No
// balance effect until an admin approves it.
type Deposit struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Status    string          `json:"status" db:"status"`
	ProofURL  string          `json:"proof_url,omitempty" db:"proof_url"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Withdraw is a user's request to move funds out to a PIX destination.
// The amount is debited at request time and refunded on rejection.
type Withdraw struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	PixKey    string          `json:"pix_key" db:"pix_key"`
	Status    string          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// PlatformStats aggregates counts for the admin dashboard.
type PlatformStats struct {
	TotalUsers       int64           `json:"total_users"`
	TotalContracts   int64           `json:"total_contracts"`
	ActiveContracts  int64           `json:"active_contracts"`
	TotalDeposits    int64           `json:"total_deposits"`
	PendingDeposits  int64           `json:"pending_deposits"`
	TotalWithdraws   int64           `json:"total_withdraws"`
	PendingWithdraws int64           `json:"pending_withdraws"`
	PlatformBalance  decimal.Decimal `json:"platform_balance"`
}

// ValidResult reports whether r is an accepted resolution result.
func ValidResult(r string) bool {
	return r == ResultSim || r == ResultNao
}
