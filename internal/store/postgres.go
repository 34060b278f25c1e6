package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// ExecTx uses SELECT ... FOR UPDATE row locks so concurrent operations on
// the same user, contract, or request serialize at the database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the exchange tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL,
			balance       NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS contracts (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL,
			price       NUMERIC(18,2) NOT NULL,
			expires_at  TIMESTAMPTZ NOT NULL,
			status      TEXT NOT NULL,
			result      TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS positions (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL REFERENCES users(id),
			contract_id   TEXT NOT NULL REFERENCES contracts(id),
			quantity      BIGINT NOT NULL CHECK (quantity > 0),
			average_price NUMERIC(18,2) NOT NULL,
			side          TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, contract_id)
		);
		CREATE TABLE IF NOT EXISTS deposits (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			amount     NUMERIC(18,2) NOT NULL,
			status     TEXT NOT NULL,
			proof_url  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS withdraws (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			amount     NUMERIC(18,2) NOT NULL,
			pix_key    TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

// ExecTx runs fn in a single database transaction.
func (s *PostgresStore) ExecTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.Balance.String(), u.CreatedAt,
	)
	return mapPgError(err)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, userSelect+` WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, userSelect+` WHERE email = $1`, email))
}

const userSelect = `SELECT id, email, name, password_hash, role, balance::TEXT, created_at FROM users`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role, balance string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &balance, &u.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	u.Role = model.Role(role)
	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

// --- Contracts ---

func (s *PostgresStore) CreateContract(ctx context.Context, c *model.Contract) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contracts (id, title, description, price, expires_at, status, result, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
		c.ID, c.Title, c.Description, c.Price.String(), c.ExpiresAt, c.Status, c.Result, c.CreatedAt,
	)
	return mapPgError(err)
}

const contractSelect = `SELECT id, title, description, price::TEXT, expires_at, status, result, created_at FROM contracts`

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	return scanContract(s.pool.QueryRow(ctx, contractSelect+` WHERE id = $1`, id))
}

func scanContract(row pgx.Row) (*model.Contract, error) {
	var c model.Contract
	var price string
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &price, &c.ExpiresAt, &c.Status, &c.Result, &c.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	c.Price, _ = decimal.NewFromString(price)
	return &c, nil
}

func (s *PostgresStore) ListContracts(ctx context.Context, activeOnly bool) ([]model.Contract, error) {
	q := contractSelect
	if activeOnly {
		q += ` WHERE status = 'ACTIVE'`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, rows.Err()
}

func (s *PostgresStore) CountContractPositions(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT contract_id, COUNT(*) FROM positions GROUP BY contract_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// --- Positions ---

const positionSelect = `SELECT id, user_id, contract_id, quantity, average_price::TEXT, side, created_at FROM positions`

func (s *PostgresStore) GetPosition(ctx context.Context, userID, contractID string) (*model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx,
		positionSelect+` WHERE user_id = $1 AND contract_id = $2`, userID, contractID))
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var avg string
	if err := row.Scan(&p.ID, &p.UserID, &p.ContractID, &p.Quantity, &avg, &p.Side, &p.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	p.AveragePrice, _ = decimal.NewFromString(avg)
	return &p, nil
}

func (s *PostgresStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		positionSelect+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// --- Funds requests ---

func (s *PostgresStore) CreateDeposit(ctx context.Context, d *model.Deposit) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deposits (id, user_id, amount, status, proof_url, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
		d.ID, d.UserID, d.Amount.String(), d.Status, d.ProofURL, d.CreatedAt,
	)
	return mapPgError(err)
}

const depositSelect = `SELECT id, user_id, amount::TEXT, status, proof_url, created_at FROM deposits`
const withdrawSelect = `SELECT id, user_id, amount::TEXT, pix_key, status, created_at FROM withdraws`

func scanDeposit(row pgx.Row) (*model.Deposit, error) {
	var d model.Deposit
	var amount string
	if err := row.Scan(&d.ID, &d.UserID, &amount, &d.Status, &d.ProofURL, &d.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	d.Amount, _ = decimal.NewFromString(amount)
	return &d, nil
}

func scanWithdraw(row pgx.Row) (*model.Withdraw, error) {
	var w model.Withdraw
	var amount string
	if err := row.Scan(&w.ID, &w.UserID, &amount, &w.PixKey, &w.Status, &w.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	w.Amount, _ = decimal.NewFromString(amount)
	return &w, nil
}

func (s *PostgresStore) ListUserDeposits(ctx context.Context, userID string) ([]model.Deposit, error) {
	return s.queryDeposits(ctx, depositSelect+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *PostgresStore) ListDeposits(ctx context.Context) ([]model.Deposit, error) {
	return s.queryDeposits(ctx, depositSelect+` ORDER BY created_at DESC`)
}

func (s *PostgresStore) queryDeposits(ctx context.Context, q string, args ...any) ([]model.Deposit, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []model.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *d)
	}
	return deposits, rows.Err()
}

func (s *PostgresStore) ListUserWithdraws(ctx context.Context, userID string) ([]model.Withdraw, error) {
	return s.queryWithdraws(ctx, withdrawSelect+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *PostgresStore) ListWithdraws(ctx context.Context) ([]model.Withdraw, error) {
	return s.queryWithdraws(ctx, withdrawSelect+` ORDER BY created_at DESC`)
}

func (s *PostgresStore) queryWithdraws(ctx context.Context, q string, args ...any) ([]model.Withdraw, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var withdraws []model.Withdraw
	for rows.Next() {
		w, err := scanWithdraw(rows)
		if err != nil {
			return nil, err
		}
		withdraws = append(withdraws, *w)
	}
	return withdraws, rows.Err()
}

// --- Aggregates ---

func (s *PostgresStore) PlatformStats(ctx context.Context) (*model.PlatformStats, error) {
	var st model.PlatformStats
	var balance string

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM contracts),
			(SELECT COUNT(*) FROM contracts WHERE status = 'ACTIVE'),
			(SELECT COUNT(*) FROM deposits),
			(SELECT COUNT(*) FROM deposits WHERE status = 'PENDING'),
			(SELECT COUNT(*) FROM withdraws),
			(SELECT COUNT(*) FROM withdraws WHERE status = 'PENDING'),
			COALESCE((SELECT SUM(balance) FROM users), 0)::TEXT`).
		Scan(&st.TotalUsers, &st.TotalContracts, &st.ActiveContracts,
			&st.TotalDeposits, &st.PendingDeposits,
			&st.TotalWithdraws, &st.PendingWithdraws, &balance)
	if err != nil {
		return nil, err
	}
	st.PlatformBalance, _ = decimal.NewFromString(balance)
	return &st, nil
}

// --- Transactional view ---

// pgTx implements Tx on top of a pgx transaction. ForUpdate reads hold
// their row lock until the surrounding ExecTx commits or rolls back.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetUserForUpdate(ctx context.Context, id string) (*model.User, error) {
	return scanUser(t.tx.QueryRow(ctx, userSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) AddToBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE users SET balance = balance + $1::NUMERIC WHERE id = $2`,
		delta.String(), userID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetContractForUpdate(ctx context.Context, id string) (*model.Contract, error) {
	return scanContract(t.tx.QueryRow(ctx, contractSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) SetContractResolved(ctx context.Context, id, result string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE contracts SET status = 'RESOLVED', result = $1 WHERE id = $2`,
		result, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetPositionForUpdate(ctx context.Context, userID, contractID string) (*model.Position, error) {
	return scanPosition(t.tx.QueryRow(ctx,
		positionSelect+` WHERE user_id = $1 AND contract_id = $2 FOR UPDATE`, userID, contractID))
}

func (t *pgTx) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (id, user_id, contract_id, quantity, average_price, side, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		p.ID, p.UserID, p.ContractID, p.Quantity, p.AveragePrice.String(), p.Side, p.CreatedAt,
	)
	return mapPgError(err)
}

func (t *pgTx) UpdatePosition(ctx context.Context, id string, quantity int64, averagePrice decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE positions SET quantity = $1, average_price = $2::NUMERIC WHERE id = $3`,
		quantity, averagePrice.String(), id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeletePosition(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListContractPositions(ctx context.Context, contractID string) ([]model.Position, error) {
	rows, err := t.tx.Query(ctx,
		positionSelect+` WHERE contract_id = $1 FOR UPDATE`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (t *pgTx) CreateWithdraw(ctx context.Context, w *model.Withdraw) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO withdraws (id, user_id, amount, pix_key, status, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
		w.ID, w.UserID, w.Amount.String(), w.PixKey, w.Status, w.CreatedAt,
	)
	return mapPgError(err)
}

func (t *pgTx) GetDepositForUpdate(ctx context.Context, id string) (*model.Deposit, error) {
	return scanDeposit(t.tx.QueryRow(ctx, depositSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) GetWithdrawForUpdate(ctx context.Context, id string) (*model.Withdraw, error) {
	return scanWithdraw(t.tx.QueryRow(ctx, withdrawSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) SetDepositStatus(ctx context.Context, id, status string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE deposits SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SetWithdrawStatus(ctx context.Context, id, status string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE withdraws SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// mapPgError translates driver errors to store sentinels.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
