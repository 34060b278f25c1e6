package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/ledger"
	"github.com/marketx/exchange/internal/model"
	"github.com/marketx/exchange/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedUser(t *testing.T, ms *store.MemoryStore, id string, balance decimal.Decimal) {
	t.Helper()
	err := ms.CreateUser(context.Background(), &model.User{
		ID:        id,
		Email:     id + "@test.com",
		Name:      id,
		Role:      model.RoleUser,
		Balance:   balance,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func balanceOf(t *testing.T, ms *store.MemoryStore, id string) decimal.Decimal {
	t.Helper()
	u, err := ms.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	return u.Balance
}

func TestCredit(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "u1", d(10))

	err := ms.ExecTx(context.Background(), func(tx store.Tx) error {
		return ledger.Credit(context.Background(), tx, "u1", d(5.50))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := balanceOf(t, ms, "u1"); !got.Equal(d(15.50)) {
		t.Errorf("expected balance 15.50, got %s", got)
	}
}

func TestCredit_RejectsNonPositive(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "u1", d(10))

	for _, amount := range []decimal.Decimal{decimal.Zero, d(-1)} {
		err := ms.ExecTx(context.Background(), func(tx store.Tx) error {
			return ledger.Credit(context.Background(), tx, "u1", amount)
		})
		if !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("expected ErrInvalidAmount for %s, got %v", amount, err)
		}
	}
}

func TestDebit(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "u1", d(100))

	err := ms.ExecTx(context.Background(), func(tx store.Tx) error {
		return ledger.Debit(context.Background(), tx, "u1", d(40))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := balanceOf(t, ms, "u1"); !got.Equal(d(60)) {
		t.Errorf("expected balance 60, got %s", got)
	}
}

func TestDebit_InsufficientFunds(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "u1", d(10))

	err := ms.ExecTx(context.Background(), func(tx store.Tx) error {
		return ledger.Debit(context.Background(), tx, "u1", d(10.01))
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := balanceOf(t, ms, "u1"); !got.Equal(d(10)) {
		t.Errorf("balance changed on failed debit: %s", got)
	}
}

func TestDebit_ExactBalance(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "u1", d(10))

	err := ms.ExecTx(context.Background(), func(tx store.Tx) error {
		return ledger.Debit(context.Background(), tx, "u1", d(10))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := balanceOf(t, ms, "u1"); !got.IsZero() {
		t.Errorf("expected zero balance, got %s", got)
	}
}

func TestDebit_RollsBackSiblingWrites(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "u1", d(100))
	seedUser(t, ms, "u2", d(0))

	// The credit to u2 lands before the failing debit; the whole
	// transaction must roll back.
	err := ms.ExecTx(context.Background(), func(tx store.Tx) error {
		if err := ledger.Credit(context.Background(), tx, "u2", d(50)); err != nil {
			return err
		}
		return ledger.Debit(context.Background(), tx, "u1", d(500))
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := balanceOf(t, ms, "u2"); !got.IsZero() {
		t.Errorf("partial write survived rollback: u2 balance %s", got)
	}
	if got := balanceOf(t, ms, "u1"); !got.Equal(d(100)) {
		t.Errorf("u1 balance changed: %s", got)
	}
}

func TestDebit_UnknownUser(t *testing.T) {
	ms := store.NewMemoryStore()

	err := ms.ExecTx(context.Background(), func(tx store.Tx) error {
		return ledger.Debit(context.Background(), tx, "ghost", d(1))
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
