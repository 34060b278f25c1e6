package book_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/marketx/exchange/internal/book"
	"github.com/marketx/exchange/internal/model"
	"github.com/marketx/exchange/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func openOrIncrease(t *testing.T, ms *store.MemoryStore, userID, contractID string, qty int64, price decimal.Decimal) error {
	t.Helper()
	return ms.ExecTx(context.Background(), func(tx store.Tx) error {
		return book.OpenOrIncrease(context.Background(), tx, userID, contractID, qty, price)
	})
}

func decrease(t *testing.T, ms *store.MemoryStore, userID, contractID string, qty int64) error {
	t.Helper()
	return ms.ExecTx(context.Background(), func(tx store.Tx) error {
		return book.Decrease(context.Background(), tx, userID, contractID, qty)
	})
}

func getPosition(t *testing.T, ms *store.MemoryStore, userID, contractID string) *model.Position {
	t.Helper()
	p, err := ms.GetPosition(context.Background(), userID, contractID)
	if err != nil {
		t.Fatalf("failed to load position: %v", err)
	}
	return p
}

func TestOpenOrIncrease_CreatesBuyPosition(t *testing.T) {
	ms := store.NewMemoryStore()

	if err := openOrIncrease(t, ms, "u1", "c1", 5, d(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := getPosition(t, ms, "u1", "c1")
	if p.Quantity != 5 {
		t.Errorf("expected quantity 5, got %d", p.Quantity)
	}
	if !p.AveragePrice.Equal(d(10)) {
		t.Errorf("expected average price 10, got %s", p.AveragePrice)
	}
	if p.Side != model.SideBuy {
		t.Errorf("expected BUY side, got %s", p.Side)
	}
}

func TestOpenOrIncrease_WeightedAverage(t *testing.T) {
	ms := store.NewMemoryStore()

	// 5 @ 10.00 then 5 @ 20.00 → 10 @ 15.00
	if err := openOrIncrease(t, ms, "u1", "c1", 5, d(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := openOrIncrease(t, ms, "u1", "c1", 5, d(20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := getPosition(t, ms, "u1", "c1")
	if p.Quantity != 10 {
		t.Errorf("expected quantity 10, got %d", p.Quantity)
	}
	if !p.AveragePrice.Equal(d(15)) {
		t.Errorf("expected average price 15, got %s", p.AveragePrice)
	}
}

func TestOpenOrIncrease_AverageRoundsToCents(t *testing.T) {
	ms := store.NewMemoryStore()

	// 1 @ 10.00 then 2 @ 10.01 → avg 10.006666... → 10.01
	if err := openOrIncrease(t, ms, "u1", "c1", 1, d(10.00)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := openOrIncrease(t, ms, "u1", "c1", 2, d(10.01)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := getPosition(t, ms, "u1", "c1")
	if !p.AveragePrice.Equal(d(10.01)) {
		t.Errorf("expected average price 10.01, got %s", p.AveragePrice)
	}
}

func TestOpenOrIncrease_RejectsZeroQuantity(t *testing.T) {
	ms := store.NewMemoryStore()

	err := openOrIncrease(t, ms, "u1", "c1", 0, d(10))
	if !errors.Is(err, book.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestOpenOrIncrease_OneRowPerPair(t *testing.T) {
	ms := store.NewMemoryStore()

	if err := openOrIncrease(t, ms, "u1", "c1", 1, d(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := openOrIncrease(t, ms, "u1", "c1", 1, d(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	positions, err := ms.ListUserPositions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected one position row, got %d", len(positions))
	}
}

func TestDecrease_Partial(t *testing.T) {
	ms := store.NewMemoryStore()

	if err := openOrIncrease(t, ms, "u1", "c1", 10, d(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := decrease(t, ms, "u1", "c1", 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := getPosition(t, ms, "u1", "c1")
	if p.Quantity != 6 {
		t.Errorf("expected quantity 6, got %d", p.Quantity)
	}
	// Average price is unchanged on partial sells.
	if !p.AveragePrice.Equal(d(10)) {
		t.Errorf("expected average price 10, got %s", p.AveragePrice)
	}
}

func TestDecrease_FullDeletesRow(t *testing.T) {
	ms := store.NewMemoryStore()

	if err := openOrIncrease(t, ms, "u1", "c1", 5, d(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := decrease(t, ms, "u1", "c1", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ms.GetPosition(context.Background(), "u1", "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected position row to be deleted, got %v", err)
	}
}

func TestDecrease_InsufficientPosition(t *testing.T) {
	ms := store.NewMemoryStore()

	if err := openOrIncrease(t, ms, "u1", "c1", 3, d(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := decrease(t, ms, "u1", "c1", 4); !errors.Is(err, book.ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}

	// Holding is untouched after the failed decrease.
	p := getPosition(t, ms, "u1", "c1")
	if p.Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", p.Quantity)
	}
}

func TestDecrease_NoPosition(t *testing.T) {
	ms := store.NewMemoryStore()

	if err := decrease(t, ms, "u1", "c1", 1); !errors.Is(err, book.ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}
}
