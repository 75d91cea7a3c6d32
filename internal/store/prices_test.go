package store

import (
	"context"
	"errors"
	"testing"
)

func TestSetPrice_NewestActiveWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.SetPrice(ctx, "listing-1", "ETH", "100")
	if err != nil {
		t.Fatalf("SetPrice() failed: %v", err)
	}
	second, err := s.SetPrice(ctx, "listing-1", "ETH", "250")
	if err != nil {
		t.Fatalf("SetPrice() failed: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("price ids collide: %s", first.ID)
	}

	got, err := s.ActivePrice(ctx, "listing-1", "ETH")
	if err != nil {
		t.Fatalf("ActivePrice() failed: %v", err)
	}
	if got.ID != second.ID || got.AmountInt != "250" {
		t.Errorf("ActivePrice() = %+v, want %+v", got, second)
	}

	var active int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM listing_prices WHERE listing_id = 'listing-1' AND active`).Scan(&active); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if active != 1 {
		t.Errorf("active prices = %d, want 1", active)
	}
}

func TestActivePrice_IsPerCurrency(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.SetPrice(ctx, "listing-1", "BTC", "5000"); err != nil {
		t.Fatalf("SetPrice() failed: %v", err)
	}

	if _, err := s.ActivePrice(ctx, "listing-1", "ETH"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActivePrice(ETH) err = %v, want ErrNotFound", err)
	}
}

func TestSetPrice_RejectsNonIntegerAmount(t *testing.T) {
	s := createTestStore(t)

	for _, amount := range []string{"1.5", "-3", "", "abc"} {
		if _, err := s.SetPrice(context.Background(), "listing-1", "ETH", amount); err == nil {
			t.Errorf("SetPrice(%q) should fail", amount)
		}
	}
}
