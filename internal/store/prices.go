package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/railverify/internal/verify"
)

// ActivePrice returns the newest active price for a listing in a currency.
// Returns ErrNotFound if there is none.
func (s *Store) ActivePrice(ctx context.Context, listingID, currency string) (Price, error) {
	var (
		p         Price
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, listing_id, currency, amount_int, active, created_at
		FROM listing_prices
		WHERE listing_id = ? AND currency = ? AND active = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`), listingID, currency, true).Scan(&p.ID, &p.ListingID, &p.Currency, &p.AmountInt, &p.Active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Price{}, fmt.Errorf("active price %s/%s: %w", listingID, currency, ErrNotFound)
	}
	if err != nil {
		return Price{}, fmt.Errorf("active price %s/%s: %w", listingID, currency, err)
	}
	p.CreatedAt = timeFromNanos(createdAt)
	return p, nil
}

// SetPrice records a new active price and deactivates the previous ones for
// the same listing and currency, atomically.
func (s *Store) SetPrice(ctx context.Context, listingID, currency, amountInt string) (Price, error) {
	if _, err := verify.ParseAtomic(amountInt); err != nil {
		return Price{}, fmt.Errorf("set price: %w", err)
	}

	p := Price{
		ID:        s.ids.Generate(),
		ListingID: listingID,
		Currency:  currency,
		AmountInt: amountInt,
		Active:    true,
	}
	now := s.now()
	p.CreatedAt = timeFromNanos(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Price{}, fmt.Errorf("set price: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE listing_prices SET active = ?
		WHERE listing_id = ? AND currency = ? AND active = ?
	`), false, listingID, currency, true)
	if err != nil {
		return Price{}, fmt.Errorf("set price: deactivate: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO listing_prices (id, listing_id, currency, amount_int, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), p.ID, p.ListingID, p.Currency, p.AmountInt, true, now)
	if err != nil {
		return Price{}, fmt.Errorf("set price: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Price{}, fmt.Errorf("set price: commit: %w", err)
	}
	return p, nil
}
