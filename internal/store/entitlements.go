package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// grantEntitlement upserts the (buyer, listing) entitlement inside tx and
// returns the stored row. A repeat purchase of the same listing moves the
// grant to the newest purchase.
func (s *Store) grantEntitlement(ctx context.Context, tx *sql.Tx, buyer, listingID, purchaseID string, now int64) (Entitlement, error) {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO entitlements (buyer, listing_id, granted_by_purchase_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (buyer, listing_id) DO UPDATE SET
			granted_by_purchase_id = excluded.granted_by_purchase_id,
			updated_at = excluded.updated_at
	`), buyer, listingID, purchaseID, now, now)
	if err != nil {
		return Entitlement{}, fmt.Errorf("grant entitlement: %w", err)
	}

	ent, err := scanEntitlement(tx.QueryRowContext(ctx, s.rebind(`
		SELECT buyer, listing_id, granted_by_purchase_id, created_at, updated_at
		FROM entitlements WHERE buyer = ? AND listing_id = ?
	`), buyer, listingID))
	if err != nil {
		return Entitlement{}, fmt.Errorf("grant entitlement: read back: %w", err)
	}
	return ent, nil
}

// GetEntitlement returns the buyer's entitlement to a listing.
// Returns ErrNotFound if the buyer holds none.
func (s *Store) GetEntitlement(ctx context.Context, buyer, listingID string) (Entitlement, error) {
	ent, err := scanEntitlement(s.db.QueryRowContext(ctx, s.rebind(`
		SELECT buyer, listing_id, granted_by_purchase_id, created_at, updated_at
		FROM entitlements WHERE buyer = ? AND listing_id = ?
	`), buyer, listingID))
	if errors.Is(err, sql.ErrNoRows) {
		return Entitlement{}, fmt.Errorf("get entitlement: %w", ErrNotFound)
	}
	if err != nil {
		return Entitlement{}, fmt.Errorf("get entitlement: %w", err)
	}
	return ent, nil
}

func scanEntitlement(row rowScanner) (Entitlement, error) {
	var (
		e                    Entitlement
		createdAt, updatedAt int64
	)
	if err := row.Scan(&e.Buyer, &e.ListingID, &e.GrantedByPurchaseID, &createdAt, &updatedAt); err != nil {
		return Entitlement{}, err
	}
	e.CreatedAt = timeFromNanos(createdAt)
	e.UpdatedAt = timeFromNanos(updatedAt)
	return e, nil
}
