package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/railverify/internal/verify"
)

const purchaseColumns = `id, buyer, listing_id, price_id, currency, amount_int, status,
	rail, chain_id, tx_reference, canonical_id, verified_amount_int, verified_confirmations,
	verified_meta, fail_reason, metadata, created_at, updated_at, finalized_at`

// CreatePendingPurchase inserts a pending purchase after checking that its
// (rail, chain_id, tx_reference) has never been used. The check and insert
// share one transaction, and the table's UNIQUE constraint catches a
// concurrent insert that slips between them.
//
// Returns ErrReplay if the transaction reference already backs a purchase.
func (s *Store) CreatePendingPurchase(ctx context.Context, np NewPurchase) (Purchase, error) {
	if _, err := verify.ParseAtomic(np.AmountInt); err != nil {
		return Purchase{}, fmt.Errorf("create purchase: %w", err)
	}
	metaJSON, err := marshalMeta(np.Metadata)
	if err != nil {
		return Purchase{}, fmt.Errorf("create purchase: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Purchase{}, fmt.Errorf("create purchase: begin tx: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT id FROM purchases
		WHERE rail = ? AND chain_id = ? AND tx_reference = ?
	`), string(np.Rail), chainColumn(np.ChainID), np.TxReference).Scan(&existing)
	switch {
	case err == nil:
		return Purchase{}, fmt.Errorf("create purchase: %s %s: %w", verify.RailKey(np.Rail, np.ChainID), np.TxReference, ErrReplay)
	case !errors.Is(err, sql.ErrNoRows):
		return Purchase{}, fmt.Errorf("create purchase: replay check: %w", err)
	}

	now := s.now()
	p := Purchase{
		ID:          s.ids.Generate(),
		Buyer:       np.Buyer,
		ListingID:   np.ListingID,
		PriceID:     np.PriceID,
		Currency:    np.Currency,
		AmountInt:   np.AmountInt,
		Status:      StatusPending,
		Rail:        np.Rail,
		ChainID:     np.ChainID,
		TxReference: np.TxReference,
		Metadata:    np.Metadata,
		CreatedAt:   timeFromNanos(now),
		UpdatedAt:   timeFromNanos(now),
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO purchases
		(id, buyer, listing_id, price_id, currency, amount_int, status, rail, chain_id, tx_reference, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		p.ID,
		p.Buyer,
		p.ListingID,
		p.PriceID,
		p.Currency,
		p.AmountInt,
		string(StatusPending),
		string(p.Rail),
		chainColumn(p.ChainID),
		p.TxReference,
		metaJSON,
		now,
		now,
	)
	if isUniqueViolation(err) {
		return Purchase{}, fmt.Errorf("create purchase: %s %s: %w", verify.RailKey(np.Rail, np.ChainID), np.TxReference, ErrReplay)
	}
	if err != nil {
		return Purchase{}, fmt.Errorf("create purchase: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return Purchase{}, fmt.Errorf("create purchase: %w", ErrReplay)
		}
		return Purchase{}, fmt.Errorf("create purchase: commit: %w", err)
	}
	return p, nil
}

// GetPurchase returns a purchase by id.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+purchaseColumns+`
		FROM purchases WHERE id = ?
	`), id)

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Purchase{}, fmt.Errorf("get purchase %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Purchase{}, fmt.Errorf("get purchase %s: %w", id, err)
	}
	return p, nil
}

// ListPendingPurchases returns up to limit pending purchases, least recently
// attempted first. Rows are ordered by updated_at, which TouchPurchase bumps
// after each reconciliation attempt, so a batch of stuck rows rotates to the
// back of the queue. Returns an empty slice (not nil) if none are pending.
func (s *Store) ListPendingPurchases(ctx context.Context, limit int) ([]Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryPurchases(ctx, "list pending purchases", `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE status = ?
		ORDER BY updated_at ASC, id ASC
		LIMIT ?
	`, string(StatusPending), limit)
}

// TouchPurchase records a reconciliation attempt on a pending purchase by
// bumping updated_at. It reports false when the purchase is no longer
// pending or does not exist.
func (s *Store) TouchPurchase(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE purchases SET updated_at = ?
		WHERE id = ? AND status = ?
	`), s.now(), id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("touch purchase: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("touch purchase: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListPurchasesByBuyer returns a buyer's purchases, newest first.
func (s *Store) ListPurchasesByBuyer(ctx context.Context, buyer string) ([]Purchase, error) {
	return s.queryPurchases(ctx, "list purchases by buyer", `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE buyer = ?
		ORDER BY created_at DESC, id DESC
	`, buyer)
}

func (s *Store) queryPurchases(ctx context.Context, op, query string, args ...any) ([]Purchase, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	purchases := []Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return purchases, nil
}

// MarkPurchaseFailed moves a pending purchase to failed. The UPDATE is
// guarded by status = 'pending'; transitioned is false when another caller
// finalized the purchase first.
//
// Returns ErrNotFound if the purchase does not exist.
func (s *Store) MarkPurchaseFailed(ctx context.Context, id string, reason verify.Reason, meta map[string]any) (transitioned bool, err error) {
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return false, fmt.Errorf("mark purchase failed: %w", err)
	}

	now := s.now()
	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE purchases
		SET status = ?, fail_reason = ?, verified_meta = ?, updated_at = ?, finalized_at = ?
		WHERE id = ? AND status = ?
	`), string(StatusFailed), string(reason), metaJSON, now, now, id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("mark purchase failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark purchase failed: rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	if _, err := s.purchaseStatus(ctx, s.db, id); err != nil {
		return false, fmt.Errorf("mark purchase failed: %w", err)
	}
	return false, nil
}

// CompletePurchase moves a pending purchase to completed and grants the
// buyer's entitlement in one transaction.
//
// If the guarded UPDATE affects zero rows the transaction is rolled back, no
// entitlement is written, and ErrNotPending is returned.
func (s *Store) CompletePurchase(ctx context.Context, c Completion) (Entitlement, error) {
	if _, err := verify.ParseAtomic(c.VerifiedAmountInt); err != nil {
		return Entitlement{}, fmt.Errorf("complete purchase: verified amount: %w", err)
	}
	metaJSON, err := marshalMeta(c.Meta)
	if err != nil {
		return Entitlement{}, fmt.Errorf("complete purchase: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entitlement{}, fmt.Errorf("complete purchase: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	result, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE purchases
		SET status = ?, canonical_id = ?, verified_amount_int = ?, verified_confirmations = ?,
			verified_meta = ?, updated_at = ?, finalized_at = ?
		WHERE id = ? AND status = ?
	`),
		string(StatusCompleted),
		c.CanonicalID,
		c.VerifiedAmountInt,
		c.VerifiedConfirmations,
		metaJSON,
		now,
		now,
		c.PurchaseID,
		string(StatusPending),
	)
	if err != nil {
		return Entitlement{}, fmt.Errorf("complete purchase: update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Entitlement{}, fmt.Errorf("complete purchase: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.purchaseStatus(ctx, tx, c.PurchaseID); err != nil {
			return Entitlement{}, fmt.Errorf("complete purchase: %w", err)
		}
		return Entitlement{}, fmt.Errorf("complete purchase %s: %w", c.PurchaseID, ErrNotPending)
	}

	var buyer, listingID string
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT buyer, listing_id FROM purchases WHERE id = ?
	`), c.PurchaseID).Scan(&buyer, &listingID)
	if err != nil {
		return Entitlement{}, fmt.Errorf("complete purchase: read purchase: %w", err)
	}

	ent, err := s.grantEntitlement(ctx, tx, buyer, listingID, c.PurchaseID, now)
	if err != nil {
		return Entitlement{}, fmt.Errorf("complete purchase: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entitlement{}, fmt.Errorf("complete purchase: commit: %w", err)
	}
	return ent, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// purchaseStatus reads the status of a purchase through q, which may be a
// transaction. Returns ErrNotFound if it does not exist.
func (s *Store) purchaseStatus(ctx context.Context, q queryRower, id string) (PurchaseStatus, error) {
	var status string
	err := q.QueryRowContext(ctx, s.rebind(`SELECT status FROM purchases WHERE id = ?`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("purchase %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("purchase %s status: %w", id, err)
	}
	return PurchaseStatus(status), nil
}

func scanPurchase(row rowScanner) (Purchase, error) {
	var (
		p                     Purchase
		status, rail          string
		chainID               int64
		canonicalID           sql.NullString
		verifiedAmount        sql.NullString
		verifiedConfirmations sql.NullInt64
		verifiedMeta          sql.NullString
		failReason            sql.NullString
		metaJSON              string
		createdAt, updatedAt  int64
		finalizedAt           sql.NullInt64
	)
	err := row.Scan(
		&p.ID, &p.Buyer, &p.ListingID, &p.PriceID, &p.Currency, &p.AmountInt, &status,
		&rail, &chainID, &p.TxReference, &canonicalID, &verifiedAmount, &verifiedConfirmations,
		&verifiedMeta, &failReason, &metaJSON, &createdAt, &updatedAt, &finalizedAt,
	)
	if err != nil {
		return Purchase{}, err
	}

	p.Status = PurchaseStatus(status)
	p.Rail = verify.Rail(rail)
	p.ChainID = chainFromColumn(chainID)
	p.CanonicalID = canonicalID.String
	p.VerifiedAmountInt = verifiedAmount.String
	if verifiedConfirmations.Valid {
		n := verifiedConfirmations.Int64
		p.VerifiedConfirmations = &n
	}
	p.FailReason = failReason.String
	p.CreatedAt = timeFromNanos(createdAt)
	p.UpdatedAt = timeFromNanos(updatedAt)
	if finalizedAt.Valid {
		t := timeFromNanos(finalizedAt.Int64)
		p.FinalizedAt = &t
	}

	if p.Metadata, err = unmarshalMeta(metaJSON); err != nil {
		return Purchase{}, fmt.Errorf("purchase %s: %w", p.ID, err)
	}
	if verifiedMeta.Valid {
		if p.VerifiedMeta, err = unmarshalMeta(verifiedMeta.String); err != nil {
			return Purchase{}, fmt.Errorf("purchase %s: %w", p.ID, err)
		}
	}
	return p, nil
}
