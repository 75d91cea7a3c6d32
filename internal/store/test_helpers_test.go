package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/railverify/internal/testutil"
	"github.com/roach88/railverify/internal/verify"
)

// createTestStore creates a new store on a temp-dir SQLite database with a
// deterministic clock and id generator.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(DriverSQLite, path,
		WithClock(testutil.NewDeterministicClock()),
		WithIDGenerator(testutil.NewSequenceGenerator("id")),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func int64p(v int64) *int64 { return &v }

// createTestPurchase inserts a pending EVM purchase for the given tx hash.
func createTestPurchase(t *testing.T, s *Store, buyer, listingID, txRef string) Purchase {
	t.Helper()
	p, err := s.CreatePendingPurchase(context.Background(), NewPurchase{
		Buyer:       buyer,
		ListingID:   listingID,
		PriceID:     "price-1",
		Currency:    "ETH",
		AmountInt:   "1000000000000000000",
		Rail:        verify.RailETH,
		ChainID:     int64p(1),
		TxReference: txRef,
	})
	if err != nil {
		t.Fatalf("CreatePendingPurchase() failed: %v", err)
	}
	return p
}

func testCompletion(purchaseID string) Completion {
	return Completion{
		PurchaseID:            purchaseID,
		CanonicalID:           "0xabc",
		VerifiedAmountInt:     "1000000000000000000",
		VerifiedConfirmations: 3,
		Meta:                  map[string]any{"block_number": "100"},
	}
}

// countEntitlements returns the number of entitlements held for a listing.
func countEntitlements(t *testing.T, s *Store, listingID string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entitlements WHERE listing_id = ?`, listingID).Scan(&n); err != nil {
		t.Fatalf("count entitlements failed: %v", err)
	}
	return n
}
