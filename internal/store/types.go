package store

import (
	"time"

	"github.com/roach88/railverify/internal/verify"
)

// PurchaseStatus is the lifecycle state of a purchase.
type PurchaseStatus string

const (
	StatusPending   PurchaseStatus = "pending"
	StatusCompleted PurchaseStatus = "completed"
	StatusFailed    PurchaseStatus = "failed"
	// StatusRefunded and StatusCanceled are only set by administrative
	// flows outside this package.
	StatusRefunded PurchaseStatus = "refunded"
	StatusCanceled PurchaseStatus = "canceled"
)

// Final reports whether no further automatic transition is possible.
func (s PurchaseStatus) Final() bool {
	return s != StatusPending
}

// Purchase is the durable purchase record.
type Purchase struct {
	ID        string
	Buyer     string
	ListingID string
	PriceID   string
	Currency  string
	// AmountInt is the price locked at creation, in atomic units.
	AmountInt string
	Status    PurchaseStatus

	Rail        verify.Rail
	ChainID     *int64
	TxReference string

	// Set on completion.
	CanonicalID           string
	VerifiedAmountInt     string
	VerifiedConfirmations *int64
	VerifiedMeta          map[string]any

	// Set on failure.
	FailReason string

	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinalizedAt *time.Time
}

// Key returns the "rail:chain" key of the purchase's rail.
func (p Purchase) Key() string {
	return verify.RailKey(p.Rail, p.ChainID)
}

// NewPurchase holds the fields needed to create a pending purchase.
type NewPurchase struct {
	Buyer       string
	ListingID   string
	PriceID     string
	Currency    string
	AmountInt   string
	Rail        verify.Rail
	ChainID     *int64
	TxReference string
	Metadata    map[string]any
}

// Completion carries the verified facts recorded when a purchase completes.
type Completion struct {
	PurchaseID            string
	CanonicalID           string
	VerifiedAmountInt     string
	VerifiedConfirmations int64
	Meta                  map[string]any
}

// Entitlement grants a buyer access to a listing.
type Entitlement struct {
	Buyer               string
	ListingID           string
	GrantedByPurchaseID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Price is one price row for a listing in a currency.
type Price struct {
	ID        string
	ListingID string
	Currency  string
	AmountInt string
	Active    bool
	CreatedAt time.Time
}
