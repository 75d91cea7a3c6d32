package httpapi

import (
	"time"

	"github.com/roach88/railverify/internal/purchase"
	"github.com/roach88/railverify/internal/store"
	"github.com/roach88/railverify/internal/verify"
)

type verifyRequest struct {
	Rail      string `json:"rail"`
	ListingID string `json:"listingId"`
	// TxID is the original field name; TxReference wins when both are set.
	TxID           string  `json:"txId"`
	TxReference    string  `json:"txReference"`
	ChainID        *int64  `json:"chainId"`
	Memo           string  `json:"memo"`
	DestinationTag *uint32 `json:"destinationTag"`
}

func (r verifyRequest) input(buyer string) purchase.Input {
	ref := r.TxReference
	if ref == "" {
		ref = r.TxID
	}
	return purchase.Input{
		Rail:           r.Rail,
		ListingID:      r.ListingID,
		Buyer:          buyer,
		TxReference:    ref,
		ChainID:        r.ChainID,
		Memo:           r.Memo,
		DestinationTag: r.DestinationTag,
	}
}

type purchaseJSON struct {
	ID                    string         `json:"id"`
	Buyer                 string         `json:"buyer"`
	ListingID             string         `json:"listingId"`
	PriceID               string         `json:"priceId"`
	Currency              string         `json:"currency"`
	AmountInt             string         `json:"amountInt"`
	Status                string         `json:"status"`
	Rail                  string         `json:"rail"`
	ChainID               *int64         `json:"chainId"`
	TxReference           string         `json:"txReference"`
	CanonicalID           string         `json:"canonicalId,omitempty"`
	VerifiedAmountInt     string         `json:"verifiedAmountInt,omitempty"`
	VerifiedConfirmations *int64         `json:"verifiedConfirmations,omitempty"`
	VerifiedMeta          map[string]any `json:"verifiedMeta,omitempty"`
	FailReason            string         `json:"failReason,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
	FinalizedAt           *time.Time     `json:"finalizedAt,omitempty"`
}

func toPurchaseJSON(p store.Purchase) purchaseJSON {
	return purchaseJSON{
		ID:                    p.ID,
		Buyer:                 p.Buyer,
		ListingID:             p.ListingID,
		PriceID:               p.PriceID,
		Currency:              p.Currency,
		AmountInt:             p.AmountInt,
		Status:                string(p.Status),
		Rail:                  string(p.Rail),
		ChainID:               p.ChainID,
		TxReference:           p.TxReference,
		CanonicalID:           p.CanonicalID,
		VerifiedAmountInt:     p.VerifiedAmountInt,
		VerifiedConfirmations: p.VerifiedConfirmations,
		VerifiedMeta:          p.VerifiedMeta,
		FailReason:            p.FailReason,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
		FinalizedAt:           p.FinalizedAt,
	}
}

type entitlementJSON struct {
	Buyer               string    `json:"buyer"`
	ListingID           string    `json:"listingId"`
	GrantedByPurchaseID string    `json:"grantedByPurchaseId"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func toEntitlementJSON(e store.Entitlement) *entitlementJSON {
	return &entitlementJSON{
		Buyer:               e.Buyer,
		ListingID:           e.ListingID,
		GrantedByPurchaseID: e.GrantedByPurchaseID,
		CreatedAt:           e.CreatedAt,
		UpdatedAt:           e.UpdatedAt,
	}
}

// verifiedJSON is the verifier's view of the transfer.
type verifiedJSON struct {
	OK            bool           `json:"ok"`
	CanonicalID   string         `json:"canonicalId,omitempty"`
	AmountAtomic  string         `json:"amountAtomic,omitempty"`
	Confirmations int64          `json:"confirmations"`
	Reason        string         `json:"reason,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

func toVerifiedJSON(o verify.Outcome, reason verify.Reason) verifiedJSON {
	if reason == "" {
		reason = o.Reason
	}
	return verifiedJSON{
		OK:            o.OK,
		CanonicalID:   o.CanonicalID,
		AmountAtomic:  o.AmountAtomic,
		Confirmations: o.Confirmations,
		Reason:        string(reason),
		Meta:          o.Meta,
	}
}

type verifyResponse struct {
	OK          bool             `json:"ok"`
	Status      string           `json:"status"`
	Purchase    purchaseJSON     `json:"purchase"`
	Entitlement *entitlementJSON `json:"entitlement,omitempty"`
	Verified    verifiedJSON     `json:"verified"`
}

type errorResponse struct {
	OK         bool           `json:"ok"`
	Error      string         `json:"error"`
	ReasonCode string         `json:"reasonCode,omitempty"`
	PurchaseID string         `json:"purchaseId,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

type railJSON struct {
	Rail             string         `json:"rail"`
	ChainID          *int64         `json:"chainId"`
	Currency         string         `json:"currency"`
	Treasury         string         `json:"treasury"`
	RPCURL           string         `json:"rpcUrl,omitempty"`
	Enabled          bool           `json:"enabled"`
	MinConfirmations int64          `json:"minConfirmations"`
	Metadata         map[string]any `json:"metadata"`
}

func toRailJSON(c verify.RailConfig) railJSON {
	meta := c.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return railJSON{
		Rail:             string(c.Rail),
		ChainID:          c.ChainID,
		Currency:         c.Currency,
		Treasury:         c.Treasury,
		RPCURL:           c.RPCURL,
		Enabled:          c.Enabled,
		MinConfirmations: c.MinConfirmations,
		Metadata:         meta,
	}
}

type upsertRailRequest struct {
	Rail             string         `json:"rail" binding:"required"`
	ChainID          *int64         `json:"chainId"`
	Currency         string         `json:"currency" binding:"required"`
	Treasury         string         `json:"treasury" binding:"required,min=3,max=200"`
	RPCURL           string         `json:"rpcUrl" binding:"max=500"`
	Enabled          bool           `json:"enabled"`
	MinConfirmations int64          `json:"minConfirmations" binding:"min=0,max=10000"`
	Metadata         map[string]any `json:"metadata"`
}

type railEnabledRequest struct {
	Rail    string `json:"rail" binding:"required"`
	ChainID *int64 `json:"chainId"`
	Enabled bool   `json:"enabled"`
}
