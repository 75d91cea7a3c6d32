package purchase

import (
	"errors"
	"fmt"

	"github.com/roach88/railverify/internal/verify"
)

// RejectionKind groups rejections by how a transport should report them.
type RejectionKind int

const (
	KindBadRequest RejectionKind = iota + 1
	KindNotFound
	KindConflict
)

func (k RejectionKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Rejection codes returned to clients.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnsupportedRail    = "unsupported_rail"
	CodeChainIDRequired    = "chainId_required"
	CodeRailNotConfigured  = "rail_not_configured"
	CodeRailDisabled       = "rail_disabled"
	CodePriceNotFound      = "price_not_found"
	CodeTxAlreadyUsed      = "tx_already_used"
	CodePaymentNotVerified = "payment_not_verified"
	CodePurchaseNotPending = "purchase_not_pending"
)

// Rejection is a terminal, client-visible refusal of a verify request.
type Rejection struct {
	Kind RejectionKind
	Code string
	// Reason is the verifier reason for CodePaymentNotVerified.
	Reason     verify.Reason
	PurchaseID string
	Meta       map[string]any
}

func (r *Rejection) Error() string {
	if r.Reason != "" {
		return fmt.Sprintf("purchase rejected: %s (%s)", r.Code, r.Reason)
	}
	return "purchase rejected: " + r.Code
}

func reject(kind RejectionKind, code string) *Rejection {
	return &Rejection{Kind: kind, Code: code}
}

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
