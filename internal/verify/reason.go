package verify

// Reason is the stable code attached to a failed Outcome.
type Reason string

// Finality-pending reasons. Waiting can change the answer.
const (
	ReasonUnconfirmed               Reason = "unconfirmed"
	ReasonInsufficientConfirmations Reason = "insufficient_confirmations"
	ReasonNotValidated              Reason = "not_validated"
	ReasonPaymentPending            Reason = "payment_pending"
)

// Terminal reasons. The claimed transfer will never satisfy the policy.
const (
	ReasonUnsupportedChain           Reason = "unsupported_chain"
	ReasonRPCNotConfigured           Reason = "rpc_not_configured"
	ReasonTxFailed                   Reason = "tx_failed"
	ReasonMissingBlockNumber         Reason = "missing_blockNumber"
	ReasonBuyerMismatch              Reason = "buyer_mismatch"
	ReasonMissingTo                  Reason = "missing_to"
	ReasonTreasuryMismatch           Reason = "treasury_mismatch"
	ReasonInsufficientValue          Reason = "insufficient_value"
	ReasonNotPayment                 Reason = "not_payment"
	ReasonMissingDeliveredAmount     Reason = "missing_delivered_amount"
	ReasonUnsupportedDeliveredAmount Reason = "unsupported_delivered_amount"
	ReasonPaymentNotCompleted        Reason = "payment_not_completed"
	ReasonNonIntegerAmount           Reason = "non_integer_amount"
)

var retryableReasons = map[Reason]bool{
	ReasonUnconfirmed:               true,
	ReasonInsufficientConfirmations: true,
	ReasonNotValidated:              true,
	ReasonPaymentPending:            true,
}

// KnownReasons lists every reason a verifier in this module may return.
var KnownReasons = []Reason{
	ReasonUnconfirmed,
	ReasonInsufficientConfirmations,
	ReasonNotValidated,
	ReasonPaymentPending,
	ReasonUnsupportedChain,
	ReasonRPCNotConfigured,
	ReasonTxFailed,
	ReasonMissingBlockNumber,
	ReasonBuyerMismatch,
	ReasonMissingTo,
	ReasonTreasuryMismatch,
	ReasonInsufficientValue,
	ReasonNotPayment,
	ReasonMissingDeliveredAmount,
	ReasonUnsupportedDeliveredAmount,
	ReasonPaymentNotCompleted,
	ReasonNonIntegerAmount,
}

// Retryable reports whether the reason describes a finality-pending state.
// Unknown reasons are terminal.
func (r Reason) Retryable() bool {
	return retryableReasons[r]
}

func (r Reason) String() string {
	return string(r)
}
