package rails

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/railverify/internal/verify"
)

// PiConfig configures a PiVerifier.
type PiConfig struct {
	BaseURL string
	APIKey  string
	// StrictCompletion makes a failed completion handshake an error unless
	// the platform reports the payment as already completed.
	StrictCompletion bool
	Timeout          time.Duration
	HTTPClient       *http.Client
}

// PiVerifier verifies payments through the Pi platform REST API. The
// transaction reference is the platform payment id.
type PiVerifier struct {
	base             string
	apiKey           string
	strictCompletion bool
	timeout          time.Duration
	http             *http.Client
}

// NewPiVerifier builds a platform verifier.
func NewPiVerifier(cfg PiConfig) *PiVerifier {
	return &PiVerifier{
		base:             strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:           cfg.APIKey,
		strictCompletion: cfg.StrictCompletion,
		timeout:          cfg.Timeout,
		http:             httpClientOrDefault(cfg.HTTPClient),
	}
}

type piPayment struct {
	Identifier string          `json:"identifier"`
	Status     json.RawMessage `json:"status"`
	Amount     json.RawMessage `json:"amount"`
	ToAddress  string          `json:"to_address"`
}

var (
	piSuccessStatuses = map[string]bool{"approved": true, "completed": true, "complete": true}
	piPendingStatuses = map[string]bool{"": true, "pending": true, "created": true, "submitted": true}
)

// Verify reads the payment, checks status, receiver and amount, then runs the
// completion handshake. Success always reports one confirmation.
func (v *PiVerifier) Verify(ctx context.Context, req verify.VerifyRequest, expect verify.Expectation) (verify.Outcome, error) {
	minimum, err := verify.ParseAtomic(expect.MinAtomic)
	if err != nil {
		return verify.Outcome{}, fmt.Errorf("pi verify: min amount: %w", err)
	}

	id := strings.TrimSpace(req.TxReference)
	path := "/payments/" + url.PathEscape(id)

	var payment piPayment
	if err := v.do(ctx, http.MethodGet, path, "get_payment", &payment); err != nil {
		return verify.Outcome{}, err
	}

	status := strings.ToLower(piStatus(payment.Status))
	meta := map[string]any{"status": status}

	switch {
	case piSuccessStatuses[status]:
	case piPendingStatuses[status]:
		return verify.Failure(verify.ReasonPaymentPending, meta), nil
	default:
		return verify.Failure(verify.ReasonPaymentNotCompleted, meta), nil
	}

	if treasury := strings.TrimSpace(expect.Treasury); treasury != "" {
		meta["to_address"] = payment.ToAddress
		if !strings.EqualFold(strings.TrimSpace(payment.ToAddress), treasury) {
			return verify.Failure(verify.ReasonTreasuryMismatch, meta), nil
		}
	}

	amountText := piAmount(payment.Amount)
	amount, err := verify.ParseAtomic(amountText)
	if err != nil {
		meta["amount"] = amountText
		return verify.Failure(verify.ReasonNonIntegerAmount, meta), nil
	}
	meta["amount"] = amount.String()
	if !verify.MeetsMinimum(amount, minimum) {
		return verify.Failure(verify.ReasonInsufficientValue, meta), nil
	}

	completion, err := v.complete(ctx, path)
	meta["completion"] = completion
	if err != nil {
		if v.strictCompletion {
			return verify.Outcome{}, err
		}
		meta["completion_error"] = err.Error()
	}

	canonical := payment.Identifier
	if canonical == "" {
		canonical = id
	}
	return verify.Success(canonical, amount.String(), 1, meta), nil
}

// complete posts the completion handshake and classifies the answer as
// "ok", "already_completed" or "error".
func (v *PiVerifier) complete(ctx context.Context, paymentPath string) (string, error) {
	err := v.do(ctx, http.MethodPost, paymentPath+"/complete", "complete_payment", nil)
	if err == nil {
		return "ok", nil
	}
	if alreadyCompleted(err) {
		return "already_completed", nil
	}
	return "error", err
}

func (v *PiVerifier) do(ctx context.Context, method, path, op string, out any) error {
	ctx, cancel := withTimeout(ctx, v.timeout)
	defer cancel()

	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, v.base+path, body)
	if err != nil {
		return fmt.Errorf("pi %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Key "+v.apiKey)

	resp, err := v.http.Do(req)
	if err != nil {
		return &verify.TransportError{Rail: verify.RailPi, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &verify.TransportError{Rail: verify.RailPi, Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error        string `json:"error"`
			ErrorMessage string `json:"error_message"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return &verify.UpstreamError{Rail: verify.RailPi, Op: op, Code: e.Error, Message: e.ErrorMessage}
		}
		return &verify.StatusError{Rail: verify.RailPi, Op: op, StatusCode: resp.StatusCode, Body: truncate(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &verify.DecodeError{Rail: verify.RailPi, Op: op, Body: truncate(raw), Err: err}
	}
	return nil
}

func alreadyCompleted(err error) bool {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "already_completed") || strings.Contains(msg, "already completed") {
		return true
	}
	var se *verify.StatusError
	if errors.As(err, &se) {
		body := strings.ToLower(se.Body)
		return strings.Contains(body, "already_completed") || strings.Contains(body, "already completed")
	}
	return false
}

// piStatus accepts a plain string status or an object of boolean flags as
// returned by newer API versions.
func piStatus(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var flags struct {
		DeveloperApproved   bool `json:"developer_approved"`
		TransactionVerified bool `json:"transaction_verified"`
		DeveloperCompleted  bool `json:"developer_completed"`
		Cancelled           bool `json:"cancelled"`
		UserCancelled       bool `json:"user_cancelled"`
	}
	if json.Unmarshal(raw, &flags) != nil {
		return ""
	}
	switch {
	case flags.Cancelled || flags.UserCancelled:
		return "cancelled"
	case flags.DeveloperCompleted:
		return "completed"
	case flags.DeveloperApproved && flags.TransactionVerified:
		return "approved"
	default:
		return "pending"
	}
}

// piAmount renders the amount field as text. A missing amount reads as "0".
func piAmount(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "0"
	}
	if raw[0] == '"' {
		if s, err := strconv.Unquote(string(raw)); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return string(raw)
}
