package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/railverify/internal/metrics"
	"github.com/roach88/railverify/internal/store"
	"github.com/roach88/railverify/internal/verify"
)

// DefaultVerifyTimeout bounds one verifier call when no timeout is configured.
const DefaultVerifyTimeout = 20 * time.Second

// ReasonTimeout marks a purchase left pending because verification ran out
// of time.
const ReasonTimeout verify.Reason = "timeout"

// Call paths, used as metric labels and in logs.
const (
	PathSync   = "sync"
	PathWorker = "worker"
)

// Store is the persistence the Service needs. *store.Store implements it.
type Store interface {
	GetRail(ctx context.Context, rail verify.Rail, chainID *int64) (verify.RailConfig, error)
	ActivePrice(ctx context.Context, listingID, currency string) (store.Price, error)
	CreatePendingPurchase(ctx context.Context, np store.NewPurchase) (store.Purchase, error)
	GetPurchase(ctx context.Context, id string) (store.Purchase, error)
	MarkPurchaseFailed(ctx context.Context, id string, reason verify.Reason, meta map[string]any) (bool, error)
	CompletePurchase(ctx context.Context, c store.Completion) (store.Entitlement, error)
}

// VerifierFactory builds the verifier for a rail configuration row.
// *rails.Registry implements it.
type VerifierFactory interface {
	Build(cfg verify.RailConfig) (verify.Verifier, error)
}

// Disposition is what happened to a purchase after one settle step.
type Disposition string

const (
	DispositionCompleted    Disposition = "completed"
	DispositionFailed       Disposition = "failed"
	DispositionPending      Disposition = "pending"
	DispositionSkipped      Disposition = "skipped"
	DispositionAlreadyFinal Disposition = "already_final"
)

// Result describes a settled verification attempt.
type Result struct {
	Disposition Disposition
	Purchase    store.Purchase
	// Entitlement is set when Disposition is DispositionCompleted.
	Entitlement *store.Entitlement
	Outcome     verify.Outcome
	// Reason explains a pending, failed or skipped disposition.
	Reason verify.Reason
}

// Input is a client's claim that a transfer pays for a listing.
type Input struct {
	Rail           string
	ListingID      string
	Buyer          string
	TxReference    string
	ChainID        *int64
	Memo           string
	DestinationTag *uint32
}

// Service verifies and finalizes purchases.
type Service struct {
	store         Store
	factory       VerifierFactory
	logger        *slog.Logger
	verifyTimeout time.Duration
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithVerifyTimeout bounds each verifier call.
func WithVerifyTimeout(d time.Duration) Option {
	return func(s *Service) { s.verifyTimeout = d }
}

// NewService creates a Service.
func NewService(st Store, factory VerifierFactory, opts ...Option) *Service {
	s := &Service{
		store:         st,
		factory:       factory,
		logger:        slog.Default(),
		verifyTimeout: DefaultVerifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify runs the request-time flow for one claim.
//
// It returns a Result with DispositionCompleted or DispositionPending, a
// *Rejection for terminal client-visible refusals, or another error for
// infrastructure trouble (the purchase, if created, stays pending).
func (s *Service) Verify(ctx context.Context, in Input) (Result, error) {
	in = in.sanitized()
	if in.ListingID == "" || in.TxReference == "" || in.Buyer == "" {
		return Result{}, reject(KindBadRequest, CodeInvalidRequest)
	}

	rail, err := verify.ParseRail(in.Rail)
	if err != nil {
		return Result{}, reject(KindBadRequest, CodeUnsupportedRail)
	}
	if rail.UsesChainID() && (in.ChainID == nil || *in.ChainID <= 0) {
		return Result{}, reject(KindBadRequest, CodeChainIDRequired)
	}
	if !rail.UsesChainID() {
		in.ChainID = nil
	}

	cfg, err := s.store.GetRail(ctx, rail, in.ChainID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, reject(KindBadRequest, CodeRailNotConfigured)
	}
	if err != nil {
		return Result{}, fmt.Errorf("verify purchase: %w", err)
	}
	if !cfg.Enabled {
		return Result{}, reject(KindBadRequest, CodeRailDisabled)
	}

	price, err := s.store.ActivePrice(ctx, in.ListingID, cfg.Currency)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, reject(KindNotFound, CodePriceNotFound)
	}
	if err != nil {
		return Result{}, fmt.Errorf("verify purchase: %w", err)
	}

	// Configuration errors surface before any purchase row exists.
	verifier, err := s.factory.Build(cfg)
	if err != nil {
		return Result{}, fmt.Errorf("verify purchase: build verifier for %s: %w", cfg.Key(), err)
	}

	p, err := s.store.CreatePendingPurchase(ctx, store.NewPurchase{
		Buyer:       in.Buyer,
		ListingID:   in.ListingID,
		PriceID:     price.ID,
		Currency:    price.Currency,
		AmountInt:   price.AmountInt,
		Rail:        rail,
		ChainID:     in.ChainID,
		TxReference: CanonicalReference(rail, in.TxReference),
		Metadata:    in.metadata(),
	})
	if errors.Is(err, store.ErrReplay) {
		return Result{}, reject(KindConflict, CodeTxAlreadyUsed)
	}
	if err != nil {
		return Result{}, fmt.Errorf("verify purchase: %w", err)
	}

	s.logger.Debug("purchase created",
		"purchase_id", p.ID,
		"rail", cfg.Key(),
		"listing_id", p.ListingID,
	)

	outcome, verr := s.runVerifier(ctx, verifier, p, cfg)
	res, err := s.settle(ctx, p, cfg, outcome, verr, PathSync)
	if err != nil {
		return res, fmt.Errorf("verify purchase %s: %w", p.ID, err)
	}

	switch res.Disposition {
	case DispositionFailed:
		return res, &Rejection{
			Kind:       KindBadRequest,
			Code:       CodePaymentNotVerified,
			Reason:     res.Reason,
			PurchaseID: p.ID,
			Meta:       outcome.Meta,
		}
	case DispositionAlreadyFinal:
		return res, &Rejection{Kind: KindConflict, Code: CodePurchaseNotPending, PurchaseID: p.ID}
	}
	return res, nil
}

// Reconcile re-verifies one pending purchase using the amount locked on the
// purchase row. Rails that are now missing or disabled are skipped and the
// purchase stays pending.
func (s *Service) Reconcile(ctx context.Context, p store.Purchase) (Result, error) {
	if p.Status.Final() {
		return Result{Disposition: DispositionAlreadyFinal, Purchase: p}, nil
	}

	cfg, err := s.store.GetRail(ctx, p.Rail, p.ChainID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Disposition: DispositionSkipped, Purchase: p, Reason: CodeRailNotConfigured}, nil
	}
	if err != nil {
		return Result{Disposition: DispositionPending, Purchase: p}, fmt.Errorf("reconcile %s: %w", p.ID, err)
	}
	if !cfg.Enabled {
		return Result{Disposition: DispositionSkipped, Purchase: p, Reason: CodeRailDisabled}, nil
	}

	verifier, err := s.factory.Build(cfg)
	if err != nil {
		return Result{Disposition: DispositionSkipped, Purchase: p}, fmt.Errorf("reconcile %s: build verifier for %s: %w", p.ID, cfg.Key(), err)
	}

	outcome, verr := s.runVerifier(ctx, verifier, p, cfg)
	res, err := s.settle(ctx, p, cfg, outcome, verr, PathWorker)
	if err != nil {
		return res, fmt.Errorf("reconcile %s: %w", p.ID, err)
	}
	return res, nil
}

// runVerifier calls the verifier once for a purchase, bounded by the
// service's verify timeout.
func (s *Service) runVerifier(ctx context.Context, v verify.Verifier, p store.Purchase, cfg verify.RailConfig) (verify.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()

	req := verify.VerifyRequest{
		Rail:           p.Rail,
		ListingID:      p.ListingID,
		Buyer:          p.Buyer,
		TxReference:    p.TxReference,
		ChainID:        p.ChainID,
		Memo:           metaString(p.Metadata, "memo"),
		DestinationTag: metaUint32(p.Metadata, "destination_tag"),
	}

	start := time.Now()
	outcome, err := v.Verify(ctx, req, cfg.Expectation(p.AmountInt))
	metrics.VerificationDuration.WithLabelValues(string(p.Rail)).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.VerificationsTotal.WithLabelValues(string(p.Rail), "error", verify.ErrorKind(err)).Inc()
	case outcome.OK:
		metrics.VerificationsTotal.WithLabelValues(string(p.Rail), "success", "").Inc()
	default:
		metrics.VerificationsTotal.WithLabelValues(string(p.Rail), "failure", string(outcome.Reason)).Inc()
	}
	return outcome, err
}

// settle applies one verification result to a pending purchase:
//   - timeout: stays pending
//   - other infrastructure error: stays pending, error returned
//   - retryable failure or success below threshold: stays pending
//   - terminal failure: guarded transition to failed
//   - success at or above threshold: guarded completion with entitlement
//
// A guarded transition that finds the purchase already final yields
// DispositionAlreadyFinal.
func (s *Service) settle(ctx context.Context, p store.Purchase, cfg verify.RailConfig, outcome verify.Outcome, verr error, path string) (Result, error) {
	log := s.logger.With("purchase_id", p.ID, "rail", cfg.Key(), "path", path)
	res := Result{Disposition: DispositionPending, Purchase: p, Outcome: outcome}

	if verr != nil {
		if verify.IsTimeout(verr) {
			log.Warn("verification timed out, leaving pending", "error", verr)
			res.Reason = ReasonTimeout
			return res, nil
		}
		log.Warn("verification infrastructure error, leaving pending", "error", verr, "kind", verify.ErrorKind(verr))
		return res, verr
	}

	if !outcome.OK {
		res.Reason = outcome.Reason
		if outcome.Retryable() {
			log.Info("purchase awaiting finality", "reason", outcome.Reason)
			return res, nil
		}

		ok, err := s.store.MarkPurchaseFailed(ctx, p.ID, outcome.Reason, outcome.Meta)
		if err != nil {
			return res, err
		}
		if !ok {
			metrics.FinalizationConflictsTotal.WithLabelValues(path).Inc()
			log.Info("purchase already finalized elsewhere")
			return s.reload(ctx, res, DispositionAlreadyFinal)
		}
		metrics.FinalizationsTotal.WithLabelValues(string(store.StatusFailed), path).Inc()
		log.Info("purchase failed", "reason", outcome.Reason)
		return s.reload(ctx, res, DispositionFailed)
	}

	if outcome.Confirmations < cfg.MinConfirmations {
		res.Reason = verify.ReasonInsufficientConfirmations
		log.Info("purchase awaiting finality",
			"reason", res.Reason,
			"confirmations", outcome.Confirmations,
			"required", cfg.MinConfirmations,
		)
		return res, nil
	}

	ent, err := s.store.CompletePurchase(ctx, store.Completion{
		PurchaseID:            p.ID,
		CanonicalID:           outcome.CanonicalID,
		VerifiedAmountInt:     outcome.AmountAtomic,
		VerifiedConfirmations: outcome.Confirmations,
		Meta:                  outcome.Meta,
	})
	if errors.Is(err, store.ErrNotPending) {
		metrics.FinalizationConflictsTotal.WithLabelValues(path).Inc()
		log.Info("purchase already finalized elsewhere")
		return s.reload(ctx, res, DispositionAlreadyFinal)
	}
	if err != nil {
		return res, err
	}

	metrics.FinalizationsTotal.WithLabelValues(string(store.StatusCompleted), path).Inc()
	log.Info("purchase completed", "confirmations", outcome.Confirmations, "amount", outcome.AmountAtomic)

	res.Entitlement = &ent
	return s.reload(ctx, res, DispositionCompleted)
}

// reload refreshes the purchase after a transition so callers see the
// stored state.
func (s *Service) reload(ctx context.Context, res Result, d Disposition) (Result, error) {
	res.Disposition = d
	p, err := s.store.GetPurchase(ctx, res.Purchase.ID)
	if err != nil {
		return res, fmt.Errorf("reload purchase: %w", err)
	}
	res.Purchase = p
	return res, nil
}

// CanonicalReference normalizes a transaction reference so case variants of
// the same hash hit the replay guard.
func CanonicalReference(rail verify.Rail, ref string) string {
	switch rail {
	case verify.RailETH, verify.RailBTC:
		return strings.ToLower(ref)
	case verify.RailXRP:
		return strings.ToUpper(ref)
	default:
		return ref
	}
}

func (in Input) sanitized() Input {
	in.Rail = strings.ToLower(sanitize(in.Rail, 16))
	in.ListingID = sanitize(in.ListingID, maxListingIDLen)
	in.Buyer = NormalizeBuyer(in.Buyer)
	in.TxReference = sanitize(in.TxReference, maxTxRefLen)
	in.Memo = sanitize(in.Memo, maxMemoLen)
	return in
}

func (in Input) metadata() map[string]any {
	m := map[string]any{}
	if in.Memo != "" {
		m["memo"] = in.Memo
	}
	if in.DestinationTag != nil {
		m["destination_tag"] = *in.DestinationTag
	}
	return m
}

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// metaUint32 reads a number stored in purchase metadata, which may be a Go
// integer before storage or a json.Number after.
func metaUint32(m map[string]any, key string) *uint32 {
	var n uint64
	switch v := m[key].(type) {
	case uint32:
		n = uint64(v)
	case int:
		n = uint64(v)
	case json.Number:
		parsed, err := strconv.ParseUint(v.String(), 10, 32)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	if n > 1<<32-1 {
		return nil
	}
	out := uint32(n)
	return &out
}
