package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/roach88/railverify/internal/verify"
)

func TestCreatePendingPurchase(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p := createTestPurchase(t, s, "0xbuyer", "listing-1", "0xhash1")
	if p.Status != StatusPending {
		t.Errorf("Status = %q, want pending", p.Status)
	}
	if p.ID == "" {
		t.Fatal("ID is empty")
	}

	got, err := s.GetPurchase(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPurchase() failed: %v", err)
	}
	if got.Buyer != "0xbuyer" || got.TxReference != "0xhash1" || got.AmountInt != "1000000000000000000" {
		t.Errorf("GetPurchase() = %+v", got)
	}
	if got.ChainID == nil || *got.ChainID != 1 {
		t.Errorf("ChainID = %v, want 1", got.ChainID)
	}
	if got.VerifiedConfirmations != nil || got.FinalizedAt != nil {
		t.Error("pending purchase has verification fields set")
	}
	if !got.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, p.CreatedAt)
	}
}

func TestCreatePendingPurchase_ReplayRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := createTestPurchase(t, s, "0xbuyer", "listing-1", "0xhash1")

	_, err := s.CreatePendingPurchase(ctx, NewPurchase{
		Buyer: "0xother", ListingID: "listing-2", PriceID: "p", Currency: "ETH", AmountInt: "1",
		Rail: verify.RailETH, ChainID: int64p(1), TxReference: "0xhash1",
	})
	if !errors.Is(err, ErrReplay) {
		t.Fatalf("second CreatePendingPurchase() err = %v, want ErrReplay", err)
	}

	// A failed purchase still burns its reference.
	if _, err := s.MarkPurchaseFailed(ctx, first.ID, verify.ReasonBuyerMismatch, nil); err != nil {
		t.Fatalf("MarkPurchaseFailed() failed: %v", err)
	}
	_, err = s.CreatePendingPurchase(ctx, NewPurchase{
		Buyer: "0xbuyer", ListingID: "listing-1", PriceID: "p", Currency: "ETH", AmountInt: "1",
		Rail: verify.RailETH, ChainID: int64p(1), TxReference: "0xhash1",
	})
	if !errors.Is(err, ErrReplay) {
		t.Errorf("after failure err = %v, want ErrReplay", err)
	}
}

func TestCreatePendingPurchase_SameHashOtherChainAllowed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	createTestPurchase(t, s, "0xbuyer", "listing-1", "0xhash1")

	_, err := s.CreatePendingPurchase(ctx, NewPurchase{
		Buyer: "0xbuyer", ListingID: "listing-1", PriceID: "p", Currency: "ETH", AmountInt: "1",
		Rail: verify.RailETH, ChainID: int64p(8453), TxReference: "0xhash1",
	})
	if err != nil {
		t.Errorf("CreatePendingPurchase() on another chain failed: %v", err)
	}
}

func TestCreatePendingPurchase_ConcurrentReplay(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		replayed int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreatePendingPurchase(ctx, NewPurchase{
				Buyer: "0xbuyer", ListingID: "listing-1", PriceID: "p", Currency: "BTC", AmountInt: "1",
				Rail: verify.RailBTC, TxReference: "deadbeef",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrReplay):
				replayed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || replayed != attempts-1 {
		t.Errorf("created=%d replayed=%d, want 1 and %d", created, replayed, attempts-1)
	}
}

func TestListPendingPurchases_LeastRecentFirstWithLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestPurchase(t, s, "0xbuyer", "listing-1", "0xa")
	b := createTestPurchase(t, s, "0xbuyer", "listing-2", "0xb")
	c := createTestPurchase(t, s, "0xbuyer", "listing-3", "0xc")

	if _, err := s.CompletePurchase(ctx, testCompletion(b.ID)); err != nil {
		t.Fatalf("CompletePurchase() failed: %v", err)
	}

	pending, err := s.ListPendingPurchases(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingPurchases() failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != a.ID || pending[1].ID != c.ID {
		t.Errorf("pending = %v, want [%s %s]", ids(pending), a.ID, c.ID)
	}

	limited, err := s.ListPendingPurchases(ctx, 1)
	if err != nil {
		t.Fatalf("ListPendingPurchases() failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != a.ID {
		t.Errorf("limited = %v, want [%s]", ids(limited), a.ID)
	}
}

func TestTouchPurchase_RotatesPendingQueue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestPurchase(t, s, "0xbuyer", "listing-1", "0xa")
	b := createTestPurchase(t, s, "0xbuyer", "listing-2", "0xb")
	c := createTestPurchase(t, s, "0xbuyer", "listing-3", "0xc")

	for _, id := range []string{a.ID, b.ID} {
		touched, err := s.TouchPurchase(ctx, id)
		if err != nil {
			t.Fatalf("TouchPurchase(%s) failed: %v", id, err)
		}
		if !touched {
			t.Errorf("TouchPurchase(%s) = false, want true", id)
		}
	}

	pending, err := s.ListPendingPurchases(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingPurchases() failed: %v", err)
	}
	if got := ids(pending); len(got) != 3 || got[0] != c.ID || got[1] != a.ID || got[2] != b.ID {
		t.Errorf("pending = %v, want [%s %s %s]", got, c.ID, a.ID, b.ID)
	}

	limited, err := s.ListPendingPurchases(ctx, 1)
	if err != nil {
		t.Fatalf("ListPendingPurchases() failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != c.ID {
		t.Errorf("limited = %v, want [%s]", ids(limited), c.ID)
	}

	got, err := s.GetPurchase(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetPurchase() failed: %v", err)
	}
	if !got.UpdatedAt.After(a.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want after %v", got.UpdatedAt, a.UpdatedAt)
	}
	if !got.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("CreatedAt changed: %v, want %v", got.CreatedAt, a.CreatedAt)
	}
}

func TestTouchPurchase_IgnoresFinalAndMissing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p := createTestPurchase(t, s, "0xbuyer", "listing-1", "0xa")
	if _, err := s.MarkPurchaseFailed(ctx, p.ID, verify.ReasonBuyerMismatch, nil); err != nil {
		t.Fatalf("MarkPurchaseFailed() failed: %v", err)
	}
	before, err := s.GetPurchase(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPurchase() failed: %v", err)
	}

	touched, err := s.TouchPurchase(ctx, p.ID)
	if err != nil {
		t.Fatalf("TouchPurchase() failed: %v", err)
	}
	if touched {
		t.Error("TouchPurchase() touched a failed purchase")
	}
	after, err := s.GetPurchase(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPurchase() failed: %v", err)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", after.UpdatedAt, before.UpdatedAt)
	}

	touched, err = s.TouchPurchase(ctx, "missing")
	if err != nil {
		t.Fatalf("TouchPurchase(missing) failed: %v", err)
	}
	if touched {
		t.Error("TouchPurchase(missing) = true")
	}
}

func TestListPurchasesByBuyer_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestPurchase(t, s, "0xbuyer", "listing-1", "0xa")
	createTestPurchase(t, s, "0xsomeoneelse", "listing-1", "0xb")
	c := createTestPurchase(t, s, "0xbuyer", "listing-2", "0xc")

	got, err := s.ListPurchasesByBuyer(ctx, "0xbuyer")
	if err != nil {
		t.Fatalf("ListPurchasesByBuyer() failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != c.ID || got[1].ID != a.ID {
		t.Errorf("got %v, want [%s %s]", ids(got), c.ID, a.ID)
	}

	none, err := s.ListPurchasesByBuyer(ctx, "0xnobody")
	if err != nil {
		t.Fatalf("ListPurchasesByBuyer() failed: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("got %v, want empty slice", none)
	}
}

func TestMarkPurchaseFailed_Guarded(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p := createTestPurchase(t, s, "0xbuyer", "listing-1", "0xa")

	ok, err := s.MarkPurchaseFailed(ctx, p.ID, verify.ReasonTreasuryMismatch, map[string]any{"to": "0xwrong"})
	if err != nil || !ok {
		t.Fatalf("MarkPurchaseFailed() = %v, %v; want true, nil", ok, err)
	}

	got, err := s.GetPurchase(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPurchase() failed: %v", err)
	}
	if got.Status != StatusFailed || got.FailReason != "treasury_mismatch" || got.FinalizedAt == nil {
		t.Errorf("got %+v", got)
	}
	if got.VerifiedMeta["to"] != "0xwrong" {
		t.Errorf("VerifiedMeta = %v", got.VerifiedMeta)
	}

	ok, err = s.MarkPurchaseFailed(ctx, p.ID, verify.ReasonBuyerMismatch, nil)
	if err != nil || ok {
		t.Errorf("second MarkPurchaseFailed() = %v, %v; want false, nil", ok, err)
	}
	got, _ = s.GetPurchase(ctx, p.ID)
	if got.FailReason != "treasury_mismatch" {
		t.Errorf("FailReason overwritten: %q", got.FailReason)
	}

	if _, err := s.CompletePurchase(ctx, testCompletion(p.ID)); !errors.Is(err, ErrNotPending) {
		t.Errorf("CompletePurchase(failed) err = %v, want ErrNotPending", err)
	}
	if _, err := s.GetEntitlement(ctx, "0xbuyer", "listing-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("entitlement granted for failed purchase: %v", err)
	}
}

func TestMarkPurchaseFailed_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.MarkPurchaseFailed(context.Background(), "missing", verify.ReasonTxFailed, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCompletePurchase_GrantsEntitlementAtomically(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p := createTestPurchase(t, s, "0xbuyer", "listing-1", "0xa")

	ent, err := s.CompletePurchase(ctx, testCompletion(p.ID))
	if err != nil {
		t.Fatalf("CompletePurchase() failed: %v", err)
	}
	if ent.Buyer != "0xbuyer" || ent.ListingID != "listing-1" || ent.GrantedByPurchaseID != p.ID {
		t.Errorf("entitlement = %+v", ent)
	}

	got, err := s.GetPurchase(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPurchase() failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.VerifiedConfirmations == nil || *got.VerifiedConfirmations != 3 {
		t.Errorf("VerifiedConfirmations = %v, want 3", got.VerifiedConfirmations)
	}
	if got.VerifiedAmountInt != "1000000000000000000" || got.CanonicalID != "0xabc" {
		t.Errorf("verified fields = %q %q", got.VerifiedAmountInt, got.CanonicalID)
	}

	stored, err := s.GetEntitlement(ctx, "0xbuyer", "listing-1")
	if err != nil {
		t.Fatalf("GetEntitlement() failed: %v", err)
	}
	if stored.GrantedByPurchaseID != p.ID {
		t.Errorf("GrantedByPurchaseID = %q, want %q", stored.GrantedByPurchaseID, p.ID)
	}
}

func TestCompletePurchase_SecondAttemptIsNotPending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p := createTestPurchase(t, s, "0xbuyer", "listing-1", "0xa")
	if _, err := s.CompletePurchase(ctx, testCompletion(p.ID)); err != nil {
		t.Fatalf("CompletePurchase() failed: %v", err)
	}
	before, _ := s.GetEntitlement(ctx, "0xbuyer", "listing-1")

	_, err := s.CompletePurchase(ctx, testCompletion(p.ID))
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("second CompletePurchase() err = %v, want ErrNotPending", err)
	}

	after, _ := s.GetEntitlement(ctx, "0xbuyer", "listing-1")
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("rolled-back completion touched the entitlement")
	}
}

func TestCompletePurchase_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.CompletePurchase(context.Background(), testCompletion("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCompletePurchase_ConcurrentExactlyOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p := createTestPurchase(t, s, "0xbuyer", "listing-1", "0xa")

	const racers = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		completed  int
		notPending int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompletePurchase(ctx, testCompletion(p.ID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case errors.Is(err, ErrNotPending):
				notPending++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if completed != 1 || notPending != racers-1 {
		t.Errorf("completed=%d notPending=%d, want 1 and %d", completed, notPending, racers-1)
	}

	var rows int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM purchases WHERE status = 'completed'`).Scan(&rows); err != nil {
		t.Fatalf("count purchases failed: %v", err)
	}
	if rows != 1 {
		t.Errorf("completed rows = %d, want 1", rows)
	}

	if n := countEntitlements(t, s, "listing-1"); n != 1 {
		t.Errorf("entitlements = %d, want 1", n)
	}
}

func TestCompletePurchase_RacingFailure(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p := createTestPurchase(t, s, "0xbuyer", "listing-1", "0xa")

	var (
		wg        sync.WaitGroup
		failedOK  bool
		completeE error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		failedOK, _ = s.MarkPurchaseFailed(ctx, p.ID, verify.ReasonTxFailed, nil)
	}()
	go func() {
		defer wg.Done()
		_, completeE = s.CompletePurchase(ctx, testCompletion(p.ID))
	}()
	wg.Wait()

	got, err := s.GetPurchase(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPurchase() failed: %v", err)
	}
	_, entErr := s.GetEntitlement(ctx, "0xbuyer", "listing-1")

	switch got.Status {
	case StatusCompleted:
		if failedOK || completeE != nil || entErr != nil {
			t.Errorf("completed but failedOK=%v completeErr=%v entErr=%v", failedOK, completeE, entErr)
		}
	case StatusFailed:
		if !failedOK || !errors.Is(completeE, ErrNotPending) || !errors.Is(entErr, ErrNotFound) {
			t.Errorf("failed but failedOK=%v completeErr=%v entErr=%v", failedOK, completeE, entErr)
		}
	default:
		t.Errorf("status = %q, want a final state", got.Status)
	}
}

func TestPurchaseStatus_Final(t *testing.T) {
	if StatusPending.Final() {
		t.Error("pending should not be final")
	}
	for _, st := range []PurchaseStatus{StatusCompleted, StatusFailed, StatusRefunded, StatusCanceled} {
		if !st.Final() {
			t.Errorf("%s should be final", st)
		}
	}
}

func ids(ps []Purchase) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
