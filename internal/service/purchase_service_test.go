package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/store"
)

func seedVerification(t *testing.T, st *store.Store, email, code string) {
	t.Helper()
	if err := st.CreateContactVerification(context.Background(), email, code, time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("seed verification: %v", err)
	}
}

func newPurchaseService(st *store.Store, pay *fakePayments) *PurchaseService {
	cfg := testConfig()
	return NewPurchaseService(st, pay, NewTokenSigner(cfg.Secrets.DownloadSecret), nil, nil, cfg)
}

func orderRequest(beatID string) *model.CreateOrderRequest {
	return &model.CreateOrderRequest{
		BeatID:           beatID,
		BuyerEmail:       "buyer@example.com",
		Tier:             model.TierTrack,
		VerificationCode: "1234",
	}
}

func TestRequestVerificationRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	cfg := testConfig()
	mailer := &fakeNotifier{}
	svc := NewPurchaseService(st, &fakePayments{orderID: "PP-1"}, NewTokenSigner(cfg.Secrets.DownloadSecret), nil, mailer, cfg)

	if err := svc.RequestVerification(ctx, "buyer@example.com"); err != nil {
		t.Fatalf("request verification: %v", err)
	}
	if len(mailer.codes) != 1 || len(mailer.codes[0].Code) != 6 {
		t.Fatalf("relayed codes = %+v", mailer.codes)
	}

	// The relayed code opens exactly one order.
	req := orderRequest(beat.ID)
	req.VerificationCode = mailer.codes[0].Code
	if _, err := svc.CreateOrder(ctx, req); err != nil {
		t.Fatalf("create order with relayed code: %v", err)
	}
}

func TestCreateOrderHappyPath(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	seedVerification(t, st, "buyer@example.com", "1234")
	svc := newPurchaseService(st, &fakePayments{orderID: "PP-1"})

	resp, err := svc.CreateOrder(ctx, orderRequest(beat.ID))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if resp.PayPalOrderID != "PP-1" || resp.Amount != 9.99 || resp.Currency != "USD" {
		t.Fatalf("resp = %+v", resp)
	}

	p, err := st.GetPurchase(ctx, resp.PurchaseID)
	if err != nil {
		t.Fatalf("get purchase: %v", err)
	}
	if p.PayPalStatus != model.PurchasePending {
		t.Fatalf("status = %s", p.PayPalStatus)
	}
	// 15% platform fee, rounded to cents.
	if p.PlatformFee != 1.50 || p.SellerShare != 8.49 {
		t.Fatalf("split = %.2f / %.2f", p.PlatformFee, p.SellerShare)
	}
}

func TestCreateOrderRequiresVerification(t *testing.T) {
	st := newTestStore(t)
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	svc := newPurchaseService(st, &fakePayments{orderID: "PP-1"})

	var validation *ValidationError
	if _, err := svc.CreateOrder(context.Background(), orderRequest(beat.ID)); !errors.As(err, &validation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestCreateOrderVerificationSingleUse(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	other := seedBeat(t, st, "agent-1", "task-2", model.BeatStatusComplete)
	seedVerification(t, st, "buyer@example.com", "1234")
	svc := newPurchaseService(st, &fakePayments{orderID: "PP-1"})

	if _, err := svc.CreateOrder(ctx, orderRequest(beat.ID)); err != nil {
		t.Fatalf("first order: %v", err)
	}
	var validation *ValidationError
	if _, err := svc.CreateOrder(ctx, orderRequest(other.ID)); !errors.As(err, &validation) {
		t.Fatalf("code should be burned, got %v", err)
	}
}

func TestCreateOrderGuards(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	svc := newPurchaseService(st, &fakePayments{orderID: "PP-1"})

	sold := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	if err := st.MarkBeatSold(ctx, sold.ID); err != nil {
		t.Fatalf("sell: %v", err)
	}
	seedVerification(t, st, "buyer@example.com", "1234")
	var precondition *PreconditionError
	if _, err := svc.CreateOrder(ctx, orderRequest(sold.ID)); !errors.As(err, &precondition) {
		t.Fatalf("sold beat should fail precondition, got %v", err)
	}

	generating := seedBeat(t, st, "agent-1", "task-2", model.BeatStatusGenerating)
	seedVerification(t, st, "buyer@example.com", "2222")
	req := orderRequest(generating.ID)
	req.VerificationCode = "2222"
	if _, err := svc.CreateOrder(ctx, req); !errors.As(err, &precondition) {
		t.Fatalf("unfinished beat should fail precondition, got %v", err)
	}

	// Stems tier requires a finished stem split.
	complete := seedBeat(t, st, "agent-1", "task-3", model.BeatStatusComplete)
	seedVerification(t, st, "buyer@example.com", "3333")
	req = orderRequest(complete.ID)
	req.Tier = model.TierStems
	req.VerificationCode = "3333"
	if _, err := svc.CreateOrder(ctx, req); !errors.As(err, &precondition) {
		t.Fatalf("stems tier without stems should fail, got %v", err)
	}
}

func TestCreateOrderStemsTierPricing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	if err := st.CompleteStems(ctx, beat.ID, map[string]string{
		"instrumental": "https://cdn.example.com/i.mp3",
		"drums":        "https://cdn.example.com/d.mp3",
	}, nil); err != nil {
		t.Fatalf("complete stems: %v", err)
	}
	seedVerification(t, st, "buyer@example.com", "1234")
	svc := newPurchaseService(st, &fakePayments{orderID: "PP-1"})

	req := orderRequest(beat.ID)
	req.Tier = model.TierStems
	resp, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if resp.Amount != 24.99 {
		t.Fatalf("amount = %.2f, want stems price", resp.Amount)
	}
}

func captureSetup(t *testing.T, st *store.Store, pay *fakePayments) (*model.Beat, *model.CreateOrderResponse, *PurchaseService) {
	t.Helper()
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	seedVerification(t, st, "buyer@example.com", "1234")
	svc := newPurchaseService(st, pay)
	resp, err := svc.CreateOrder(ctx, orderRequest(beat.ID))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return beat, resp, svc
}

func TestCaptureHappyPath(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	pay := &fakePayments{orderID: "PP-1", captureStatus: "COMPLETED", captureAmount: 9.99}
	beat, order, svc := captureSetup(t, st, pay)

	resp, err := svc.Capture(ctx, order.PayPalOrderID)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !strings.Contains(resp.DownloadURL, "https://api.test/download?token=") {
		t.Fatalf("download url = %s", resp.DownloadURL)
	}

	p, _ := st.GetPurchase(ctx, resp.PurchaseID)
	if p.PayPalStatus != model.PurchaseCompleted || p.CaptureID == "" {
		t.Fatalf("purchase = %+v", p)
	}
	got, _ := st.GetBeat(ctx, beat.ID)
	if !got.Sold {
		t.Fatal("beat not marked sold")
	}
	agent, _ := st.GetAgent(ctx, "agent-1")
	if agent.Reputation != 10 {
		t.Fatalf("reputation = %d, want 10", agent.Reputation)
	}
	if len(pay.payouts) != 1 || pay.payouts[0] != 8.49 {
		t.Fatalf("payouts = %v", pay.payouts)
	}
}

func TestCaptureAmountMismatchFailsSafely(t *testing.T) {
	// A single cent short must void the sale. 4.99 vs 4.98 sits within
	// binary float noise of 0.01, so an epsilon comparison would let it
	// through; amounts are compared at cent precision instead.
	cases := []struct{ price, captured float64 }{
		{4.99, 4.98},
		{9.99, 10.00},
		{9.99, 5.00},
	}
	for _, tc := range cases {
		st := newTestStore(t)
		ctx := context.Background()
		seedAgent(t, st, "agent-1")
		priced := &model.Beat{
			ID:              uuid.New().String(),
			AgentID:         "agent-1",
			TaskID:          "task-2",
			Title:           "Priced Beat",
			Genre:           "techno",
			Price:           tc.price,
			Status:          model.BeatStatusComplete,
			ProviderTrackID: "trk-priced",
			AudioURL:        "https://cdn.example.com/priced.mp3",
		}
		if err := st.CreateBeat(ctx, priced); err != nil {
			t.Fatalf("seed beat: %v", err)
		}
		seedVerification(t, st, "buyer@example.com", "1234")
		pay := &fakePayments{orderID: "PP-1", captureStatus: "COMPLETED", captureAmount: tc.captured}
		svc := newPurchaseService(st, pay)

		order, err := svc.CreateOrder(ctx, orderRequest(priced.ID))
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		if order.Amount != tc.price {
			t.Fatalf("order amount = %.2f, want %.2f", order.Amount, tc.price)
		}

		var integrity *IntegrityError
		if _, err := svc.Capture(ctx, order.PayPalOrderID); !errors.As(err, &integrity) {
			t.Fatalf("captured %.2f against %.2f: want integrity error, got %v", tc.captured, tc.price, err)
		}

		p, _ := st.GetPurchase(ctx, order.PurchaseID)
		if p.PayPalStatus != model.PurchaseFailed {
			t.Fatalf("captured %.2f: purchase status = %s, want failed", tc.captured, p.PayPalStatus)
		}
		if p.DownloadToken != "" {
			t.Fatalf("captured %.2f: token minted despite mismatch", tc.captured)
		}
		got, _ := st.GetBeat(ctx, priced.ID)
		if got.Sold {
			t.Fatalf("captured %.2f: beat sold despite amount mismatch", tc.captured)
		}
	}
}

func TestCaptureRepeatReturnsStoredCapability(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	pay := &fakePayments{orderID: "PP-1", captureStatus: "COMPLETED", captureAmount: 9.99}
	_, order, svc := captureSetup(t, st, pay)

	first, err := svc.Capture(ctx, order.PayPalOrderID)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	second, err := svc.Capture(ctx, order.PayPalOrderID)
	if err != nil {
		t.Fatalf("repeat capture: %v", err)
	}
	if second.DownloadURL != first.DownloadURL {
		t.Fatalf("repeat minted a new capability: %s vs %s", second.DownloadURL, first.DownloadURL)
	}
	// No double payout, no double reputation.
	if len(pay.payouts) != 1 {
		t.Fatalf("payouts = %v", pay.payouts)
	}
	agent, _ := st.GetAgent(ctx, "agent-1")
	if agent.Reputation != 10 {
		t.Fatalf("reputation = %d", agent.Reputation)
	}
}

func TestCaptureSecondBuyerLosesRace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	pay := &fakePayments{orderID: "PP-1", captureStatus: "COMPLETED", captureAmount: 9.99}
	svc := newPurchaseService(st, pay)

	seedVerification(t, st, "buyer@example.com", "1234")
	firstOrder, err := svc.CreateOrder(ctx, orderRequest(beat.ID))
	if err != nil {
		t.Fatalf("first order: %v", err)
	}
	pay.orderID = "PP-2"
	seedVerification(t, st, "rival@example.com", "5678")
	req := orderRequest(beat.ID)
	req.BuyerEmail = "rival@example.com"
	req.VerificationCode = "5678"
	secondOrder, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("second order: %v", err)
	}

	if _, err := svc.Capture(ctx, firstOrder.PayPalOrderID); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	var integrity *IntegrityError
	if _, err := svc.Capture(ctx, secondOrder.PayPalOrderID); !errors.As(err, &integrity) {
		t.Fatalf("second capture should observe the sale, got %v", err)
	}

	p, _ := st.GetPurchase(ctx, secondOrder.PurchaseID)
	if p.PayPalStatus != model.PurchaseFailed {
		t.Fatalf("losing purchase status = %s", p.PayPalStatus)
	}
	// The losing buyer is never charged: the sold check runs before the
	// processor call.
	if len(pay.captures) != 1 {
		t.Fatalf("processor captures = %v, want the winner only", pay.captures)
	}
}

func TestCaptureWithdrawnBeatFailsBeforeCharge(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	pay := &fakePayments{orderID: "PP-1", captureStatus: "COMPLETED", captureAmount: 9.99}
	beat, order, svc := captureSetup(t, st, pay)

	if err := st.SoftDeleteBeat(ctx, beat.ID, beat.AgentID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var precondition *PreconditionError
	if _, err := svc.Capture(ctx, order.PayPalOrderID); !errors.As(err, &precondition) {
		t.Fatalf("want precondition error, got %v", err)
	}
	if len(pay.captures) != 0 {
		t.Fatalf("processor called for a withdrawn beat: %v", pay.captures)
	}
	p, _ := st.GetPurchase(ctx, order.PurchaseID)
	if p.PayPalStatus != model.PurchaseFailed {
		t.Fatalf("purchase status = %s, want failed", p.PayPalStatus)
	}
}

func TestCaptureUnknownOrder(t *testing.T) {
	st := newTestStore(t)
	svc := newPurchaseService(st, &fakePayments{})
	if _, err := svc.Capture(context.Background(), "no-such-order"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}
