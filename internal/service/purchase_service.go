package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/beatforge/api/internal/client"
	"github.com/beatforge/api/internal/config"
	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/store"
)

const (
	// purchaseTokenTTL is the lifetime of a minted download capability.
	purchaseTokenTTL = 72 * time.Hour
	// pendingPurchaseWindow is how long an unapproved order may sit
	// pending before the opportunistic sweep expires it.
	pendingPurchaseWindow = time.Hour
	// verificationTTL is the single-use contact code lifetime.
	verificationTTL = 10 * time.Minute
)

// PurchaseService owns the buy side: order creation at server-held
// prices, at-most-once capture, and the post-capture side effects.
type PurchaseService struct {
	store     *store.Store
	paypal    client.PaymentProcessor
	tokens    *TokenSigner
	tasks     *asynq.Client
	mailer    client.Notifier
	limits    config.LimitsConfig
	currency  string
	publicURL string
}

func NewPurchaseService(st *store.Store, paypal client.PaymentProcessor, tokens *TokenSigner, tasks *asynq.Client, mailer client.Notifier, cfg *config.Config) *PurchaseService {
	return &PurchaseService{
		store:     st,
		paypal:    paypal,
		tokens:    tokens,
		tasks:     tasks,
		mailer:    mailer,
		limits:    cfg.Limits,
		currency:  cfg.PayPal.Currency,
		publicURL: cfg.Server.PublicURL,
	}
}

// RequestVerification issues a single-use contact code and hands it to
// the mail relay. The code never appears in the response.
func (s *PurchaseService) RequestVerification(ctx context.Context, email string) error {
	code, err := verificationCode()
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}
	expiresAt := time.Now().Add(verificationTTL)
	if err := s.store.CreateContactVerification(ctx, email, code, expiresAt); err != nil {
		return fmt.Errorf("store verification: %w", err)
	}
	if s.mailer == nil {
		return nil
	}
	if err := s.mailer.SendVerificationCode(ctx, &client.VerificationNotification{
		To:        email,
		Code:      code,
		ExpiresAt: expiresAt,
	}); err != nil {
		return fmt.Errorf("relay verification code: %w", err)
	}
	return nil
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// CreateOrder opens a payment order for one beat at one tier. The amount
// is resolved entirely from server-held prices; client-sent prices do
// not exist in the request shape.
func (s *PurchaseService) CreateOrder(ctx context.Context, req *model.CreateOrderRequest) (*model.CreateOrderResponse, error) {
	// Lazy sweep: abandoned orders expire in passing, not on a timer.
	if swept, err := s.store.SweepStalePending(ctx, time.Now().Add(-pendingPurchaseWindow)); err != nil {
		return nil, fmt.Errorf("sweep stale purchases: %w", err)
	} else if swept > 0 {
		log.Printf("Expired %d stale pending purchase(s)", swept)
	}

	if err := s.store.ConsumeContactVerification(ctx, req.BuyerEmail, req.VerificationCode); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, &ValidationError{Message: "verification code is invalid, expired, or already used"}
		}
		return nil, err
	}

	beat, err := s.store.GetBeat(ctx, req.BeatID)
	if err != nil {
		return nil, err
	}
	if beat.Deleted {
		return nil, store.ErrNotFound
	}
	if beat.Sold {
		return nil, preconditionf("beat has already been sold")
	}
	if !beat.HasAudio() {
		return nil, preconditionf("beat is not finished yet — it cannot be sold before generation completes")
	}
	if req.Tier == model.TierStems && !beat.HasStems() {
		return nil, preconditionf("stems are not ready for this beat — buy the track tier or wait for stem processing")
	}

	amount, err := s.resolveAmount(ctx, beat, req.Tier)
	if err != nil {
		return nil, err
	}
	fee := roundCents(amount * s.limits.PlatformFeePct / 100)
	sellerShare := roundCents(amount - fee)

	description := fmt.Sprintf("BeatForge: %s (%s)", beat.Title, req.Tier)
	orderID, err := s.paypal.CreateOrder(ctx, amount, s.currency, description)
	if err != nil {
		return nil, err
	}

	purchase := &model.Purchase{
		ID:            uuid.New().String(),
		BeatID:        beat.ID,
		BuyerEmail:    req.BuyerEmail,
		Tier:          req.Tier,
		Amount:        amount,
		PlatformFee:   fee,
		SellerShare:   sellerShare,
		Currency:      s.currency,
		PayPalOrderID: orderID,
		PayPalStatus:  model.PurchasePending,
	}
	if err := s.store.CreatePurchase(ctx, purchase); err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}

	return &model.CreateOrderResponse{
		PurchaseID:    purchase.ID,
		PayPalOrderID: orderID,
		Amount:        amount,
		Currency:      s.currency,
	}, nil
}

// Capture completes payment for an approved order and mints the download
// capability. Safe to call again for an already captured order: the
// stored (or re-minted) capability is returned instead of charging
// twice.
func (s *PurchaseService) Capture(ctx context.Context, orderID string) (*model.CaptureOrderResponse, error) {
	purchase, err := s.store.GetPurchaseByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch purchase.PayPalStatus {
	case model.PurchaseCompleted:
		return s.existingCapability(ctx, purchase)
	case model.PurchaseFailed, model.PurchaseExpired:
		return nil, preconditionf("purchase is no longer capturable — create a new order")
	}

	beat, err := s.store.GetBeat(ctx, purchase.BeatID)
	if err != nil {
		return nil, err
	}
	// Fail the common already-sold and withdrawn cases before the
	// processor call, so the buyer is never charged for a beat that
	// cannot be delivered. The CAS flip below stays the race authority.
	if beat.Sold {
		s.failPurchase(ctx, purchase.ID)
		return nil, &IntegrityError{Message: "beat was already sold to another buyer"}
	}
	if beat.Deleted {
		s.failPurchase(ctx, purchase.ID)
		return nil, preconditionf("beat is no longer available")
	}

	result, err := s.paypal.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if result.Status != "COMPLETED" {
		s.failPurchase(ctx, purchase.ID)
		return nil, preconditionf("payment was not completed by the processor (status %s)", result.Status)
	}
	// Amounts are compared at cent precision; any discrepancy, one cent
	// included, voids the sale.
	if math.Round(result.CapturedAmount*100) != math.Round(purchase.Amount*100) {
		s.failPurchase(ctx, purchase.ID)
		return nil, &IntegrityError{Message: fmt.Sprintf(
			"captured amount %.2f does not match order amount %.2f", result.CapturedAmount, purchase.Amount)}
	}

	// The sold flip is the at-most-once gate. The processor rejects a
	// second capture of the same order, so a conflict here means a
	// different purchase already took the beat. A store failure between
	// this flip and CompletePurchase strands a sold beat with a pending
	// purchase; the sweep expires the purchase and the captured payment
	// must be reconciled from the processor's records.
	if err := s.store.MarkBeatSold(ctx, beat.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.failPurchase(ctx, purchase.ID)
			return nil, &IntegrityError{Message: "beat was already sold to another buyer"}
		}
		return nil, err
	}

	expiresAt := time.Now().Add(purchaseTokenTTL)
	token := s.tokens.Mint(purchase.ID, beat.ID, expiresAt)
	if err := s.store.CompletePurchase(ctx, purchase.ID, result.CaptureID, token, expiresAt); err != nil {
		if errors.Is(err, store.ErrConflict) {
			fresh, ferr := s.store.GetPurchase(ctx, purchase.ID)
			if ferr != nil {
				return nil, ferr
			}
			return s.existingCapability(ctx, fresh)
		}
		return nil, err
	}

	s.settleSale(ctx, beat, purchase)

	return &model.CaptureOrderResponse{
		PurchaseID:  purchase.ID,
		DownloadURL: s.downloadURL(token),
		ExpiresAt:   expiresAt,
	}, nil
}

// failPurchase best-effort flips the purchase to failed; the caller's
// error carries the reason.
func (s *PurchaseService) failPurchase(ctx context.Context, id string) {
	if err := s.store.FailPurchase(ctx, id); err != nil {
		log.Printf("Warning: failed to mark purchase %s failed: %v", id, err)
	}
}

// existingCapability returns the stored download link for an already
// completed purchase, re-minting the token when it has lapsed.
func (s *PurchaseService) existingCapability(ctx context.Context, purchase *model.Purchase) (*model.CaptureOrderResponse, error) {
	token := purchase.DownloadToken
	expiresAt := time.Time{}
	if purchase.TokenExpiresAt != nil {
		expiresAt = *purchase.TokenExpiresAt
	}
	if token == "" || time.Now().After(expiresAt) {
		expiresAt = time.Now().Add(purchaseTokenTTL)
		token = s.tokens.Mint(purchase.ID, purchase.BeatID, expiresAt)
		if err := s.store.RefreshPurchaseToken(ctx, purchase.ID, token, expiresAt); err != nil {
			return nil, err
		}
	}
	return &model.CaptureOrderResponse{
		PurchaseID:  purchase.ID,
		DownloadURL: s.downloadURL(token),
		ExpiresAt:   expiresAt,
	}, nil
}

// settleSale runs the post-capture side effects. None of them may fail
// the capture itself; the sale is already final.
func (s *PurchaseService) settleSale(ctx context.Context, beat *model.Beat, purchase *model.Purchase) {
	if err := s.store.IncrementReputation(ctx, beat.AgentID, 10); err != nil {
		log.Printf("Warning: reputation credit failed for agent %s: %v", beat.AgentID, err)
	}

	agent, err := s.store.GetAgent(ctx, beat.AgentID)
	if err != nil {
		log.Printf("Warning: cannot load agent %s for payout: %v", beat.AgentID, err)
	} else if agent.PayoutEmail != "" {
		note := fmt.Sprintf("Sale of %q (%s tier)", beat.Title, purchase.Tier)
		if err := s.paypal.SendPayout(ctx, agent.PayoutEmail, purchase.SellerShare, purchase.Currency, note); err != nil {
			log.Printf("Warning: payout for purchase %s failed: %v", purchase.ID, err)
		}
	}

	s.enqueue(NewNotifyBuyerTask(purchase.ID))
	s.enqueue(NewArchiveBeatTask(beat.ID))
}

func (s *PurchaseService) enqueue(task *asynq.Task, err error) {
	if s.tasks == nil {
		return
	}
	if err != nil {
		log.Printf("Warning: failed to build background task: %v", err)
		return
	}
	if _, err := s.tasks.Enqueue(task); err != nil {
		log.Printf("Warning: failed to enqueue %s task: %v", task.Type(), err)
	}
}

// resolveAmount walks the price ladder: the beat's own price, then the
// agent default, then the platform floor.
func (s *PurchaseService) resolveAmount(ctx context.Context, beat *model.Beat, tier model.PurchaseTier) (float64, error) {
	price := beat.Price
	if tier == model.TierStems {
		price = beat.StemsPrice
	}
	if price >= s.limits.PriceFloor {
		return roundCents(price), nil
	}

	agent, err := s.store.GetAgent(ctx, beat.AgentID)
	if err != nil && err != store.ErrNotFound {
		return 0, err
	}
	if agent != nil {
		fallback := agent.DefaultPrice
		if tier == model.TierStems {
			fallback = agent.DefaultStemsPrice
		}
		if fallback >= s.limits.PriceFloor {
			return roundCents(fallback), nil
		}
	}
	return s.limits.PriceFloor, nil
}

func (s *PurchaseService) downloadURL(token string) string {
	return fmt.Sprintf("%s/download?token=%s", s.publicURL, token)
}

func roundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}
