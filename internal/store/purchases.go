package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/beatforge/api/internal/model"
)

const purchaseColumns = `id, beat_id, buyer_email, tier, amount, platform_fee,
	seller_share, currency, paypal_order_id, paypal_status, capture_id,
	download_count, download_token, token_expires_at, created_at, updated_at`

func scanPurchase(row rowScanner) (*model.Purchase, error) {
	var (
		p                    model.Purchase
		tokenExpires         string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&p.ID, &p.BeatID, &p.BuyerEmail, &p.Tier, &p.Amount, &p.PlatformFee,
		&p.SellerShare, &p.Currency, &p.PayPalOrderID, &p.PayPalStatus,
		&p.CaptureID, &p.DownloadCount, &p.DownloadToken, &tokenExpires,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan purchase: %w", err)
	}
	if tokenExpires != "" {
		t := parseTime(tokenExpires)
		p.TokenExpiresAt = &t
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// CreatePurchase inserts a pending purchase row.
func (s *Store) CreatePurchase(ctx context.Context, p *model.Purchase) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	tokenExpires := ""
	if p.TokenExpiresAt != nil {
		tokenExpires = formatTime(*p.TokenExpiresAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO purchases (`+purchaseColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.BeatID, p.BuyerEmail, string(p.Tier), p.Amount, p.PlatformFee,
		p.SellerShare, p.Currency, p.PayPalOrderID, string(p.PayPalStatus),
		p.CaptureID, p.DownloadCount, p.DownloadToken, tokenExpires,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

// GetPurchase fetches one purchase by id.
func (s *Store) GetPurchase(ctx context.Context, id string) (*model.Purchase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`, id)
	return scanPurchase(row)
}

// GetPurchaseByOrderID fetches the purchase tied to a processor order.
func (s *Store) GetPurchaseByOrderID(ctx context.Context, orderID string) (*model.Purchase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE paypal_order_id = ?`, orderID)
	return scanPurchase(row)
}

// CompletePurchase transitions pending → completed exactly once, storing
// capture id and the minted download token. Returns ErrConflict when the
// row was not pending anymore.
func (s *Store) CompletePurchase(ctx context.Context, id, captureID, token string, tokenExpiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE purchases SET paypal_status = ?, capture_id = ?,
		 download_token = ?, token_expires_at = ?, updated_at = ?
		 WHERE id = ? AND paypal_status = ?`,
		string(model.PurchaseCompleted), captureID, token,
		formatTime(tokenExpiresAt), formatTime(time.Now()),
		id, string(model.PurchasePending))
	if err != nil {
		return fmt.Errorf("complete purchase: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// FailPurchase marks a pending purchase failed (amount mismatch or
// processor-reported failure).
func (s *Store) FailPurchase(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE purchases SET paypal_status = ?, updated_at = ?
		 WHERE id = ? AND paypal_status = ?`,
		string(model.PurchaseFailed), formatTime(time.Now()),
		id, string(model.PurchasePending))
	if err != nil {
		return fmt.Errorf("fail purchase: %w", err)
	}
	return nil
}

// RefreshPurchaseToken replaces an expired capability on a completed
// purchase (re-capture support).
func (s *Store) RefreshPurchaseToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE purchases SET download_token = ?, token_expires_at = ?, updated_at = ?
		 WHERE id = ? AND paypal_status = ?`,
		token, formatTime(expiresAt), formatTime(time.Now()),
		id, string(model.PurchaseCompleted))
	if err != nil {
		return fmt.Errorf("refresh purchase token: %w", err)
	}
	return nil
}

// SweepStalePending expires pending purchases older than the cutoff.
func (s *Store) SweepStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE purchases SET paypal_status = ?, updated_at = ?
		 WHERE paypal_status = ? AND created_at < ?`,
		string(model.PurchaseExpired), formatTime(time.Now()),
		string(model.PurchasePending), formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("sweep stale purchases: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ConsumeDownloadUse increments the usage counter if it is still under the
// cap, returning the new count. ErrConflict means the cap was hit.
func (s *Store) ConsumeDownloadUse(ctx context.Context, id string, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE purchases SET download_count = download_count + 1, updated_at = ?
		 WHERE id = ? AND download_count < ?`,
		formatTime(time.Now()), id, limit)
	if err != nil {
		return 0, fmt.Errorf("consume download use: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrConflict
	}
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT download_count FROM purchases WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("read download count: %w", err)
	}
	return count, nil
}

// RollbackDownloadUse returns one usage unit after an aborted in-flight
// response. Guarded on the exact count we advanced to, so concurrent
// rollbacks cannot double-decrement.
func (s *Store) RollbackDownloadUse(ctx context.Context, id string, fromCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE purchases SET download_count = download_count - 1, updated_at = ?
		 WHERE id = ? AND download_count = ?`,
		formatTime(time.Now()), id, fromCount)
	if err != nil {
		return fmt.Errorf("rollback download use: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// CreateContactVerification stores a single-use verification record.
// Delivery of the code belongs to the external relay.
func (s *Store) CreateContactVerification(ctx context.Context, email, code string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_verifications (email, code, used, expires_at)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT(email, code) DO UPDATE SET used = 0, expires_at = excluded.expires_at`,
		email, code, formatTime(expiresAt))
	if err != nil {
		return fmt.Errorf("create contact verification: %w", err)
	}
	return nil
}

// ConsumeContactVerification burns a live verification record. Single use:
// the guarded update flips used exactly once.
func (s *Store) ConsumeContactVerification(ctx context.Context, email, code string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contact_verifications SET used = 1
		 WHERE email = ? AND code = ? AND used = 0 AND expires_at > ?`,
		email, code, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("consume contact verification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}
