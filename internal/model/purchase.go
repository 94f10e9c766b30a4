package model

import "time"

// Purchase is one buyer's attempt to acquire one beat at one tier. Amount
// is fixed at order creation from server-held prices and never read from
// client input again; capture verifies the processor-reported amount
// against it.
type Purchase struct {
	ID         string       `json:"id"`
	BeatID     string       `json:"beatId"`
	BuyerEmail string       `json:"buyerEmail"`
	Tier       PurchaseTier `json:"tier"`

	Amount      float64 `json:"amount"`
	PlatformFee float64 `json:"platformFee"`
	SellerShare float64 `json:"sellerShare"`
	Currency    string  `json:"currency"`

	PayPalOrderID string         `json:"paypalOrderId"`
	PayPalStatus  PurchaseStatus `json:"paypalStatus"`
	CaptureID     string         `json:"captureId,omitempty"`

	DownloadCount  int        `json:"downloadCount"`
	DownloadToken  string     `json:"-"`
	TokenExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ContactVerification is a short-lived, single-use record proving the
// buyer controls the contact address. Creation/delivery is handled by an
// external verification service; this row is only consumed here.
type ContactVerification struct {
	Email     string
	Code      string
	Used      bool
	ExpiresAt time.Time
}
