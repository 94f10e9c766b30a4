package model

import "time"

// GenerateBeatRequest starts one provider generation (two sibling beats).
// ProviderKey is passed through to the provider once and never persisted
// beyond the short-lived continuation cache.
type GenerateBeatRequest struct {
	Title              string  `json:"title" validate:"required,min=2,max=80"`
	Genre              string  `json:"genre" validate:"required,min=2,max=32"`
	Style              string  `json:"style" validate:"max=200"`
	Tempo              int     `json:"tempo" validate:"omitempty,min=40,max=240"`
	PriceOverride      float64 `json:"priceOverride" validate:"omitempty,min=0"`
	StemsPriceOverride float64 `json:"stemsPriceOverride" validate:"omitempty,min=0"`
	SecondaryTitle     string  `json:"secondaryTitle" validate:"max=80"`
	ProviderKey        string  `json:"providerKey" validate:"required,min=8"`
}

// GenerateBeatResponse echoes the accepted task and created siblings.
type GenerateBeatResponse struct {
	TaskID string    `json:"taskId"`
	Beats  []Summary `json:"beats"`
	Genres []string  `json:"genres"`
}

// PostProcessRequest re-triggers the lossless/stems jobs for a beat.
type PostProcessRequest struct {
	ProviderKey string `json:"providerKey" validate:"required,min=8"`
}

// PostProcessResponse reports per-job dispatch outcomes.
type PostProcessResponse struct {
	BeatID         string    `json:"beatId"`
	LosslessStatus JobStatus `json:"losslessStatus"`
	StemsStatus    JobStatus `json:"stemsStatus"`
	Message        string    `json:"message,omitempty"`
}

// UpdateAgentRequest syncs the local mirror of the producer profile.
// Identity itself is owned by the external identity service.
type UpdateAgentRequest struct {
	Name              string   `json:"name" validate:"max=80"`
	Genres            []string `json:"genres" validate:"required,min=1,max=10,dive,min=2,max=32"`
	DefaultPrice      float64  `json:"defaultPrice" validate:"omitempty,min=0"`
	DefaultStemsPrice float64  `json:"defaultStemsPrice" validate:"omitempty,min=0"`
	PayoutEmail       string   `json:"payoutEmail" validate:"omitempty,email"`
}

// RequestVerificationRequest asks for a single-use buyer contact code.
type RequestVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// CreateOrderRequest opens a payment order for one beat at one tier.
// The price is resolved server-side; none is accepted from the client.
type CreateOrderRequest struct {
	BeatID           string       `json:"beatId" validate:"required,uuid4"`
	BuyerEmail       string       `json:"buyerEmail" validate:"required,email"`
	Tier             PurchaseTier `json:"tier" validate:"required,oneof=track stems"`
	VerificationCode string       `json:"verificationCode" validate:"required,min=4,max=12"`
}

// CreateOrderResponse returns the processor order to approve client-side.
type CreateOrderResponse struct {
	PurchaseID    string  `json:"purchaseId"`
	PayPalOrderID string  `json:"paypalOrderId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// CaptureOrderRequest completes payment for an approved order.
type CaptureOrderRequest struct {
	OrderID string `json:"orderId" validate:"required,min=4"`
}

// CaptureOrderResponse carries the minted download capability.
type CaptureOrderResponse struct {
	PurchaseID  string    `json:"purchaseId"`
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// StemsManifest is the stems-tier download payload.
type StemsManifest struct {
	BeatID   string            `json:"beatId"`
	Title    string            `json:"title"`
	TrackURL string            `json:"trackUrl"`
	Stems    map[string]string `json:"stems"`
}

// TaskEvent is pushed to websocket subscribers of a provider task.
type TaskEvent struct {
	TaskID string        `json:"taskId"`
	Stage  CallbackStage `json:"stage"`
	Beats  []Summary     `json:"beats,omitempty"`
	At     time.Time     `json:"at"`
}
