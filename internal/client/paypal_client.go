package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beatforge/api/internal/config"
)

// PaymentProcessor defines the interface for payment operations.
type PaymentProcessor interface {
	CreateOrder(ctx context.Context, amount float64, currency, description string) (string, error)
	CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error)
	SendPayout(ctx context.Context, receiverEmail string, amount float64, currency, note string) error
}

// CaptureResult is the normalized outcome of a capture call.
type CaptureResult struct {
	Status         string
	CaptureID      string
	CapturedAmount float64
	PayerEmail     string
}

// PayPalClient implements PaymentProcessor against the PayPal REST API.
type PayPalClient struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalClient creates a new PayPal client.
func NewPayPalClient(cfg *config.PayPalConfig) *PayPalClient {
	return &PayPalClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:  cfg.BaseURL,
		clientID: cfg.ClientID,
		secret:   cfg.Secret,
	}
}

// token returns a cached OAuth2 client-credentials token, refreshing it
// shortly before expiry.
func (c *PayPalClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second)) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to unmarshal token: %w", err)
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// CreateOrder opens a CAPTURE-intent order for the exact amount and
// returns the PayPal order id.
func (c *PayPalClient) CreateOrder(ctx context.Context, amount float64, currency, description string) (string, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"description": description,
			"amount": map[string]string{
				"currency_code": currency,
				"value":         fmt.Sprintf("%.2f", amount),
			},
		}},
	}

	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/v2/checkout/orders", payload, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("paypal returned no order id")
	}
	return result.ID, nil
}

// CaptureOrder captures an approved order and normalizes the reported
// capture amount for server-side verification.
func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	var result struct {
		Status string `json:"status"`
		Payer  struct {
			EmailAddress string `json:"email_address"`
		} `json:"payer"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
					Amount struct {
						CurrencyCode string `json:"currency_code"`
						Value        string `json:"value"`
					} `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	endpoint := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(orderID))
	if err := c.post(ctx, endpoint, map[string]any{}, &result); err != nil {
		return nil, err
	}

	capture := &CaptureResult{
		Status:     result.Status,
		PayerEmail: result.Payer.EmailAddress,
	}
	for _, unit := range result.PurchaseUnits {
		for _, cpt := range unit.Payments.Captures {
			capture.CaptureID = cpt.ID
			if cpt.Status != "" {
				capture.Status = cpt.Status
			}
			amount, err := strconv.ParseFloat(cpt.Amount.Value, 64)
			if err != nil {
				return nil, fmt.Errorf("unparseable captured amount %q: %w", cpt.Amount.Value, err)
			}
			capture.CapturedAmount = amount
		}
	}
	return capture, nil
}

// SendPayout issues the seller's revenue share to their payout email.
func (c *PayPalClient) SendPayout(ctx context.Context, receiverEmail string, amount float64, currency, note string) error {
	payload := map[string]any{
		"sender_batch_header": map[string]string{
			"sender_batch_id": uuid.New().String(),
			"email_subject":   "You have a payout",
		},
		"items": []map[string]any{{
			"recipient_type": "EMAIL",
			"receiver":       receiverEmail,
			"note":           note,
			"amount": map[string]string{
				"currency": currency,
				"value":    fmt.Sprintf("%.2f", amount),
			},
		}},
	}

	var result struct {
		BatchHeader struct {
			PayoutBatchID string `json:"payout_batch_id"`
		} `json:"batch_header"`
	}
	return c.post(ctx, "/v1/payments/payouts", payload, &result)
}

// post sends an authenticated POST request and parses the JSON response.
func (c *PayPalClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	log.Printf("[PayPal] → POST %s", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[PayPal] ✗ POST %s — request failed: %v", req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[PayPal] ← %d POST %s", resp.StatusCode, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has credentials.
func (c *PayPalClient) IsConfigured() bool {
	return c.clientID != "" && c.secret != ""
}
