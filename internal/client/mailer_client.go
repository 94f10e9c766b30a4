package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/beatforge/api/internal/config"
)

// Notifier defines the interface for buyer notifications. Delivery itself
// is handled by an external relay; this only hands the message over.
type Notifier interface {
	SendDownloadLink(ctx context.Context, msg *DownloadNotification) error
	SendVerificationCode(ctx context.Context, msg *VerificationNotification) error
}

// DownloadNotification is the message posted to the mail relay after a
// completed purchase.
type DownloadNotification struct {
	Kind        string    `json:"kind"`
	To          string    `json:"to"`
	BeatTitle   string    `json:"beatTitle"`
	Tier        string    `json:"tier"`
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
	FromName    string    `json:"fromName,omitempty"`
}

// VerificationNotification carries a buyer contact verification code to
// the relay.
type VerificationNotification struct {
	Kind      string    `json:"kind"`
	To        string    `json:"to"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	FromName  string    `json:"fromName,omitempty"`
}

// MailerClient posts notifications to the configured mail relay service.
type MailerClient struct {
	httpClient *http.Client
	serviceURL string
	apiKey     string
	fromName   string
}

// NewMailerClient creates a new mail relay client.
func NewMailerClient(cfg *config.MailerConfig) *MailerClient {
	return &MailerClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		serviceURL: cfg.ServiceURL,
		apiKey:     cfg.APIKey,
		fromName:   cfg.FromName,
	}
}

// SendDownloadLink relays the purchase notification. When no relay is
// configured the message is logged and dropped, mirroring how other
// optional clients degrade.
func (c *MailerClient) SendDownloadLink(ctx context.Context, msg *DownloadNotification) error {
	if !c.IsConfigured() {
		log.Printf("[Mailer] not configured — skipping notification to %s", msg.To)
		return nil
	}
	msg.Kind = "download"
	if msg.FromName == "" {
		msg.FromName = c.fromName
	}
	return c.post(ctx, msg)
}

// SendVerificationCode relays a buyer contact verification code.
func (c *MailerClient) SendVerificationCode(ctx context.Context, msg *VerificationNotification) error {
	if !c.IsConfigured() {
		log.Printf("[Mailer] not configured — skipping verification code to %s", msg.To)
		return nil
	}
	msg.Kind = "verification"
	if msg.FromName == "" {
		msg.FromName = c.fromName
	}
	return c.post(ctx, msg)
}

func (c *MailerClient) post(ctx context.Context, payload any) error {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log.Printf("[Mailer] → POST %s", c.serviceURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	log.Printf("[Mailer] ← %d POST %s", resp.StatusCode, c.serviceURL)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mailer error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// IsConfigured returns true if a relay URL is set.
func (c *MailerClient) IsConfigured() bool {
	return c.serviceURL != ""
}
