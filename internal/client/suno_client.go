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

// MusicGenerator defines the interface for the generation provider. Every
// call carries the caller's own API key; the platform never owns the
// generation credential.
type MusicGenerator interface {
	GenerateTrack(ctx context.Context, apiKey string, req *GenerateTrackRequest) (string, error)
	RequestLossless(ctx context.Context, apiKey string, req *SecondaryJobRequest) (string, error)
	RequestStemSplit(ctx context.Context, apiKey string, req *SecondaryJobRequest) (string, error)
}

// ProviderError carries the upstream status so handlers can pass it through.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Body)
}

// SunoClient implements MusicGenerator for the Suno-compatible API.
type SunoClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// GenerateTrackRequest starts one generation. Instrumental is forced on by
// the orchestrator; the provider returns two track variants per task.
type GenerateTrackRequest struct {
	Title        string `json:"title"`
	Style        string `json:"style,omitempty"`
	Model        string `json:"model,omitempty"`
	Instrumental bool   `json:"instrumental"`
	CustomMode   bool   `json:"customMode"`
	CallbackURL  string `json:"callBackUrl"`
}

// SecondaryJobRequest dispatches a lossless conversion or stem split for
// one finished track.
type SecondaryJobRequest struct {
	TaskID      string `json:"taskId"`
	AudioID     string `json:"audioId"`
	Type        string `json:"type,omitempty"`
	CallbackURL string `json:"callBackUrl"`
}

// providerEnvelope is the provider's standard response wrapper.
type providerEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// NewSunoClient creates a new generation provider client.
func NewSunoClient(cfg *config.SunoConfig) *SunoClient {
	return &SunoClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
	}
}

// GenerateTrack starts music generation and returns the provider task id.
func (c *SunoClient) GenerateTrack(ctx context.Context, apiKey string, req *GenerateTrackRequest) (string, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	return c.dispatch(ctx, apiKey, "/api/v1/generate", req)
}

// RequestLossless starts the lossless (WAV) conversion job.
func (c *SunoClient) RequestLossless(ctx context.Context, apiKey string, req *SecondaryJobRequest) (string, error) {
	return c.dispatch(ctx, apiKey, "/api/v1/wav/generate", req)
}

// RequestStemSplit starts the stem separation job.
func (c *SunoClient) RequestStemSplit(ctx context.Context, apiKey string, req *SecondaryJobRequest) (string, error) {
	if req.Type == "" {
		req.Type = "split_stem"
	}
	return c.dispatch(ctx, apiKey, "/api/v1/vocal-removal/generate", req)
}

// dispatch sends a POST request and extracts the accepted task id.
func (c *SunoClient) dispatch(ctx context.Context, apiKey, endpoint string, body interface{}) (string, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	log.Printf("[Suno API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Suno API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Suno API] ← %d %s %s — %s", resp.StatusCode, req.Method, req.URL.String(), string(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ProviderError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var env providerEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	// The provider wraps application errors in a 200 with a non-200 code.
	if env.Code != 0 && env.Code != 200 {
		return "", &ProviderError{StatusCode: env.Code, Body: env.Msg}
	}
	if env.Data.TaskID == "" {
		return "", fmt.Errorf("provider accepted the request but returned no task id")
	}
	return env.Data.TaskID, nil
}

// IsConfigured returns true if the client has a base URL to talk to.
func (c *SunoClient) IsConfigured() bool {
	return c.baseURL != ""
}
