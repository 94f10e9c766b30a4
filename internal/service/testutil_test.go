package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/beatforge/api/internal/client"
	"github.com/beatforge/api/internal/config"
	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{PublicURL: "https://api.test"},
		Limits: config.LimitsConfig{
			RequestsPerHour: 5,
			BeatsPerDay:     20,
			PriceFloor:      0.99,
			PlatformFeePct:  15.0,
			DownloadCap:     5,
		},
		PayPal:  config.PayPalConfig{Currency: "USD"},
		Suno:    config.SunoConfig{APIKey: "platform-key"},
		Secrets: config.SecretsConfig{CallbackSecret: "cb-secret", DownloadSecret: "dl-secret"},
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(&config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedAgent(t *testing.T, st *store.Store, id string) *model.Agent {
	t.Helper()
	agent := &model.Agent{
		ID:                id,
		Name:              "Producer",
		Genres:            []string{"techno", "trap"},
		DefaultPrice:      9.99,
		DefaultStemsPrice: 24.99,
		PayoutEmail:       "payout@example.com",
	}
	if err := st.UpsertAgent(context.Background(), agent); err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return agent
}

func seedBeat(t *testing.T, st *store.Store, agentID, taskID string, status model.BeatStatus) *model.Beat {
	t.Helper()
	beat := &model.Beat{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		TaskID:     taskID,
		Title:      "Test Beat",
		Genre:      "techno",
		Price:      9.99,
		StemsPrice: 24.99,
		Status:     status,
	}
	if status == model.BeatStatusComplete {
		beat.ProviderTrackID = "trk-" + beat.ID[:8]
		beat.AudioURL = "https://cdn.example.com/" + beat.ID + ".mp3"
	}
	if err := st.CreateBeat(context.Background(), beat); err != nil {
		t.Fatalf("seed beat: %v", err)
	}
	return beat
}

// fakeMusicGenerator records dispatched provider calls.
type fakeMusicGenerator struct {
	taskID    string
	err       error
	generated []*client.GenerateTrackRequest
	lossless  []*client.SecondaryJobRequest
	stems     []*client.SecondaryJobRequest
	keys      []string
}

func (f *fakeMusicGenerator) GenerateTrack(_ context.Context, apiKey string, req *client.GenerateTrackRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, apiKey)
	f.generated = append(f.generated, req)
	return f.taskID, nil
}

func (f *fakeMusicGenerator) RequestLossless(_ context.Context, apiKey string, req *client.SecondaryJobRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, apiKey)
	f.lossless = append(f.lossless, req)
	return "job-" + req.AudioID, nil
}

func (f *fakeMusicGenerator) RequestStemSplit(_ context.Context, apiKey string, req *client.SecondaryJobRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, apiKey)
	f.stems = append(f.stems, req)
	return "job-" + req.AudioID, nil
}

// fakeNotifier captures messages handed to the mail relay.
type fakeNotifier struct {
	downloads []*client.DownloadNotification
	codes     []*client.VerificationNotification
}

func (f *fakeNotifier) SendDownloadLink(_ context.Context, msg *client.DownloadNotification) error {
	f.downloads = append(f.downloads, msg)
	return nil
}

func (f *fakeNotifier) SendVerificationCode(_ context.Context, msg *client.VerificationNotification) error {
	f.codes = append(f.codes, msg)
	return nil
}

// fakePayments scripts processor outcomes.
type fakePayments struct {
	orderID       string
	captureStatus string
	captureAmount float64
	captureErr    error
	captures      []string
	payouts       []float64
}

func (f *fakePayments) CreateOrder(_ context.Context, amount float64, currency, description string) (string, error) {
	if f.orderID == "" {
		return "", fmt.Errorf("no order scripted")
	}
	return f.orderID, nil
}

func (f *fakePayments) CaptureOrder(_ context.Context, orderID string) (*client.CaptureResult, error) {
	f.captures = append(f.captures, orderID)
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return &client.CaptureResult{
		Status:         f.captureStatus,
		CaptureID:      "cap-" + orderID,
		CapturedAmount: f.captureAmount,
		PayerEmail:     "buyer@example.com",
	}, nil
}

func (f *fakePayments) SendPayout(_ context.Context, receiverEmail string, amount float64, currency, note string) error {
	f.payouts = append(f.payouts, amount)
	return nil
}
