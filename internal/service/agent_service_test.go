package service

import (
	"context"
	"errors"
	"testing"

	"github.com/beatforge/api/internal/model"
)

func TestUpdateProfileNormalizesGenres(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	svc := NewAgentService(st)

	agent, err := svc.UpdateProfile(ctx, "agent-1", &model.UpdateAgentRequest{
		Name:         "Producer",
		Genres:       []string{" Techno ", "techno", "Trap"},
		DefaultPrice: 9.99,
		PayoutEmail:  "payout@example.com",
	})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if len(agent.Genres) != 2 || agent.Genres[0] != "techno" || agent.Genres[1] != "trap" {
		t.Fatalf("genres = %v", agent.Genres)
	}
}

func TestUpdateProfileKeepsReputation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	svc := NewAgentService(st)

	if _, err := svc.UpdateProfile(ctx, "agent-1", &model.UpdateAgentRequest{
		Genres: []string{"techno"},
	}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := st.IncrementReputation(ctx, "agent-1", 11); err != nil {
		t.Fatalf("reputation: %v", err)
	}

	agent, err := svc.UpdateProfile(ctx, "agent-1", &model.UpdateAgentRequest{
		Genres:      []string{"techno", "house"},
		PayoutEmail: "new@example.com",
	})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if agent.Reputation != 11 {
		t.Fatalf("reputation = %d, want 11", agent.Reputation)
	}
	if agent.PayoutEmail != "new@example.com" {
		t.Fatalf("payout email = %s", agent.PayoutEmail)
	}
}

func TestUpdateProfileRejectsEmptyGenres(t *testing.T) {
	st := newTestStore(t)
	svc := NewAgentService(st)

	var validation *ValidationError
	_, err := svc.UpdateProfile(context.Background(), "agent-1", &model.UpdateAgentRequest{
		Genres: []string{"  ", ""},
	})
	if !errors.As(err, &validation) {
		t.Fatalf("want validation error, got %v", err)
	}
}
