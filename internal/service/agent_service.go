package service

import (
	"context"
	"errors"
	"strings"

	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/store"
)

// AgentService keeps the local producer profile mirror in sync. The
// identity service owns the canonical record; only the fields the
// fulfillment pipeline reads are mirrored here.
type AgentService struct {
	store *store.Store
}

func NewAgentService(st *store.Store) *AgentService {
	return &AgentService{store: st}
}

// Profile returns the mirrored profile, reputation included.
func (s *AgentService) Profile(ctx context.Context, agentID string) (*model.Agent, error) {
	return s.store.GetAgent(ctx, agentID)
}

// UpdateProfile writes the mirror. Reputation is never writable through
// this path; the upsert preserves the stored value.
func (s *AgentService) UpdateProfile(ctx context.Context, agentID string, req *model.UpdateAgentRequest) (*model.Agent, error) {
	genres := normalizeGenres(req.Genres)
	if len(genres) == 0 {
		return nil, &ValidationError{Message: "at least one genre must be declared"}
	}

	agent := &model.Agent{
		ID:                agentID,
		Name:              strings.TrimSpace(req.Name),
		Genres:            genres,
		DefaultPrice:      req.DefaultPrice,
		DefaultStemsPrice: req.DefaultStemsPrice,
		PayoutEmail:       strings.TrimSpace(req.PayoutEmail),
	}
	if existing, err := s.store.GetAgent(ctx, agentID); err == nil {
		agent.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := s.store.UpsertAgent(ctx, agent); err != nil {
		return nil, err
	}
	return s.store.GetAgent(ctx, agentID)
}

func normalizeGenres(genres []string) []string {
	seen := make(map[string]bool, len(genres))
	out := make([]string, 0, len(genres))
	for _, g := range genres {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}
